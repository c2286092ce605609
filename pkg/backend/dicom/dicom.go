// Package dicom answers geometry queries over a directory of DICOM
// slice files, deriving the volume's physical extents and spacings
// from the per-slice position and orientation tags. Like the native
// NIfTI reader it is read-only; mutation stays with the toolchain.
package dicom

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	godicom "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	log "github.com/sirupsen/logrus"

	"volcrop/internal/models"
	"volcrop/pkg/backend"
)

// sliceInfo is the geometry-relevant subset of one slice's tags.
// Directions follow the DICOM patient coordinate system (LPS), whose
// axes coincide with the RL, AP and IS head axes.
type sliceInfo struct {
	pos    [3]float64 // ImagePositionPatient, upper-left voxel center
	rowDir [3]float64 // direction along a row (increasing column)
	colDir [3]float64 // direction down a column (increasing row)

	rows, cols int

	rowSpacing float64 // PixelSpacing[0], between rows
	colSpacing float64 // PixelSpacing[1], between columns

	thickness float64 // SliceThickness, spacing fallback for single-slice series
}

// Series is the DICOM geometry backend. The zero value is ready to use.
type Series struct{}

// Geometry parses every readable DICOM file under the dataset
// directory and reduces the slice records to a volume geometry.
// Unparseable files are skipped with a debug log entry.
func (Series) Geometry(ctx context.Context, dataset string) (models.Geometry, error) {
	entries, err := os.ReadDir(dataset)
	if err != nil {
		return models.Geometry{}, err
	}

	var slices []sliceInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dataset, entry.Name())
		info, err := readSlice(path)
		if err != nil {
			log.WithFields(log.Fields{
				"file":  path,
				"error": err,
			}).Debug("Skipping non-slice file")
			continue
		}
		slices = append(slices, info)
	}
	if len(slices) == 0 {
		return models.Geometry{}, fmt.Errorf("no readable DICOM slices in %s", dataset)
	}

	geom, err := computeGeometry(slices)
	if err != nil {
		return models.Geometry{}, fmt.Errorf("%s: %w", dataset, err)
	}

	log.WithFields(log.Fields{
		"dataset": dataset,
		"slices":  len(slices),
	}).Debug("Read DICOM series geometry")
	return geom, nil
}

// SubsetTime is not supported by the series reader.
func (Series) SubsetTime(ctx context.Context, in, out string, tr models.TimeRange) error {
	return fmt.Errorf("time subset of %s: %w", in, backend.ErrNotSupported)
}

// Crop is not supported by the series reader.
func (Series) Crop(ctx context.Context, in, out string, margins [3]*models.Margins) error {
	return fmt.Errorf("crop of %s: %w", in, backend.ErrNotSupported)
}

// readSlice parses one DICOM file, skipping pixel data.
func readSlice(path string) (sliceInfo, error) {
	ds, err := godicom.ParseFile(path, nil, godicom.SkipPixelData())
	if err != nil {
		return sliceInfo{}, err
	}

	var info sliceInfo

	pos, err := tagFloats(ds, tag.ImagePositionPatient, 3)
	if err != nil {
		return sliceInfo{}, err
	}
	copy(info.pos[:], pos)

	orient, err := tagFloats(ds, tag.ImageOrientationPatient, 6)
	if err != nil {
		return sliceInfo{}, err
	}
	copy(info.rowDir[:], orient[:3])
	copy(info.colDir[:], orient[3:])

	spacing, err := tagFloats(ds, tag.PixelSpacing, 2)
	if err != nil {
		return sliceInfo{}, err
	}
	info.rowSpacing, info.colSpacing = spacing[0], spacing[1]

	info.rows, err = tagInt(ds, tag.Rows)
	if err != nil {
		return sliceInfo{}, err
	}
	info.cols, err = tagInt(ds, tag.Columns)
	if err != nil {
		return sliceInfo{}, err
	}

	// Optional tag, only used when the series has a single slice.
	if thick, err := tagFloats(ds, tag.SliceThickness, 1); err == nil {
		info.thickness = thick[0]
	}

	return info, nil
}

// computeGeometry reduces the slice records to extents and spacings
// in patient coordinates.
func computeGeometry(slices []sliceInfo) (models.Geometry, error) {
	ref := slices[0]
	if ref.rows < 1 || ref.cols < 1 || ref.rowSpacing <= 0 || ref.colSpacing <= 0 {
		return models.Geometry{}, fmt.Errorf("degenerate slice grid %dx%d", ref.rows, ref.cols)
	}

	normal := cross(ref.rowDir, ref.colDir)
	sort.Slice(slices, func(i, j int) bool {
		return dot(slices[i].pos, normal) < dot(slices[j].pos, normal)
	})

	sliceSpacing := ref.thickness
	if len(slices) > 1 {
		span := dot(slices[len(slices)-1].pos, normal) - dot(slices[0].pos, normal)
		sliceSpacing = math.Abs(span) / float64(len(slices)-1)
	}
	if sliceSpacing <= 0 {
		return models.Geometry{}, fmt.Errorf("cannot determine slice spacing")
	}

	var geom models.Geometry
	for axis := 0; axis < 3; axis++ {
		geom.Extents[axis] = models.Extent{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	for _, s := range slices {
		for _, r := range []int{0, s.rows - 1} {
			for _, c := range []int{0, s.cols - 1} {
				var p [3]float64
				for axis := 0; axis < 3; axis++ {
					p[axis] = s.pos[axis] +
						s.rowDir[axis]*s.colSpacing*float64(c) +
						s.colDir[axis]*s.rowSpacing*float64(r)
				}
				for axis := 0; axis < 3; axis++ {
					if p[axis] < geom.Extents[axis].Min {
						geom.Extents[axis].Min = p[axis]
					}
					if p[axis] > geom.Extents[axis].Max {
						geom.Extents[axis].Max = p[axis]
					}
				}
			}
		}
	}

	// Assign each patient axis the spacing of the grid direction most
	// aligned with it. For the usual axis-aligned acquisitions this is
	// exact; for oblique ones it is the conventional approximation.
	dirs := [3][3]float64{ref.rowDir, ref.colDir, normal}
	spacings := [3]float64{ref.colSpacing, ref.rowSpacing, sliceSpacing}
	for axis := 0; axis < 3; axis++ {
		best, bestAlign := 0, math.Abs(dirs[0][axis])
		for d := 1; d < 3; d++ {
			if a := math.Abs(dirs[d][axis]); a > bestAlign {
				best, bestAlign = d, a
			}
		}
		if bestAlign == 0 {
			return models.Geometry{}, fmt.Errorf("degenerate slice orientation")
		}
		geom.Deltas[axis] = spacings[best]
	}

	geom.TimePoints = 1
	return geom, nil
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// tagFloats reads a multi-valued decimal string tag.
func tagFloats(ds godicom.Dataset, t tag.Tag, n int) ([]float64, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, fmt.Errorf("missing tag %v", t)
	}
	raw := godicom.MustGetStrings(el.Value)
	if len(raw) < n {
		return nil, fmt.Errorf("tag %v has %d values, need %d", t, len(raw), n)
	}
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("tag %v value %q: %w", t, raw[i], err)
		}
		vals[i] = v
	}
	return vals, nil
}

// tagInt reads a single integer tag.
func tagInt(ds godicom.Dataset, t tag.Tag) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("missing tag %v", t)
	}
	ints := godicom.MustGetInts(el.Value)
	if len(ints) == 0 {
		return 0, fmt.Errorf("tag %v is empty", t)
	}
	return ints[0], nil
}
