// Package nifti answers geometry queries by reading NIfTI-1 headers
// directly, without invoking the external toolchain. It implements
// only the read-only part of the backend interface; cropping and time
// subsetting still require the toolchain.
package nifti

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"volcrop/internal/models"
	"volcrop/pkg/backend"
)

// header is the fixed 348-byte NIfTI-1 header, laid out per the
// official nifti1.h definition. Only the fields the geometry query
// needs are named; the rest are padding to keep the binary layout.
type header struct {
	SizeOfHdr int32
	Unused0   [35]byte
	DimInfo   int8

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	DataType   int16
	BitPix     int16
	SliceStart int16
	PixDim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  int8
	XYZTUnits  int8
	CalMax     float32
	CalMin     float32
	SliceDur   float32
	TOffset    float32
	Unused1    [8]byte

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

const headerSize = 348

// Reader is the native NIfTI-1 geometry backend. The zero value is
// ready to use.
type Reader struct{}

// Geometry reads the header of a .nii or .nii.gz file and derives the
// physical extents and voxel spacings. When an sform affine is
// present it is applied to the grid corners, so oblique datasets get
// correct world-space extents; otherwise the grid is assumed axis
// aligned at the quaternion offset.
func (Reader) Geometry(ctx context.Context, dataset string) (models.Geometry, error) {
	h, err := readHeader(dataset)
	if err != nil {
		return models.Geometry{}, err
	}

	ndim := int(h.Dim[0])
	if ndim < 3 || ndim > 7 {
		return models.Geometry{}, fmt.Errorf("%s: need at least 3 spatial dimensions, header has %d", dataset, ndim)
	}
	nx, ny, nz := int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])
	if nx < 1 || ny < 1 || nz < 1 {
		return models.Geometry{}, fmt.Errorf("%s: degenerate grid %dx%dx%d", dataset, nx, ny, nz)
	}

	var geom models.Geometry
	if h.SFormCode > 0 {
		geom = geometryFromAffine(h, nx, ny, nz)
	} else {
		geom = geometryAxisAligned(h, nx, ny, nz)
	}

	geom.TimePoints = 1
	if ndim >= 4 && h.Dim[4] > 1 {
		geom.TimePoints = int(h.Dim[4])
	}

	for axis := 0; axis < 3; axis++ {
		if geom.Deltas[axis] <= 0 {
			return models.Geometry{}, fmt.Errorf("%s: zero voxel spacing on %s axis", dataset, models.Axis(axis).Name())
		}
	}

	log.WithFields(log.Fields{
		"dataset": dataset,
		"grid":    fmt.Sprintf("%dx%dx%d", nx, ny, nz),
		"nt":      geom.TimePoints,
	}).Debug("Read NIfTI geometry")
	return geom, nil
}

// SubsetTime is not supported by the native reader.
func (Reader) SubsetTime(ctx context.Context, in, out string, tr models.TimeRange) error {
	return fmt.Errorf("time subset of %s: %w", in, backend.ErrNotSupported)
}

// Crop is not supported by the native reader.
func (Reader) Crop(ctx context.Context, in, out string, margins [3]*models.Margins) error {
	return fmt.Errorf("crop of %s: %w", in, backend.ErrNotSupported)
}

// geometryFromAffine derives spacings and extents from the sform
// affine. Spacing per axis is the norm of the corresponding affine
// column; extents come from transforming the eight grid corners.
func geometryFromAffine(h header, nx, ny, nz int) models.Geometry {
	affine := mat.NewDense(4, 4, []float64{
		float64(h.SRowX[0]), float64(h.SRowX[1]), float64(h.SRowX[2]), float64(h.SRowX[3]),
		float64(h.SRowY[0]), float64(h.SRowY[1]), float64(h.SRowY[2]), float64(h.SRowY[3]),
		float64(h.SRowZ[0]), float64(h.SRowZ[1]), float64(h.SRowZ[2]), float64(h.SRowZ[3]),
		0, 0, 0, 1,
	})

	var geom models.Geometry
	for axis := 0; axis < 3; axis++ {
		col := mat.NewVecDense(3, []float64{
			affine.At(0, axis),
			affine.At(1, axis),
			affine.At(2, axis),
		})
		geom.Deltas[axis] = mat.Norm(col, 2)
	}

	for axis := 0; axis < 3; axis++ {
		geom.Extents[axis] = models.Extent{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	for _, i := range []int{0, nx - 1} {
		for _, j := range []int{0, ny - 1} {
			for _, k := range []int{0, nz - 1} {
				idx := mat.NewVecDense(4, []float64{float64(i), float64(j), float64(k), 1})
				var world mat.VecDense
				world.MulVec(affine, idx)
				for axis := 0; axis < 3; axis++ {
					v := world.AtVec(axis)
					if v < geom.Extents[axis].Min {
						geom.Extents[axis].Min = v
					}
					if v > geom.Extents[axis].Max {
						geom.Extents[axis].Max = v
					}
				}
			}
		}
	}
	return geom
}

// geometryAxisAligned derives extents for a dataset without an sform,
// assuming the grid axes coincide with the world axes and start at
// the quaternion offset.
func geometryAxisAligned(h header, nx, ny, nz int) models.Geometry {
	offsets := [3]float64{float64(h.QOffsetX), float64(h.QOffsetY), float64(h.QOffsetZ)}
	counts := [3]int{nx, ny, nz}

	var geom models.Geometry
	for axis := 0; axis < 3; axis++ {
		delta := math.Abs(float64(h.PixDim[axis+1]))
		geom.Deltas[axis] = delta

		lo := offsets[axis]
		hi := offsets[axis] + delta*float64(counts[axis]-1)
		if lo > hi {
			lo, hi = hi, lo
		}
		geom.Extents[axis] = models.Extent{Min: lo, Max: hi}
	}
	return geom
}

// readHeader reads and validates the fixed header, transparently
// decompressing .gz files. Byte order is inferred from dim[0], which
// must land in 1..7 under the correct order.
func readHeader(path string) (header, error) {
	f, err := os.Open(path)
	if err != nil {
		return header{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return header{}, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return header{}, fmt.Errorf("%s: short header: %w", path, err)
	}

	h, err := decodeHeader(raw)
	if err != nil {
		return header{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func decodeHeader(raw []byte) (header, error) {
	var h header
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return header{}, err
		}
		if h.Dim[0] >= 1 && h.Dim[0] <= 7 {
			return h, validateHeader(h)
		}
	}
	return header{}, fmt.Errorf("cannot infer byte order, dim[0] not in 1..7")
}

func validateHeader(h header) error {
	if h.SizeOfHdr != headerSize {
		return fmt.Errorf("invalid header size %d", h.SizeOfHdr)
	}
	magic := string(h.Magic[:3])
	if magic != "n+1" && magic != "ni1" {
		return fmt.Errorf("invalid magic %q", magic)
	}
	return nil
}
