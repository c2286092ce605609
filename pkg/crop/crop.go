// Package crop orchestrates a sub-volume extraction: it converts the
// requested physical ranges to voxel margins against the dataset's
// geometry, optionally subsets the time axis through a temporary
// dataset, and delegates the actual work to a dataset backend.
package crop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"volcrop/internal/models"
	"volcrop/pkg/backend"
	"volcrop/pkg/geometry"
)

// Params holds one extraction request.
type Params struct {
	// Input is the source dataset path
	Input string

	// Output is the destination dataset path
	Output string

	// Bounds holds the requested physical range per head axis,
	// indexed by models.Axis. A nil entry leaves the axis uncropped.
	Bounds [3]*models.Bounds

	// Time is the inclusive time-index range to retain, nil for all
	Time *models.TimeRange

	// KeepTemp retains the intermediate time-subset dataset
	KeepTemp bool

	// Policy selects how out-of-extent bounds are handled
	Policy geometry.Policy
}

// Cropper drives one extraction against a dataset backend.
//
// The extraction proceeds in steps:
//  1. Query the dataset geometry from the backend
//  2. Convert the requested physical ranges to voxel margins
//  3. Subset the time axis into a temporary dataset, if requested
//  4. Crop the spatial margins into the output dataset
//  5. Delete the temporary dataset, unless asked to keep it
type Cropper struct {
	params  *Params
	backend backend.Backend

	geom    models.Geometry
	margins [3]*models.Margins
	planned bool
}

// NewCropper creates a cropper for the given request and backend.
func NewCropper(params *Params, b backend.Backend) *Cropper {
	return &Cropper{params: params, backend: b}
}

// Plan queries the geometry and computes the voxel margins without
// touching any dataset. It validates the whole request, so a plan
// that succeeds will not fail later on conversion grounds.
func (c *Cropper) Plan(ctx context.Context) error {
	if c.params.Input == "" || c.params.Output == "" {
		return fmt.Errorf("input and output datasets are required")
	}
	if !c.anyAxis() && c.params.Time == nil {
		return fmt.Errorf("nothing to do: no axis range or time range requested")
	}

	geom, err := c.backend.Geometry(ctx, c.params.Input)
	if err != nil {
		return fmt.Errorf("failed to query dataset geometry: %w", err)
	}
	c.geom = geom

	for axis, bounds := range c.params.Bounds {
		if bounds == nil {
			c.margins[axis] = nil
			continue
		}
		m, err := geometry.ComputeMargins(geom.Extents[axis], geom.Deltas[axis], *bounds, c.params.Policy)
		if err != nil {
			return fmt.Errorf("%s axis: %w", models.Axis(axis).Name(), err)
		}
		c.margins[axis] = &m
	}

	if tr := c.params.Time; tr != nil {
		if tr.First < 0 || tr.Last < tr.First {
			return fmt.Errorf("invalid time range [%d, %d]", tr.First, tr.Last)
		}
		if tr.Last >= geom.TimePoints {
			return fmt.Errorf("time range [%d, %d] exceeds the %d time points of %s",
				tr.First, tr.Last, geom.TimePoints, c.params.Input)
		}
	}

	c.planned = true
	return nil
}

// Process runs the complete extraction pipeline.
func (c *Cropper) Process(ctx context.Context) error {
	if !c.planned {
		if err := c.Plan(ctx); err != nil {
			return err
		}
	}

	// Time-only request: subset straight into the output, no temp.
	if !c.anyAxis() {
		return c.backend.SubsetTime(ctx, c.params.Input, c.params.Output, *c.params.Time)
	}

	src := c.params.Input
	if c.params.Time != nil {
		// The temp dataset is written as NIfTI so it is a single file
		// that can be removed with one unlink.
		tmp := tempPath(c.params.Output)
		if err := c.backend.SubsetTime(ctx, c.params.Input, tmp, *c.params.Time); err != nil {
			return fmt.Errorf("failed to subset time axis: %w", err)
		}
		src = tmp

		if !c.params.KeepTemp {
			defer func() {
				if err := os.Remove(tmp); err != nil {
					log.WithFields(log.Fields{
						"file":  tmp,
						"error": err,
					}).Warn("Failed to remove temporary dataset")
				}
			}()
		}
	}

	if err := c.backend.Crop(ctx, src, c.params.Output, c.margins); err != nil {
		return fmt.Errorf("failed to crop dataset: %w", err)
	}
	return nil
}

// Geometry returns the dataset geometry. Valid after a successful Plan.
func (c *Cropper) Geometry() models.Geometry {
	return c.geom
}

// Margins returns the computed per-axis margins, nil entries for
// uncropped axes. Valid after a successful Plan.
func (c *Cropper) Margins() [3]*models.Margins {
	return c.margins
}

// Fragments renders the per-axis crop-tool flag fragments. Axes
// without a crop request contribute an empty fragment. Valid after a
// successful Plan.
func (c *Cropper) Fragments() [3]string {
	var frags [3]string
	for axis, m := range c.margins {
		if m == nil {
			continue
		}
		labels := geometry.AxisLabels[axis]
		frags[axis], _ = geometry.MarginFlags(c.geom.Extents[axis], c.geom.Deltas[axis],
			c.params.Bounds[axis], labels[0], labels[1], c.params.Policy)
	}
	return frags
}

func (c *Cropper) anyAxis() bool {
	for _, b := range c.params.Bounds {
		if b != nil {
			return true
		}
	}
	return false
}

// tempPath builds a temp dataset path next to the output, so the
// intermediate volume lands on the same filesystem.
func tempPath(output string) string {
	dir := filepath.Dir(output)
	return filepath.Join(dir, fmt.Sprintf(".volcrop_tcat_%s.nii", uuid.NewString()[:8]))
}
