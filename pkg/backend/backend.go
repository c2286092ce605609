// Package backend defines the abstract volumetric dataset backend:
// the three operations the cropping pipeline needs from whatever is
// actually able to read and manipulate datasets.
package backend

import (
	"context"
	"errors"

	"volcrop/internal/models"
)

// ErrNotSupported is returned by backends that can answer geometry
// queries but cannot mutate datasets themselves.
var ErrNotSupported = errors.New("operation not supported by this backend")

// Backend is the volumetric dataset interface the pipeline runs
// against. A margins entry of nil means the axis is left uncropped.
type Backend interface {
	// Geometry reports the physical extents, voxel spacings and time
	// point count of the dataset.
	Geometry(ctx context.Context, dataset string) (models.Geometry, error)

	// SubsetTime writes a new dataset containing only the inclusive
	// time-index range tr of the input.
	SubsetTime(ctx context.Context, in, out string, tr models.TimeRange) error

	// Crop writes a new dataset with the given per-axis voxel margins
	// stripped, indexed by models.Axis.
	Crop(ctx context.Context, in, out string, margins [3]*models.Margins) error
}
