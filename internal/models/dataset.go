package models

// Axis identifies one of the three anatomical head axes, in the
// fixed RL, AP, IS order used throughout the pipeline.
type Axis int

const (
	// AxisRL is the right-left axis
	AxisRL Axis = iota

	// AxisAP is the anterior-posterior axis
	AxisAP

	// AxisIS is the inferior-superior axis
	AxisIS
)

// Name returns the conventional two-letter name of the axis.
func (a Axis) Name() string {
	switch a {
	case AxisRL:
		return "RL"
	case AxisAP:
		return "AP"
	case AxisIS:
		return "IS"
	}
	return "??"
}

// Extent is the physical coordinate range spanned by a dataset
// along one axis, in mm.
type Extent struct {
	// Min is the lower physical boundary
	Min float64

	// Max is the upper physical boundary
	Max float64
}

// Size returns the physical length of the extent in mm.
func (e Extent) Size() float64 {
	return e.Max - e.Min
}

// Contains reports whether the physical coordinate v lies inside
// the extent, boundaries included.
func (e Extent) Contains(v float64) bool {
	return v >= e.Min && v <= e.Max
}

// Geometry describes the spatial and temporal layout of a volumetric
// dataset as reported by a backend geometry query.
type Geometry struct {
	// Extents holds the physical boundary pair for each head axis,
	// indexed by Axis
	Extents [3]Extent

	// Deltas holds the voxel spacing in mm for each head axis,
	// indexed by Axis
	Deltas [3]float64

	// TimePoints is the number of volumes along the time axis.
	// A purely spatial dataset has one time point.
	TimePoints int
}

// Bounds is a user-requested physical crop range along one axis.
// Construct it with NewBounds so the pair is always ordered.
type Bounds struct {
	// Low is the smaller physical boundary
	Low float64

	// High is the larger physical boundary
	High float64
}

// NewBounds builds an ordered Bounds from two physical coordinates
// given in either order.
func NewBounds(a, b float64) Bounds {
	if a > b {
		a, b = b, a
	}
	return Bounds{Low: a, High: b}
}

// Margins is the number of voxels to strip from the two sides of one
// axis during cropping.
type Margins struct {
	// Lower is the voxel count removed from the low-coordinate side
	Lower int

	// Upper is the voxel count removed from the high-coordinate side
	Upper int
}

// TimeRange is an inclusive pair of time-point indices.
type TimeRange struct {
	// First is the index of the first retained time point
	First int

	// Last is the index of the last retained time point
	Last int
}
