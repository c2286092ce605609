// Package geometry converts physical-coordinate crop requests into
// voxel-index margins and renders them as crop-tool flag fragments.
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"volcrop/internal/models"
)

// Policy selects how margins that fall outside the dataset extent are handled.
type Policy int

const (
	// Reject fails the conversion with an error when a requested
	// boundary lies outside the dataset extent.
	Reject Policy = iota

	// Clamp truncates out-of-extent boundaries to the extent, so the
	// resulting margin is zero on that side.
	Clamp
)

// AxisLabels holds the crop-tool side labels for each head axis, low
// side first. The pairs follow the RAI convention used by the external
// toolchain: the low-coordinate side of the RL axis is labeled R, and
// so on.
var AxisLabels = [3][2]string{
	models.AxisRL: {"R", "L"},
	models.AxisAP: {"A", "P"},
	models.AxisIS: {"I", "S"},
}

// ComputeMargins converts a physical crop range on one axis into the
// voxel counts to strip from each side of that axis.
//
// Both counts are truncated toward zero (floor), so the requested
// physical range is never under-included: a boundary falling inside a
// voxel keeps that whole voxel.
//
// With the Reject policy, bounds outside the extent yield an error.
// With Clamp, the affected margin is clamped to zero instead.
func ComputeMargins(extent models.Extent, delta float64, bounds models.Bounds, policy Policy) (models.Margins, error) {
	if delta <= 0 {
		return models.Margins{}, fmt.Errorf("voxel spacing must be positive, got %g", delta)
	}

	lower := int(math.Floor((bounds.Low - extent.Min) / delta))
	upper := int(math.Floor((extent.Max - bounds.High) / delta))

	if lower < 0 || upper < 0 {
		switch policy {
		case Clamp:
			if lower < 0 {
				lower = 0
			}
			if upper < 0 {
				upper = 0
			}
		default:
			return models.Margins{}, fmt.Errorf("requested range [%g, %g] exceeds dataset extent [%g, %g]",
				bounds.Low, bounds.High, extent.Min, extent.Max)
		}
	}

	return models.Margins{Lower: lower, Upper: upper}, nil
}

// FlagArgs renders margins as crop-tool arguments using the given side
// labels, low side first. The tool interprets a negative pad count as a
// trim, hence the negation.
func FlagArgs(m models.Margins, lowLabel, highLabel string) []string {
	return []string{
		"-" + lowLabel, strconv.Itoa(-m.Lower),
		"-" + highLabel, strconv.Itoa(-m.Upper),
	}
}

// MarginFlags produces the complete flag fragment for one axis from a
// physical crop request. A nil bounds means no cropping was requested
// on the axis, and the fragment is empty.
func MarginFlags(extent models.Extent, delta float64, bounds *models.Bounds, lowLabel, highLabel string, policy Policy) (string, error) {
	if bounds == nil {
		return "", nil
	}
	m, err := ComputeMargins(extent, delta, *bounds, policy)
	if err != nil {
		return "", err
	}
	return strings.Join(FlagArgs(m, lowLabel, highLabel), " "), nil
}
