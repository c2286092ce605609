package geometry

import (
	"strings"
	"testing"

	"volcrop/internal/models"
)

// TestComputeMargins verifies the worked example from the tool
// documentation: a 2mm grid spanning -90..90 cropped to -20..12.5.
func TestComputeMargins(t *testing.T) {
	extent := models.Extent{Min: -90, Max: 90}
	bounds := models.NewBounds(-20, 12.5)

	m, err := ComputeMargins(extent, 2, bounds, Reject)
	if err != nil {
		t.Fatalf("ComputeMargins failed: %v", err)
	}

	if m.Lower != 35 {
		t.Errorf("Expected lower margin 35, got %d", m.Lower)
	}
	if m.Upper != 38 {
		t.Errorf("Expected upper margin 38, got %d", m.Upper)
	}
}

// TestComputeMarginsOrderInsensitive ensures that swapping the two
// requested boundaries yields an identical result.
func TestComputeMarginsOrderInsensitive(t *testing.T) {
	extent := models.Extent{Min: -90, Max: 90}

	forward, err := ComputeMargins(extent, 2, models.NewBounds(-20, 12.5), Reject)
	if err != nil {
		t.Fatalf("ComputeMargins failed: %v", err)
	}
	reversed, err := ComputeMargins(extent, 2, models.NewBounds(12.5, -20), Reject)
	if err != nil {
		t.Fatalf("ComputeMargins failed: %v", err)
	}

	if forward != reversed {
		t.Errorf("Expected identical margins for reversed bounds, got %+v vs %+v", forward, reversed)
	}
}

// TestComputeMarginsNonNegative checks that in-range bounds always
// produce non-negative margins across a grid of cases.
func TestComputeMarginsNonNegative(t *testing.T) {
	extent := models.Extent{Min: -64.5, Max: 63.5}
	deltas := []float64{0.5, 1, 2, 3.2}
	pairs := [][2]float64{
		{-64.5, 63.5},
		{-64.5, -64.5},
		{63.5, 63.5},
		{-10.1, 10.1},
		{0, 0.3},
	}

	for _, delta := range deltas {
		for _, p := range pairs {
			m, err := ComputeMargins(extent, delta, models.NewBounds(p[0], p[1]), Reject)
			if err != nil {
				t.Fatalf("ComputeMargins(delta=%g, bounds=%v) failed: %v", delta, p, err)
			}
			if m.Lower < 0 || m.Upper < 0 {
				t.Errorf("Expected non-negative margins for delta=%g bounds=%v, got %+v", delta, p, m)
			}
		}
	}
}

// TestComputeMarginsPolicy verifies the out-of-extent behavior for
// both policies.
func TestComputeMarginsPolicy(t *testing.T) {
	extent := models.Extent{Min: -90, Max: 90}
	bounds := models.NewBounds(-100, 95)

	if _, err := ComputeMargins(extent, 2, bounds, Reject); err == nil {
		t.Errorf("Expected error for out-of-extent bounds with Reject policy")
	}

	m, err := ComputeMargins(extent, 2, bounds, Clamp)
	if err != nil {
		t.Fatalf("ComputeMargins with Clamp failed: %v", err)
	}
	if m.Lower != 0 || m.Upper != 0 {
		t.Errorf("Expected clamped margins (0,0), got %+v", m)
	}
}

// TestComputeMarginsBadDelta ensures a non-positive voxel spacing is
// rejected before any conversion happens.
func TestComputeMarginsBadDelta(t *testing.T) {
	extent := models.Extent{Min: -90, Max: 90}
	bounds := models.NewBounds(-20, 12.5)

	for _, delta := range []float64{0, -2} {
		if _, err := ComputeMargins(extent, delta, bounds, Reject); err == nil {
			t.Errorf("Expected error for delta=%g", delta)
		}
	}
}

// TestMarginFlags verifies the rendered fragment and the empty
// fragment for an axis without a crop request.
func TestMarginFlags(t *testing.T) {
	extent := models.Extent{Min: -90, Max: 90}
	bounds := models.NewBounds(-20, 12.5)

	frag, err := MarginFlags(extent, 2, &bounds, "R", "L", Reject)
	if err != nil {
		t.Fatalf("MarginFlags failed: %v", err)
	}
	if frag != "-R -35 -L -38" {
		t.Errorf("Expected fragment %q, got %q", "-R -35 -L -38", frag)
	}

	empty, err := MarginFlags(extent, 2, nil, "R", "L", Reject)
	if err != nil {
		t.Fatalf("MarginFlags with nil bounds failed: %v", err)
	}
	if empty != "" {
		t.Errorf("Expected empty fragment for absent bounds, got %q", empty)
	}
}

// TestFlagArgs checks the argument rendering, including the zero
// margin case which must not gain a sign.
func TestFlagArgs(t *testing.T) {
	args := FlagArgs(models.Margins{Lower: 35, Upper: 0}, "I", "S")
	want := "-I -35 -S 0"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("Expected args %q, got %q", want, got)
	}
}
