package nifti

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"volcrop/internal/models"
	"volcrop/pkg/backend"
)

// sformHeader builds a 4D header with a diagonal sform affine:
// 2mm isotropic grid, origin at (-90, -126, -72), 240 time points.
func sformHeader() header {
	h := header{
		SizeOfHdr: headerSize,
		Dim:       [8]int16{4, 91, 109, 91, 240, 1, 1, 1},
		PixDim:    [8]float32{1, 2, 2, 2, 2, 1, 1, 1},
		SFormCode: 1,
		SRowX:     [4]float32{2, 0, 0, -90},
		SRowY:     [4]float32{0, 2, 0, -126},
		SRowZ:     [4]float32{0, 0, 2, -72},
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	return h
}

func writeHeader(t *testing.T, path string, h header, compress bool) {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	if compress {
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(buf.Bytes()); err != nil {
			t.Fatalf("Failed to write gzip header: %v", err)
		}
		if err := gz.Close(); err != nil {
			t.Fatalf("Failed to close gzip writer: %v", err)
		}
		return
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// TestGeometryFromSform checks extents, spacings and time points
// derived from a diagonal sform affine.
func TestGeometryFromSform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epi.nii")
	writeHeader(t, path, sformHeader(), false)

	geom, err := Reader{}.Geometry(context.Background(), path)
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}

	wantExtents := [3]models.Extent{
		{Min: -90, Max: 90},
		{Min: -126, Max: 90},
		{Min: -72, Max: 108},
	}
	for axis := 0; axis < 3; axis++ {
		got := geom.Extents[axis]
		if !almostEqual(got.Min, wantExtents[axis].Min) || !almostEqual(got.Max, wantExtents[axis].Max) {
			t.Errorf("Axis %s: expected extent %+v, got %+v", models.Axis(axis).Name(), wantExtents[axis], got)
		}
		if !almostEqual(geom.Deltas[axis], 2) {
			t.Errorf("Axis %s: expected delta 2, got %g", models.Axis(axis).Name(), geom.Deltas[axis])
		}
	}
	if geom.TimePoints != 240 {
		t.Errorf("Expected 240 time points, got %d", geom.TimePoints)
	}
}

// TestGeometryCompressed checks that .nii.gz files are handled
// transparently.
func TestGeometryCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epi.nii.gz")
	writeHeader(t, path, sformHeader(), true)

	geom, err := Reader{}.Geometry(context.Background(), path)
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}
	if !almostEqual(geom.Extents[models.AxisRL].Min, -90) {
		t.Errorf("Expected RL min -90, got %g", geom.Extents[models.AxisRL].Min)
	}
}

// TestGeometryAxisAligned checks the fallback path for headers
// without an sform: pixdim spacing from the quaternion offset.
func TestGeometryAxisAligned(t *testing.T) {
	h := sformHeader()
	h.SFormCode = 0
	h.Dim = [8]int16{3, 64, 64, 32, 1, 1, 1, 1}
	h.PixDim = [8]float32{1, 3, 3, 3.5, 1, 1, 1, 1}
	h.QOffsetX = -94.5
	h.QOffsetY = -94.5
	h.QOffsetZ = -50

	path := filepath.Join(t.TempDir(), "anat.nii")
	writeHeader(t, path, h, false)

	geom, err := Reader{}.Geometry(context.Background(), path)
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}
	if !almostEqual(geom.Deltas[models.AxisIS], 3.5) {
		t.Errorf("Expected IS delta 3.5, got %g", geom.Deltas[models.AxisIS])
	}
	want := models.Extent{Min: -50, Max: -50 + 3.5*31}
	got := geom.Extents[models.AxisIS]
	if !almostEqual(got.Min, want.Min) || !almostEqual(got.Max, want.Max) {
		t.Errorf("Expected IS extent %+v, got %+v", want, got)
	}
	if geom.TimePoints != 1 {
		t.Errorf("Expected 1 time point, got %d", geom.TimePoints)
	}
}

// TestGeometryBadMagic checks that a non-NIfTI file is rejected.
func TestGeometryBadMagic(t *testing.T) {
	h := sformHeader()
	h.Magic = [4]byte{'x', 'x', 'x', 0}

	path := filepath.Join(t.TempDir(), "bad.nii")
	writeHeader(t, path, h, false)

	if _, err := (Reader{}).Geometry(context.Background(), path); err == nil {
		t.Errorf("Expected error for invalid magic")
	}
}

// TestMutationsNotSupported checks that write operations report the
// typed not-supported error.
func TestMutationsNotSupported(t *testing.T) {
	r := Reader{}
	if err := r.SubsetTime(context.Background(), "a", "b", models.TimeRange{}); !errors.Is(err, backend.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported from SubsetTime, got %v", err)
	}
	if err := r.Crop(context.Background(), "a", "b", [3]*models.Margins{}); !errors.Is(err, backend.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported from Crop, got %v", err)
	}
}
