// Package afni binds the backend interface to the external AFNI
// toolchain via subprocess invocation: 3dinfo for geometry queries,
// 3dTcat for time subsetting and 3dZeropad for margin cropping.
package afni

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"volcrop/internal/models"
	"volcrop/pkg/geometry"
	"volcrop/pkg/runner"
)

// Toolchain invokes the AFNI command line programs. Program names can
// be overridden to point at non-PATH installations.
type Toolchain struct {
	// Info is the geometry query program, normally 3dinfo
	Info string

	// Tcat is the time-concatenation program, normally 3dTcat
	Tcat string

	// Zeropad is the pad/crop program, normally 3dZeropad
	Zeropad string

	runner runner.CommandRunner
}

// New creates a Toolchain with the standard AFNI program names bound
// to the given command runner.
func New(r runner.CommandRunner) *Toolchain {
	return &Toolchain{
		Info:    "3dinfo",
		Tcat:    "3dTcat",
		Zeropad: "3dZeropad",
		runner:  r,
	}
}

// Geometry queries the dataset with a single 3dinfo call asking for
// the six extent values, the three voxel sizes and the time point
// count, in that order.
func (t *Toolchain) Geometry(ctx context.Context, dataset string) (models.Geometry, error) {
	res, err := t.run(ctx, t.Info, "-extent", "-ad3", "-nt", dataset)
	if err != nil {
		return models.Geometry{}, err
	}

	geom, err := parseInfoOutput(string(res.Stdout))
	if err != nil {
		return models.Geometry{}, fmt.Errorf("unexpected %s output for %s: %w", t.Info, dataset, err)
	}

	log.WithFields(log.Fields{
		"dataset": dataset,
		"nt":      geom.TimePoints,
	}).Debug("Queried dataset geometry")
	return geom, nil
}

// SubsetTime extracts the inclusive time-index range into a new
// dataset. The sub-brick selector is passed as part of the input
// argument; no shell is involved, so the brackets need no quoting.
func (t *Toolchain) SubsetTime(ctx context.Context, in, out string, tr models.TimeRange) error {
	if tr.First < 0 || tr.Last < tr.First {
		return fmt.Errorf("invalid time range [%d, %d]", tr.First, tr.Last)
	}
	selector := fmt.Sprintf("%s[%d..%d]", in, tr.First, tr.Last)
	_, err := t.run(ctx, t.Tcat, "-prefix", out, selector)
	return err
}

// Crop strips the given per-axis margins. At least one axis must be
// cropped: 3dZeropad refuses to run with no pad flags at all.
func (t *Toolchain) Crop(ctx context.Context, in, out string, margins [3]*models.Margins) error {
	args := []string{"-prefix", out}
	any := false
	for axis, m := range margins {
		if m == nil {
			continue
		}
		any = true
		labels := geometry.AxisLabels[axis]
		args = append(args, geometry.FlagArgs(*m, labels[0], labels[1])...)
	}
	if !any {
		return fmt.Errorf("no axis margins to crop")
	}

	args = append(args, in)
	_, err := t.run(ctx, t.Zeropad, args...)
	return err
}

// run executes one toolchain program, folding a failure's exit code
// and stderr into the returned error.
func (t *Toolchain) run(ctx context.Context, name string, args ...string) (runner.Result, error) {
	res, err := t.runner.Run(ctx, name, args...)
	if err != nil {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			return res, fmt.Errorf("%s failed (exit %d): %w", name, res.ExitCode, err)
		}
		return res, fmt.Errorf("%s failed (exit %d): %s", name, res.ExitCode, msg)
	}
	return res, nil
}

// parseInfoOutput parses the whitespace-separated 3dinfo fields:
// R L A P I S extent pairs, three voxel sizes, one time point count.
// Each extent pair is normalized so Min <= Max regardless of the
// dataset's sign convention.
func parseInfoOutput(out string) (models.Geometry, error) {
	fields := strings.Fields(out)
	if len(fields) < 10 {
		return models.Geometry{}, fmt.Errorf("expected 10 fields, got %d", len(fields))
	}

	vals := make([]float64, 9)
	for i := 0; i < 9; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return models.Geometry{}, fmt.Errorf("bad numeric field %q", fields[i])
		}
		vals[i] = v
	}
	nt, err := strconv.Atoi(fields[9])
	if err != nil {
		return models.Geometry{}, fmt.Errorf("bad time point count %q", fields[9])
	}
	if nt < 1 {
		nt = 1
	}

	var geom models.Geometry
	for axis := 0; axis < 3; axis++ {
		a, b := vals[2*axis], vals[2*axis+1]
		if a > b {
			a, b = b, a
		}
		geom.Extents[axis] = models.Extent{Min: a, Max: b}

		delta := vals[6+axis]
		if delta < 0 {
			delta = -delta
		}
		if delta == 0 {
			return models.Geometry{}, fmt.Errorf("zero voxel spacing on %s axis", models.Axis(axis).Name())
		}
		geom.Deltas[axis] = delta
	}
	geom.TimePoints = nt
	return geom, nil
}
