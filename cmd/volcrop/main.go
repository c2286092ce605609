package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"volcrop/internal/models"
	"volcrop/pkg/backend"
	"volcrop/pkg/backend/afni"
	"volcrop/pkg/backend/dicom"
	"volcrop/pkg/backend/nifti"
	"volcrop/pkg/config"
	"volcrop/pkg/crop"
	"volcrop/pkg/geometry"
	"volcrop/pkg/runner"
)

func main() {
	// Parse command line arguments
	var input, output string
	flag.StringVar(&input, "i", "", "Input dataset path")
	flag.StringVar(&input, "input", "", "Input dataset path")
	flag.StringVar(&output, "o", "", "Output dataset path")
	flag.StringVar(&output, "output", "", "Output dataset path")

	xRange := flag.String("x", "", "RL-axis physical crop range in mm, e.g. -20,12.5")
	yRange := flag.String("y", "", "AP-axis physical crop range in mm")
	zRange := flag.String("z", "", "IS-axis physical crop range in mm")
	tRange := flag.String("t", "", "Inclusive time-index range, e.g. 10,99")
	keepTemp := flag.Bool("keep_temp", false, "Retain the intermediate time-subset dataset")
	backendName := flag.String("backend", "", "Dataset backend: afni, nifti or dicom (default from config)")
	clamp := flag.Bool("clamp", false, "Clamp out-of-extent crop ranges to the dataset boundary")
	info := flag.Bool("info", false, "Print dataset geometry and computed margins, run nothing")
	configPath := flag.String("config", "volcrop.yaml", "Configuration file")
	batchPath := flag.String("batch", "", "Batch file with multiple extraction jobs")
	jobs := flag.Int("jobs", 0, "Parallel jobs in batch mode (default: 3/4 of CPUs)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *verbose || cfg.Output.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	policy := geometry.Reject
	if *clamp || cfg.Crop.ClampToExtent {
		policy = geometry.Clamp
	}

	b, err := selectBackend(pick(*backendName, cfg.Crop.Backend), cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	// Batch mode: every job comes from the batch file.
	if *batchPath != "" {
		runBatch(ctx, *batchPath, b, policy, pickInt(*jobs, cfg.Batch.PoolSize))
		return
	}

	// Validate inputs
	if input == "" || (output == "" && !*info) {
		flag.Usage()
		os.Exit(1)
	}

	params := &crop.Params{
		Input:    input,
		Output:   output,
		KeepTemp: *keepTemp || cfg.Crop.KeepTemp,
		Policy:   policy,
	}

	axisFlags := [3]string{*xRange, *yRange, *zRange}
	for axis, raw := range axisFlags {
		if raw == "" {
			continue
		}
		lo, hi, err := parseFloatPair(raw)
		if err != nil {
			log.Fatalf("Bad -%s value %q: %v", [3]string{"x", "y", "z"}[axis], raw, err)
		}
		bounds := models.NewBounds(lo, hi)
		params.Bounds[axis] = &bounds
	}
	if *tRange != "" {
		first, last, err := parseIntPair(*tRange)
		if err != nil {
			log.Fatalf("Bad -t value %q: %v", *tRange, err)
		}
		params.Time = &models.TimeRange{First: first, Last: last}
	}

	if *info {
		printInfo(ctx, params, b)
		return
	}

	c := crop.NewCropper(params, b)
	start := time.Now()
	if err := c.Process(ctx); err != nil {
		log.Fatalf("Extraction failed: %v", err)
	}

	fmt.Printf("Extraction completed in %s\n", runner.FormatDuration(time.Since(start)))
	fmt.Printf("Output dataset saved to: %s\n", output)
}

// runBatch executes a batch file and reports per-job outcomes.
func runBatch(ctx context.Context, path string, b backend.Backend, policy geometry.Policy, poolSize int) {
	jobs, err := crop.LoadBatch(path)
	if err != nil {
		log.Fatalf("Failed to load batch file: %v", err)
	}

	fmt.Printf("Running %d extraction jobs...\n", len(jobs))
	results := crop.RunBatch(ctx, jobs, b, policy, poolSize)

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("job %d (%s): FAILED: %v\n", i, jobs[i].Input, r.Err)
		} else {
			fmt.Printf("job %d (%s): done in %s\n", i, jobs[i].Input, runner.FormatDuration(r.Duration))
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d jobs failed", failed, len(results))
	}
}

// printInfo prints the dataset geometry and, when crop ranges were
// given, the margins and crop-tool fragments they convert to.
func printInfo(ctx context.Context, params *crop.Params, b backend.Backend) {
	hasRequest := params.Time != nil
	for _, bounds := range params.Bounds {
		if bounds != nil {
			hasRequest = true
		}
	}

	var geom models.Geometry
	var c *crop.Cropper
	if hasRequest {
		if params.Output == "" {
			params.Output = "-" // planning never touches the output
		}
		c = crop.NewCropper(params, b)
		if err := c.Plan(ctx); err != nil {
			log.Fatalf("Planning failed: %v", err)
		}
		geom = c.Geometry()
	} else {
		var err error
		geom, err = b.Geometry(ctx, params.Input)
		if err != nil {
			log.Fatalf("Failed to query dataset geometry: %v", err)
		}
	}

	fmt.Printf("Dataset: %s\n", params.Input)
	for axis := 0; axis < 3; axis++ {
		e := geom.Extents[axis]
		fmt.Printf("  %s extent: %.3f .. %.3f mm (delta %.3f mm)\n",
			models.Axis(axis).Name(), e.Min, e.Max, geom.Deltas[axis])
	}
	fmt.Printf("  Time points: %d\n", geom.TimePoints)

	if c == nil {
		return
	}
	for axis, m := range c.Margins() {
		if m == nil {
			continue
		}
		fmt.Printf("  %s crop: strip %d low / %d high voxels (%s)\n",
			models.Axis(axis).Name(), m.Lower, m.Upper, c.Fragments()[axis])
	}
	if params.Time != nil {
		fmt.Printf("  Time subset: [%d..%d]\n", params.Time.First, params.Time.Last)
	}
}

// selectBackend builds the dataset backend named by the configuration
// or the -backend flag.
func selectBackend(name string, cfg *config.Config) (backend.Backend, error) {
	switch name {
	case "afni":
		tc := afni.New(runner.ExecRunner{})
		tc.Info = cfg.Toolchain.Info
		tc.Tcat = cfg.Toolchain.Tcat
		tc.Zeropad = cfg.Toolchain.Zeropad
		return tc, nil
	case "nifti":
		return nifti.Reader{}, nil
	case "dicom":
		return dicom.Series{}, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want afni, nifti or dicom)", name)
}

// parseFloatPair parses a "a,b" physical coordinate pair.
func parseFloatPair(raw string) (float64, float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("need exactly two comma-separated values")
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// parseIntPair parses a "first,last" time-index pair.
func parseIntPair(raw string) (int, int, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("need exactly two comma-separated values")
	}
	first, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	last, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

// pick returns the first non-empty string.
func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// pickInt returns the first positive int.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
