package crop

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"volcrop/internal/models"
	"volcrop/pkg/backend"
	"volcrop/pkg/geometry"
	"volcrop/pkg/runner"
)

// BatchJob is one extraction request in a batch file. Axis entries
// are two-element physical coordinate pairs in either order; the time
// entry is a two-element index pair.
type BatchJob struct {
	Input    string    `yaml:"input"`
	Output   string    `yaml:"output"`
	X        []float64 `yaml:"x"`
	Y        []float64 `yaml:"y"`
	Z        []float64 `yaml:"z"`
	Time     []int     `yaml:"t"`
	KeepTemp bool      `yaml:"keepTemp"`
}

// batchFile is the YAML document layout of a batch file.
type batchFile struct {
	Jobs []BatchJob `yaml:"jobs"`
}

// LoadBatch reads a batch file and returns its jobs.
func LoadBatch(path string) ([]BatchJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %w", err)
	}

	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %w", err)
	}
	if len(bf.Jobs) == 0 {
		return nil, fmt.Errorf("batch file %s contains no jobs", path)
	}
	return bf.Jobs, nil
}

// Params converts the job to extraction parameters, validating the
// pair lengths.
func (j BatchJob) Params(policy geometry.Policy) (*Params, error) {
	p := &Params{
		Input:    j.Input,
		Output:   j.Output,
		KeepTemp: j.KeepTemp,
		Policy:   policy,
	}

	axes := [3][]float64{j.X, j.Y, j.Z}
	names := [3]string{"x", "y", "z"}
	for axis, vals := range axes {
		if len(vals) == 0 {
			continue
		}
		if len(vals) != 2 {
			return nil, fmt.Errorf("job %s: %s needs exactly two values, got %d", j.Input, names[axis], len(vals))
		}
		b := models.NewBounds(vals[0], vals[1])
		p.Bounds[axis] = &b
	}

	if len(j.Time) > 0 {
		if len(j.Time) != 2 {
			return nil, fmt.Errorf("job %s: t needs exactly two values, got %d", j.Input, len(j.Time))
		}
		p.Time = &models.TimeRange{First: j.Time[0], Last: j.Time[1]}
	}

	return p, nil
}

// RunBatch executes all jobs against the backend through a worker
// pool and returns one result per job, in file order. Invalid jobs
// fail individually without stopping the batch.
func RunBatch(ctx context.Context, jobs []BatchJob, b backend.Backend, policy geometry.Policy, poolSize int) []runner.JobResult {
	pool := runner.NewPool(poolSize)
	for _, job := range jobs {
		job := job
		pool.Add(func(ctx context.Context) error {
			params, err := job.Params(policy)
			if err != nil {
				return err
			}
			return NewCropper(params, b).Process(ctx)
		})
	}
	return pool.Wait(ctx)
}
