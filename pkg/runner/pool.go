package runner

import (
	"context"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job is one unit of pooled work.
type Job func(ctx context.Context) error

// JobResult reports the outcome of one pooled job.
type JobResult struct {
	// Index is the position of the job in the submission order
	Index int

	// Err is the job's error, nil on success
	Err error

	// Duration is the wall-clock run time of the job
	Duration time.Duration
}

// Pool executes queued jobs in parallel across a bounded number of
// workers. A zero value is not usable; construct with NewPool.
type Pool struct {
	size int
	jobs []Job
}

// NewPool creates a pool with the given worker count. A non-positive
// size defaults to three quarters of the available CPUs, minimum one.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU() * 3 / 4
		if size < 1 {
			size = 1
		}
	}
	return &Pool{size: size}
}

// Add queues a job for the next Wait and returns its index.
func (p *Pool) Add(job Job) int {
	p.jobs = append(p.jobs, job)
	return len(p.jobs) - 1
}

// Wait runs all queued jobs to completion and returns their results
// in submission order. The queue is cleared afterwards, so the pool
// can be reused for another batch.
func (p *Pool) Wait(ctx context.Context) []JobResult {
	results := make([]JobResult, len(p.jobs))
	sem := make(chan struct{}, p.size)
	var wg sync.WaitGroup

	for i, job := range p.jobs {
		wg.Add(1)
		go func(idx int, job Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			err := job(ctx)
			results[idx] = JobResult{
				Index:    idx,
				Err:      err,
				Duration: time.Since(start),
			}
			if err != nil {
				log.WithFields(log.Fields{
					"job":   idx,
					"error": err,
				}).Warn("Pooled job failed")
			} else {
				log.WithFields(log.Fields{
					"job":      idx,
					"duration": FormatDuration(results[idx].Duration),
				}).Debug("Pooled job finished")
			}
		}(i, job)
	}

	wg.Wait()
	p.jobs = nil
	return results
}
