package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// TestPoolRunsAllJobs checks that every queued job runs exactly once
// and that results come back in submission order.
func TestPoolRunsAllJobs(t *testing.T) {
	pool := NewPool(2)
	var count int64

	for i := 0; i < 8; i++ {
		pool.Add(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}

	results := pool.Wait(context.Background())
	if count != 8 {
		t.Errorf("Expected 8 jobs to run, got %d", count)
	}
	if len(results) != 8 {
		t.Fatalf("Expected 8 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("Expected result %d at position %d, got index %d", i, i, r.Index)
		}
		if r.Err != nil {
			t.Errorf("Expected no error for job %d, got %v", i, r.Err)
		}
	}
}

// TestPoolCollectsErrors checks that a failing job does not stop the
// batch and that its error is reported at the right index.
func TestPoolCollectsErrors(t *testing.T) {
	pool := NewPool(3)
	boom := errors.New("boom")

	pool.Add(func(ctx context.Context) error { return nil })
	pool.Add(func(ctx context.Context) error { return boom })
	pool.Add(func(ctx context.Context) error { return nil })

	results := pool.Wait(context.Background())
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("Expected surrounding jobs to succeed, got %v and %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("Expected job 1 to report its error, got %v", results[1].Err)
	}
}

// TestPoolBoundsConcurrency checks that no more than the configured
// number of jobs run at once.
func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var mu sync.Mutex
	running, peak := 0, 0

	for i := 0; i < 10; i++ {
		pool.Add(func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}

	pool.Wait(context.Background())
	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, observed %d", peak)
	}
}

// TestPoolReusable checks that the queue is cleared after Wait.
func TestPoolReusable(t *testing.T) {
	pool := NewPool(1)
	pool.Add(func(ctx context.Context) error { return nil })
	pool.Wait(context.Background())

	pool.Add(func(ctx context.Context) error { return nil })
	results := pool.Wait(context.Background())
	if len(results) != 1 {
		t.Errorf("Expected 1 result on second batch, got %d", len(results))
	}
}
