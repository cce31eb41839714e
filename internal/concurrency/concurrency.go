package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a new pool where each task respects context cancellation.
// Wait() will only return the first error seen.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// NewJoinPool returns a pool whose tasks always run to completion. Wait()
// blocks until every task has finished and then returns the first error
// that occurred.
func NewJoinPool(maxGoroutines int) *pool.ErrorPool {
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}
	return pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}
