// Package workerpool offers a bounded fan-out-and-join helper for CPU-bound
// RPC method bodies that want off-loop execution (spec.md §5), built on the
// same pattern tracer.Logger uses to start/stop adapters concurrently: a
// fixed number of goroutines, a WaitGroup join, and per-task error capture.
package workerpool

import (
	"context"
	"fmt"
	"sync"
)

// Pool runs submitted tasks across at most Size concurrent goroutines.
type Pool struct {
	sem chan struct{}
}

// New builds a Pool that runs at most size tasks concurrently. size <= 0
// is treated as 1.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Run executes every fn concurrently (bounded by the pool's size),
// returning the first non-nil error or nil once all have completed. ctx
// cancellation stops submitting new tasks but does not interrupt ones
// already running.
func (p *Pool) Run(ctx context.Context, fns ...func(context.Context) error) error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		case p.sem <- struct{}{}:
		}
		wg.Add(1)
		i, fn := i, fn
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()
			errs[i] = fn(ctx)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("workerpool: task %d: %w", i, err)
		}
	}
	return nil
}
