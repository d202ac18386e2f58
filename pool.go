package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent Notifier calls when no pool is injected.
// Sized for the restock fan-out of one popular product.
const DefaultWorkers = 32

// Pool bounds how many candidates are processed at once.
//
// The bound holds across every ForEach running on the same Pool, so one Pool
// shared by coordinators, overlapping sweeps and concurrent HTTP triggers
// caps outbound Notifier calls as a whole.
type Pool struct {
	workers int
	slots   *semaphore.Weighted
}

// NewPool creates a pool running at most workers tasks at a time.
// Values below 1 are clamped to 1.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, slots: semaphore.NewWeighted(int64(workers))}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// ForEach calls fn for every index in [0, n) and waits for all of them.
// At most Workers calls run at once across all concurrent ForEach calls on p.
//
// fn owns its error handling: a failing item never stops the others. fn is
// still called after ctx is done, without holding a slot, so it can account
// for the skipped item.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := p.slots.Acquire(ctx, 1); err != nil {
				fn(ctx, i)
				return nil
			}
			defer p.slots.Release(1)

			fn(ctx, i)
			return nil
		})
	}

	_ = g.Wait()
}
