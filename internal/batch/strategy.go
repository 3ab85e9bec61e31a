package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Strategy runs n units of work for one batch and returns once all of them
// have finished. Implementations must call work exactly once per index.
type Strategy interface {
	Run(ctx context.Context, n int, work func(ctx context.Context, i int))
	Name() string
}

// StrategyFor picks Sequential for concurrency <= 1 and Parallel otherwise.
func StrategyFor(concurrency int) Strategy {
	if concurrency <= 1 {
		return Sequential{}
	}
	return Parallel{Concurrency: concurrency}
}

type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Run(ctx context.Context, n int, work func(context.Context, int)) {
	for i := 0; i < n; i++ {
		work(ctx, i)
	}
}

// Parallel splits a batch into chunks of Concurrency items, runs each chunk's
// items at once and waits for the chunk before starting the next one.
type Parallel struct {
	Concurrency int
}

func (Parallel) Name() string { return "parallel" }

func (p Parallel) Run(ctx context.Context, n int, work func(context.Context, int)) {
	size := max(p.Concurrency, 1)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				work(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}
}
