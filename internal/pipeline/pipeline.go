// Package pipeline runs a bounded producer → workers → aggregator pipeline.
//
// A single producer feeds inputs through a channel of capacity W to W worker
// goroutines; workers send transformed results through a second channel of
// capacity W to one aggregator. The first error anywhere cancels the rest and
// is returned from Run. Result order is unspecified; callers sort.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrConcurrent marks failures of the pipeline machinery itself: a worker
// panic, or a hand-off that could not complete because the run was cancelled.
var ErrConcurrent = errors.New("pipeline: concurrency failure")

// DefaultWorkers is one less than the usable CPUs, and at least one.
func DefaultWorkers() int {
	return max(runtime.GOMAXPROCS(0)-1, 1)
}

// Transform turns one input into at most one result. Returning ok=false drops
// the input without error.
type Transform[In, Out any] func(ctx context.Context, in In) (out Out, ok bool, err error)

// Aggregate consumes the result channel. It may return before the channel is
// closed; Run discards whatever results are still pending.
type Aggregate[Mid, Out any] func(ctx context.Context, results <-chan Mid) (Out, error)

// Run pushes every item through transform on workers goroutines and hands the
// results to aggregate. workers < 1 is treated as 1.
func Run[In, Mid, Out any](
	ctx context.Context,
	items []In,
	workers int,
	transform Transform[In, Mid],
	aggregate Aggregate[Mid, Out],
) (Out, error) {
	var out Out
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	inputs := make(chan In, workers)
	results := make(chan Mid, workers)

	// Producer.
	g.Go(func() error {
		defer close(inputs)
		for _, item := range items {
			select {
			case inputs <- item:
			case <-ctx.Done():
				return fmt.Errorf("%w: enqueue input: %w", ErrConcurrent, context.Cause(ctx))
			}
		}
		return nil
	})

	// Workers. results closes once every worker has returned.
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() (err error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: worker panic: %v", ErrConcurrent, r)
				}
			}()
			for in := range inputs {
				res, ok, err := transform(ctx, in)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return fmt.Errorf("%w: deliver result: %w", ErrConcurrent, context.Cause(ctx))
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Aggregator.
	g.Go(func() error {
		v, err := aggregate(ctx, results)
		// Workers block on results until every one has been received.
		for range results {
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})

	if err := g.Wait(); err != nil {
		var zero Out
		return zero, err
	}
	return out, nil
}

// Collect is the usual aggregator: it gathers every result into a slice.
func Collect[T any](ctx context.Context, results <-chan T) ([]T, error) {
	var out []T
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return out, nil
			}
			out = append(out, r)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: collect: %w", ErrConcurrent, context.Cause(ctx))
		}
	}
}
