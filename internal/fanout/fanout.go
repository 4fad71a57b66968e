// Package fanout runs independent conversions concurrently and collects their
// results by index, so the order of a collection never depends on completion
// order.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type limitKey struct{}

// WithLimit returns ctx under which every Gather keeps at most n calls in
// flight. n <= 0 removes the bound.
func WithLimit(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, limitKey{}, n)
}

// Gather calls fn for every index in [0, n) concurrently and returns the
// results in index order. The first error cancels the shared context and is
// returned; partial results are discarded. The bound set with WithLimit
// applies.
func Gather[T any](ctx context.Context, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	limit, ok := ctx.Value(limitKey{}).(int)
	if !ok {
		limit = -1
	}
	return GatherLimit(ctx, n, limit, fn)
}

// GatherLimit is Gather with at most limit calls in flight. A limit <= 0
// means no bound.
func GatherLimit[T any](ctx context.Context, n, limit int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	switch n {
	case 0:
		return out, nil
	case 1:
		v, err := fn(ctx, 0)
		if err != nil {
			return nil, err
		}
		out[0] = v
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(min(limit, n))
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			// indices are unique per goroutine, no lock needed
			v, err := fn(gctx, i)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
