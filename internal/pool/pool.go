// Package pool runs indexed units of work under a concurrency limit. Each unit
// owns one result slot; slots are only read after the join.
package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Run calls fn for every index in [0, n) with at most limit calls in flight and
// blocks until all of them return.
//
// fn returns a non-nil error only for failures that must abort the whole
// phase. The first such error cancels the context seen by every call, no
// further indexes are started, and Run returns that error. Failures that only
// concern one unit must be recorded in its slot and reported as nil.
func Run(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pool canceled: %w", err)
	}
	return nil
}

// Collect is Run with a typed result slot per index. On error the returned
// slice still holds the slots that completed.
func Collect[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	if n < 0 {
		n = 0
	}
	slots := make([]T, n)
	err := Run(ctx, limit, n, func(ctx context.Context, i int) error {
		val, err := fn(ctx, i)
		if err != nil {
			return err
		}
		slots[i] = val
		return nil
	})
	return slots, err
}
