// Package batch splits oversized work into sub-batches sized to an
// external API's budget and fans each sub-batch out concurrently.
//
// With pool concurrency C and sub-batch size B a queue makes at most C×B
// concurrent external calls. Budget states that product next to the
// ceiling it must respect, so the invariant is checked at startup rather
// than hidden in constants.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hirelane/taskcore"
)

// Chunk splits items into ceil(len/size) sub-batches of at most size
// items, preserving order. Sub-batches share items' backing array. A
// size below 1 yields a single sub-batch.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Budget ties a queue's concurrency and sub-batch size to the external
// API's concurrent call ceiling.
type Budget struct {
	Concurrency int
	BatchSize   int
	// Ceiling is the external API limit. Zero means unlimited.
	Ceiling int
}

// PeakCalls is the worst-case number of concurrent external calls.
func (b Budget) PeakCalls() int { return b.Concurrency * b.BatchSize }

// Validate reports ErrBudgetExceeded when PeakCalls exceeds Ceiling.
func (b Budget) Validate() error {
	if b.Concurrency < 1 || b.BatchSize < 1 {
		return fmt.Errorf("%w: concurrency %d and batch size %d must be positive",
			taskcore.ErrInvalidPolicy, b.Concurrency, b.BatchSize)
	}
	if b.Ceiling > 0 && b.PeakCalls() > b.Ceiling {
		return fmt.Errorf("%w: concurrency %d × batch size %d = %d > ceiling %d",
			taskcore.ErrBudgetExceeded, b.Concurrency, b.BatchSize, b.PeakCalls(), b.Ceiling)
	}
	return nil
}

// Result is one item's successful output.
type Result[T, R any] struct {
	Item  T
	Value R
}

// Failure is one item's error.
type Failure[T any] struct {
	Item T
	Err  error
}

// Report collects per-item outcomes in input order.
type Report[T, R any] struct {
	Succeeded []Result[T, R]
	Failed    []Failure[T]
}

// Process runs fn over items in sub-batches of size: items within a
// sub-batch run concurrently, sub-batches run one after another. Item
// failures are collected, never retried, and do not stop other items.
// Process returns an error only when ctx ends, checked before and after
// every sub-batch; the report then holds what finished and must not be
// treated as a final outcome.
func Process[T, R any](ctx context.Context, items []T, size int, fn func(context.Context, T) (R, error)) (Report[T, R], error) {
	var report Report[T, R]

	for _, sub := range Chunk(items, size) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		values := make([]R, len(sub))
		errs := make([]error, len(sub))

		var g errgroup.Group
		g.SetLimit(len(sub))
		for i, item := range sub {
			g.Go(func() error {
				values[i], errs[i] = fn(ctx, item)
				return nil
			})
		}
		_ = g.Wait() // item errors are collected, never returned

		for i, item := range sub {
			if errs[i] != nil {
				report.Failed = append(report.Failed, Failure[T]{Item: item, Err: errs[i]})
				continue
			}
			report.Succeeded = append(report.Succeeded, Result[T, R]{Item: item, Value: values[i]})
		}
		// Items cut short by cancellation are not real failures.
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	return report, nil
}
