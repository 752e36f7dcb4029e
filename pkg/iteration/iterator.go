// Package iteration runs a function, or a whole process, over every item
// of a list.
package iteration

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Strategy selects how items are processed.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// Config configures an Iterator.
type Config struct {
	Strategy Strategy
	// MaxConcurrent bounds parallel workers; zero means runtime.NumCPU().
	MaxConcurrent int
}

// ItemFunc is called for each item with its index.
type ItemFunc func(ctx context.Context, item any, index int) (any, error)

// Iterator applies an ItemFunc to lists.
type Iterator struct {
	config Config
}

// NewIterator creates an iterator. An empty strategy is sequential.
func NewIterator(config Config) *Iterator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	if config.Strategy == "" {
		config.Strategy = StrategySequential
	}
	return &Iterator{config: config}
}

// Config returns the effective configuration.
func (it *Iterator) Config() Config { return it.config }

// Process returns fn applied to every item, in item order. It stops at
// the first error, which names the failing index.
func (it *Iterator) Process(ctx context.Context, items []any, fn ItemFunc) ([]any, error) {
	results := make([]any, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if it.config.Strategy == StrategyParallel {
		if err := it.parallel(ctx, items, results, fn); err != nil {
			return nil, err
		}
		return results, nil
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := fn(ctx, item, i)
		if err != nil {
			return nil, fmt.Errorf("failed processing item %d: %w", i, err)
		}
		results[i] = out
	}
	return results, nil
}

func (it *Iterator) parallel(ctx context.Context, items, results []any, fn ItemFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(it.config.MaxConcurrent)
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := fn(ctx, item, i)
			if err != nil {
				return fmt.Errorf("failed processing item %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	return g.Wait()
}
