package extraction

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// Mode is how pages of one document are scheduled.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Options tune scheduling.
type Options struct {
	// SizeThreshold in bytes; larger sources run in parallel.
	SizeThreshold int64
	// PageThreshold; documents with more pages run in parallel.
	PageThreshold int
	// Workers is the pool size in parallel mode; 0 means runtime.NumCPU().
	Workers int
	// MaxConsecutiveFailures stops page iteration after that many failed pages in a row.
	MaxConsecutiveFailures int
}

func DefaultOptions() Options {
	return Options{
		SizeThreshold:          10 * 1024 * 1024,
		PageThreshold:          20,
		Workers:                0,
		MaxConsecutiveFailures: 3,
	}
}

// SelectMode picks parallel mode for large or long documents. sourceSize is
// compared in bytes, not whole MiB.
func (o Options) SelectMode(sourceSize int64, pageCount int) Mode {
	if sourceSize > o.SizeThreshold || pageCount > o.PageThreshold {
		return ModeParallel
	}
	return ModeSequential
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

type pageFunc func(ctx context.Context, ref pageRef) PageResult

// dispatcher drives page tasks to completion. A failing task never affects
// the others; only cancellation of ctx fails the whole run.
type dispatcher struct {
	workers int
	logger  logger.Logger
}

func (d *dispatcher) run(ctx context.Context, mode Mode, pages *pageIterator, fn pageFunc) ([]PageResult, error) {
	if mode == ModeParallel {
		return d.runParallel(ctx, pages, fn)
	}
	return d.runSequential(ctx, pages, fn)
}

func (d *dispatcher) runSequential(ctx context.Context, pages *pageIterator, fn pageFunc) ([]PageResult, error) {
	var results []PageResult
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction interrupted: %w", err)
		}
		ref, ok := pages.Next()
		if !ok {
			break
		}
		results = append(results, d.runPage(ctx, ref, fn))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction interrupted: %w", err)
	}
	return results, nil
}

func (d *dispatcher) runParallel(ctx context.Context, pages *pageIterator, fn pageFunc) ([]PageResult, error) {
	var (
		mu      sync.Mutex
		results []PageResult
	)

	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	for ctx.Err() == nil {
		ref, ok := pages.Next()
		if !ok {
			break
		}
		g.Go(func() error {
			result := d.runPage(ctx, ref, fn)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	// Tasks report failures through their results, never through the group.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction interrupted: %w", err)
	}
	sort.Slice(results, func(i, k int) bool { return results[i].Page < results[k].Page })
	return results, nil
}

func (d *dispatcher) runPage(ctx context.Context, ref pageRef, fn pageFunc) (result PageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = PageResult{Page: ref.number(), Err: fmt.Errorf("panic: %v", r)}
		}
		if result.Err != nil && ctx.Err() == nil {
			d.logger.Error("Page extraction failed",
				logger.Int("page", ref.number()),
				logger.Error(result.Err),
			)
		}
	}()
	return fn(ctx, ref)
}
