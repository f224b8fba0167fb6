package index

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one document within a batch.
type BatchResult struct {
	Source string
	Result *Result
	Err    error
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Indexed int
	Skipped int
	Failed  int
	Results []BatchResult
}

// BatchProgress receives completion events as documents finish. It is
// called from worker goroutines.
type BatchProgress func(done, total int, source string)

// IndexBatch indexes requests concurrently. Per-document failures are
// collected rather than aborting the batch; the per-document staging
// in Index keeps each document's replacement atomic regardless.
// workers <= 0 uses GOMAXPROCS.
func (ix *Indexer) IndexBatch(ctx context.Context, requests []Request, workers int, progress BatchProgress) *BatchSummary {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]BatchResult, len(requests))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range requests {
		g.Go(func() error {
			result, err := ix.Index(gctx, req)
			results[i] = BatchResult{Source: req.Source, Result: result, Err: err}
			if progress != nil {
				progress(int(done.Add(1)), len(requests), req.Source)
			}
			return nil
		})
	}
	// Workers never return errors, only context cancellation can.
	_ = g.Wait()

	summary := &BatchSummary{Results: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			summary.Failed++
		case r.Result.Status == StatusSkippedUnchanged:
			summary.Skipped++
		default:
			summary.Indexed++
		}
	}
	slog.Info("batch indexed",
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary
}
