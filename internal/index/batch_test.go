package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexBatchAllSucceed(t *testing.T) {
	fx := newFixture(t)

	requests := make([]Request, 6)
	for i := range requests {
		requests[i] = Request{
			Owner:  "alice",
			Source: fmt.Sprintf("doc-%d.md", i),
			Text:   docText(),
		}
	}

	summary := fx.indexer.IndexBatch(context.Background(), requests, 3, nil)
	assert.Equal(t, 6, summary.Indexed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	stats, err := fx.indexer.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Documents)
}

func TestIndexBatchCountsSkipped(t *testing.T) {
	fx := newFixture(t)

	req := Request{Owner: "alice", Source: "doc.md", Text: docText()}
	_, err := fx.indexer.Index(context.Background(), req)
	require.NoError(t, err)

	summary := fx.indexer.IndexBatch(context.Background(), []Request{
		req,
		{Owner: "alice", Source: "other.md", Text: docText() + " Convolution filters slide over the input."},
	}, 2, nil)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
}

func TestIndexBatchCollectsFailures(t *testing.T) {
	fx := newFixture(t)

	summary := fx.indexer.IndexBatch(context.Background(), []Request{
		{Owner: "alice", Source: "good.md", Text: docText()},
		{Owner: "alice", Source: "", Text: "missing source"},
	}, 2, nil)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Failed)

	var failedSources []string
	for _, r := range summary.Results {
		if r.Err != nil {
			failedSources = append(failedSources, r.Source)
		}
	}
	assert.Equal(t, []string{""}, failedSources)
}

func TestIndexBatchReportsProgress(t *testing.T) {
	fx := newFixture(t)

	requests := make([]Request, 4)
	for i := range requests {
		requests[i] = Request{
			Owner:  "alice",
			Source: fmt.Sprintf("doc-%d.md", i),
			Text:   docText(),
		}
	}

	var mu sync.Mutex
	var events []int
	fx.indexer.IndexBatch(context.Background(), requests, 2, func(done, total int, source string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 4, total)
		events = append(events, done)
	})

	assert.Len(t, events, 4)
	assert.Contains(t, events, 4)
}

func TestIndexBatchPreservesRequestOrder(t *testing.T) {
	fx := newFixture(t)

	requests := make([]Request, 5)
	for i := range requests {
		requests[i] = Request{
			Owner:  "alice",
			Source: fmt.Sprintf("doc-%d.md", i),
			Text:   docText(),
		}
	}

	summary := fx.indexer.IndexBatch(context.Background(), requests, 4, nil)
	require.Len(t, summary.Results, 5)
	for i, r := range summary.Results {
		assert.Equal(t, fmt.Sprintf("doc-%d.md", i), r.Source)
	}
}
