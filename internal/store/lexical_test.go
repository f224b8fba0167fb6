package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexEntries() []LexicalEntry {
	return []LexicalEntry{
		{ID: "c1", Source: "attention.md", Terms: []string{"attention", "mechanism", "weighs", "tokens"}},
		{ID: "c2", Source: "attention.md", Terms: []string{"attention", "heads", "run", "in", "parallel"}},
		{ID: "c3", Source: "cnn.md", Terms: []string{"convolution", "slides", "filters", "over", "images"}},
	}
}

func TestBM25SearchRanksMatches(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	require.NoError(t, x.Add(ctx, lexEntries()))

	results, err := x.Search(ctx, []string{"attention", "mechanism"}, 10, "")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID, "chunk matching both terms ranks first")
	assert.Equal(t, "c2", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestBM25RareTermOutweighsCommon(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	entries := []LexicalEntry{
		{ID: "a", Source: "s", Terms: []string{"model", "training", "loop"}},
		{ID: "b", Source: "s", Terms: []string{"model", "quantization", "steps"}},
		{ID: "c", Source: "s", Terms: []string{"model", "evaluation", "steps"}},
	}
	require.NoError(t, x.Add(ctx, entries))

	// "quantization" appears once in the collection, "model" everywhere.
	results, err := x.Search(ctx, []string{"model", "quantization"}, 10, "")
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "b", results[0].ID)
}

func TestBM25SourceFilter(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	require.NoError(t, x.Add(ctx, lexEntries()))

	results, err := x.Search(ctx, []string{"attention"}, 10, "cnn.md")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = x.Search(ctx, []string{"attention"}, 10, "attention.md")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBM25Delete(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	require.NoError(t, x.Add(ctx, lexEntries()))

	require.NoError(t, x.Delete(ctx, []string{"c1", "missing"}))

	results, err := x.Search(ctx, []string{"mechanism"}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 2, x.Count())
}

func TestBM25ReplaceExistingID(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	require.NoError(t, x.Add(ctx, lexEntries()))

	require.NoError(t, x.Add(ctx, []LexicalEntry{
		{ID: "c1", Source: "attention.md", Terms: []string{"completely", "different"}},
	}))

	results, err := x.Search(ctx, []string{"mechanism"}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = x.Search(ctx, []string{"different"}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, 3, x.Count())
}

func TestBM25EmptyQueryAndLimit(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	require.NoError(t, x.Add(ctx, lexEntries()))

	results, err := x.Search(ctx, nil, 10, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = x.Search(ctx, []string{"attention"}, 1, "")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBM25Deterministic(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	// Two chunks with identical term statistics tie; order must still
	// be stable.
	require.NoError(t, x.Add(ctx, []LexicalEntry{
		{ID: "z-chunk", Source: "s", Terms: []string{"same", "terms"}},
		{ID: "a-chunk", Source: "s", Terms: []string{"same", "terms"}},
	}))

	for i := 0; i < 5; i++ {
		results, err := x.Search(ctx, []string{"same"}, 10, "")
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a-chunk", results[0].ID)
		assert.Equal(t, "z-chunk", results[1].ID)
	}
}

func TestBM25SaveLoad(t *testing.T) {
	x := NewBM25Index(DefaultLexicalConfig())
	ctx := context.Background()
	require.NoError(t, x.Add(ctx, lexEntries()))

	path := filepath.Join(t.TempDir(), "lexical.idx")
	require.NoError(t, x.Save(path))

	loaded := NewBM25Index(DefaultLexicalConfig())
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, x.Count(), loaded.Count())
	want, err := x.Search(ctx, []string{"attention"}, 10, "")
	require.NoError(t, err)
	got, err := loaded.Search(ctx, []string{"attention"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
