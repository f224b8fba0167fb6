package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/docquery/internal/chunk"
	"github.com/docquery/docquery/internal/embed"
	"github.com/docquery/docquery/internal/index"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/token"
)

type engineFixture struct {
	engine   *Engine
	indexer  *index.Indexer
	rewriter *fakeRewriter
	scorer   *fakeScorer
}

type fakeRewriter struct {
	variants []string
	err      error
	calls    int
}

func (f *fakeRewriter) Rewrite(_ context.Context, _ string) ([]string, error) {
	f.calls++
	return f.variants, f.err
}

func (f *fakeRewriter) Available(_ context.Context) bool { return f.err == nil }

type fakeScorer struct {
	err   error
	score func(passage string) float64
}

func (f *fakeScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	scores := make([]float64, len(passages))
	for i, p := range passages {
		scores[i] = f.score(p)
	}
	return scores, nil
}

func (f *fakeScorer) Available(_ context.Context) bool { return f.err == nil }
func (f *fakeScorer) Close() error                     { return nil }

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	analyzer := token.NewAnalyzer()
	embedder := embed.NewStaticEmbedder()
	indexes := store.NewIndexStore(store.DefaultLexicalConfig(), store.DefaultVectorConfig(embedder.Dimensions()))
	metadata, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = metadata.Close()
		_ = indexes.Close()
	})

	rewriter := &fakeRewriter{}
	scorer := &fakeScorer{score: func(string) float64 { return 0.5 }}
	return &engineFixture{
		engine:   NewEngine(analyzer, embedder, indexes, metadata, rewriter, scorer, DefaultEngineConfig()),
		indexer:  index.NewIndexer(chunk.NewChunker(), analyzer, embedder, indexes, metadata),
		rewriter: rewriter,
		scorer:   scorer,
	}
}

func (f *engineFixture) mustIndex(t *testing.T, owner, source, text string) {
	t.Helper()
	result, err := f.indexer.Index(context.Background(), index.Request{Owner: owner, Source: source, Text: text})
	require.NoError(t, err)
	require.Equal(t, index.StatusOK, result.Status)
}

func attentionDoc() string {
	var b strings.Builder
	b.WriteString("# Attention\n\n")
	b.WriteString("The attention mechanism weighs every token against every other token. ")
	b.WriteString("Multi-head attention runs several attention heads in parallel, each with its own projection. ")
	b.WriteString(strings.Repeat("Scaled dot product scores are softmaxed into weights over the values. ", 10))
	return b.String()
}

func cnnDoc() string {
	var b strings.Builder
	b.WriteString("# Convolutions\n\n")
	b.WriteString("A convolutional network slides learned filters over the input image. ")
	b.WriteString(strings.Repeat("Pooling layers downsample feature maps between convolution blocks. ", 10))
	return b.String()
}

func TestSearchRanksRelevantDocumentFirst(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())

	resp, err := f.engine.Search(context.Background(), Options{
		Query: "What is multi-head attention?",
		Owner: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, resp.Status)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "attention.md", resp.Results[0].Chunk.Source)
	assert.False(t, resp.Reranked)

	for _, r := range resp.Results {
		assert.NotEmpty(t, r.Chunk.Text)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearchNoDocuments(t *testing.T) {
	f := newEngineFixture(t)

	resp, err := f.engine.Search(context.Background(), Options{Query: "anything", Owner: "alice"})
	require.NoError(t, err)

	assert.Equal(t, StatusNoDocuments, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestSearchNoMatchesWithSourceFilter(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())

	resp, err := f.engine.Search(context.Background(), Options{
		Query:        "attention",
		Owner:        "alice",
		SourceFilter: "does-not-exist.md",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusNoMatches, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestSearchSourceFilterRestricts(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())

	resp, err := f.engine.Search(context.Background(), Options{
		Query:        "attention mechanism",
		Owner:        "alice",
		SourceFilter: "cnn.md",
	})
	require.NoError(t, err)

	for _, r := range resp.Results {
		assert.Equal(t, "cnn.md", r.Chunk.Source)
	}
}

func TestSearchOwnerIsolation(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())

	resp, err := f.engine.Search(context.Background(), Options{Query: "attention", Owner: "bob"})
	require.NoError(t, err)

	assert.Equal(t, StatusNoDocuments, resp.Status)
}

func TestSearchIdenticalTextAcrossOwners(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "bob", "attention.md", attentionDoc())

	for _, owner := range []string{"alice", "bob"} {
		resp, err := f.engine.Search(context.Background(), Options{Query: "attention heads", Owner: owner})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Results, "owner %s", owner)
		for _, r := range resp.Results {
			assert.Equal(t, owner, r.Chunk.Owner)
		}
	}
}

func TestSearchTopKLimits(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())

	resp, err := f.engine.Search(context.Background(), Options{
		Query: "networks and attention layers",
		Owner: "alice",
		TopK:  1,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearchMinScoreFiltersEverything(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())

	resp, err := f.engine.Search(context.Background(), Options{
		Query:    "attention",
		Owner:    "alice",
		MinScore: 1.5,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusNoMatches, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestSearchExpandMergesVariants(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())
	f.rewriter.variants = []string{"convolutional filters", "pooling layers"}

	resp, err := f.engine.Search(context.Background(), Options{
		Query:  "attention",
		Owner:  "alice",
		Expand: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.rewriter.calls)
	assert.Equal(t, []string{"convolutional filters", "pooling layers"}, resp.Variants)

	// The variant queries pull in cnn.md chunks the original would
	// have ranked lower or missed.
	sources := make(map[string]bool)
	for _, r := range resp.Results {
		sources[r.Chunk.Source] = true
	}
	assert.True(t, sources["attention.md"])
	assert.True(t, sources["cnn.md"])
}

func TestSearchExpandFailOpen(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.rewriter.err = fmt.Errorf("model not loaded")

	resp, err := f.engine.Search(context.Background(), Options{
		Query:  "attention",
		Owner:  "alice",
		Expand: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, resp.Status)
	assert.NotEmpty(t, resp.Results)
	assert.Empty(t, resp.Variants)
}

func TestSearchRerankReorders(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())

	// Score convolution passages above everything else regardless of
	// the fused order.
	f.scorer.score = func(passage string) float64 {
		if strings.Contains(passage, "convolution") || strings.Contains(passage, "filters") {
			return 0.99
		}
		return 0.01
	}

	resp, err := f.engine.Search(context.Background(), Options{
		Query:  "attention",
		Owner:  "alice",
		Rerank: true,
	})
	require.NoError(t, err)

	assert.True(t, resp.Reranked)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "cnn.md", resp.Results[0].Chunk.Source)
	assert.InDelta(t, 0.99, resp.Results[0].Score, 1e-9)
}

func TestSearchRerankFailOpen(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.scorer.err = fmt.Errorf("reranker offline")

	resp, err := f.engine.Search(context.Background(), Options{
		Query:  "attention",
		Owner:  "alice",
		Rerank: true,
	})
	require.NoError(t, err)

	assert.False(t, resp.Reranked)
	assert.Equal(t, StatusOK, resp.Status)
	assert.NotEmpty(t, resp.Results)
}

func TestSearchEmptyQueryIsNoMatches(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())

	for _, query := range []string{"", "   \t"} {
		resp, err := f.engine.Search(context.Background(), Options{Query: query, Owner: "alice"})
		require.NoError(t, err)
		assert.Equal(t, StatusNoMatches, resp.Status)
		assert.Empty(t, resp.Results)
	}
}

func TestSearchEmptyQueryEmptyCollection(t *testing.T) {
	f := newEngineFixture(t)

	resp, err := f.engine.Search(context.Background(), Options{Query: "", Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StatusNoDocuments, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestSearchEmptyOwnerIsNoDocuments(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())

	resp, err := f.engine.Search(context.Background(), Options{Query: "attention"})
	require.NoError(t, err)
	assert.Equal(t, StatusNoDocuments, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestSearchRerankTiesKeepFusedOrder(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())

	opts := Options{Query: "attention layers", Owner: "alice"}
	plain, err := f.engine.Search(context.Background(), opts)
	require.NoError(t, err)
	require.NotEmpty(t, plain.Results)

	f.scorer.score = func(string) float64 { return 0.5 }
	opts.Rerank = true
	reranked, err := f.engine.Search(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, reranked.Reranked)

	// When the cross-encoder cannot separate the candidates, the
	// hybrid order stands.
	require.Len(t, reranked.Results, len(plain.Results))
	for i := range plain.Results {
		assert.Equal(t, plain.Results[i].Chunk.ID, reranked.Results[i].Chunk.ID)
	}
}

func TestSearchDeterministic(t *testing.T) {
	f := newEngineFixture(t)
	f.mustIndex(t, "alice", "attention.md", attentionDoc())
	f.mustIndex(t, "alice", "cnn.md", cnnDoc())

	opts := Options{Query: "attention layers", Owner: "alice"}
	first, err := f.engine.Search(context.Background(), opts)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := f.engine.Search(context.Background(), opts)
		require.NoError(t, err)
		require.Equal(t, len(first.Results), len(again.Results))
		for j := range first.Results {
			assert.Equal(t, first.Results[j].Chunk.ID, again.Results[j].Chunk.ID)
			assert.Equal(t, first.Results[j].Score, again.Results[j].Score)
		}
	}
}
