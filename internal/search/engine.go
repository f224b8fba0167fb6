package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docquery/docquery/internal/embed"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/token"
)

// QueryRewriter generates alternative phrasings of a query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) ([]string, error)
	Available(ctx context.Context) bool
}

// Engine runs hybrid searches over one IndexStore. Lexical and vector
// retrieval run in parallel per query; their candidates are fused and
// optionally reranked.
type Engine struct {
	analyzer *token.Analyzer
	embedder embed.Embedder
	indexes  *store.IndexStore
	metadata store.MetadataStore
	fusion   *MinMaxFusion
	rewriter QueryRewriter // nil disables expansion
	reranker Scorer        // nil disables reranking
	config   EngineConfig
}

// NewEngine wires the read path. rewriter and reranker may be nil;
// the corresponding option then quietly does nothing.
func NewEngine(analyzer *token.Analyzer, embedder embed.Embedder, indexes *store.IndexStore, metadata store.MetadataStore, rewriter QueryRewriter, reranker Scorer, config EngineConfig) *Engine {
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 5
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = 100
	}
	if config.PoolMultiplier <= 0 {
		config.PoolMultiplier = 3
	}
	if config.DefaultWeights == (Weights{}) {
		config.DefaultWeights = DefaultWeights()
	}
	return &Engine{
		analyzer: analyzer,
		embedder: embedder,
		indexes:  indexes,
		metadata: metadata,
		fusion:   NewMinMaxFusion(),
		rewriter: rewriter,
		reranker: reranker,
		config:   config,
	}
}

// Search executes one hybrid query. Malformed input is not an error:
// an empty owner has no documents and an empty query matches nothing,
// so both come back as an empty response with the matching status.
func (e *Engine) Search(ctx context.Context, opts Options) (*Response, error) {
	if opts.Owner == "" {
		return &Response{Results: []*Result{}, Status: StatusNoDocuments}, nil
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = e.config.DefaultTopK
	}
	if topK > e.config.MaxTopK {
		topK = e.config.MaxTopK
	}
	weights := e.config.DefaultWeights
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = e.config.DefaultMinScore
	}

	docCount, err := e.metadata.CountDocuments(ctx, opts.Owner)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if docCount == 0 {
		return &Response{Results: []*Result{}, Status: StatusNoDocuments}, nil
	}
	if strings.TrimSpace(opts.Query) == "" {
		return &Response{Results: []*Result{}, Status: StatusNoMatches}, nil
	}

	queries := []string{opts.Query}
	var variants []string
	if opts.Expand && e.rewriter != nil {
		rewritten, err := e.rewriter.Rewrite(ctx, opts.Query)
		if err != nil {
			slog.Warn("query rewrite failed, searching original only",
				slog.String("error", err.Error()))
		} else {
			variants = rewritten
			queries = append(queries, rewritten...)
		}
	}

	poolSize := topK * e.config.PoolMultiplier
	merged := make(map[string]*FusedResult)
	for _, query := range queries {
		fused, err := e.runQuery(ctx, query, opts.Owner, opts.SourceFilter, poolSize, weights)
		if err != nil {
			return nil, err
		}
		// A chunk found by several phrasings keeps its best score.
		for _, fr := range fused {
			if prev, ok := merged[fr.ChunkID]; !ok || fr.Score > prev.Score {
				merged[fr.ChunkID] = fr
			}
		}
	}

	candidates := e.fusion.toSortedSlice(merged)

	response := &Response{Status: StatusOK, Variants: variants}
	if opts.Rerank && e.reranker != nil {
		reranked, err := e.rerank(ctx, opts.Query, candidates, topK)
		if err != nil {
			slog.Warn("reranking failed, keeping fused order",
				slog.String("error", err.Error()))
		} else {
			candidates = reranked
			response.Reranked = true
		}
	}

	results, err := e.enrich(ctx, candidates, topK, minScore)
	if err != nil {
		return nil, err
	}
	response.Results = results
	if len(results) == 0 {
		response.Status = StatusNoMatches
	}
	return response, nil
}

// runQuery executes both retrieval signals for one query string and
// fuses them.
func (e *Engine) runQuery(ctx context.Context, query, owner, sourceFilter string, poolSize int, weights Weights) ([]*FusedResult, error) {
	pair, ok := e.indexes.Peek(owner)
	if !ok {
		return []*FusedResult{}, nil
	}

	var (
		lexical []store.LexicalResult
		vector  []store.VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		terms := e.analyzer.Analyze(query)
		results, err := pair.Lexical.Search(gctx, terms, poolSize, sourceFilter)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = results
		return nil
	})
	g.Go(func() error {
		queryVector, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		results, err := pair.Vector.Search(gctx, queryVector, poolSize, sourceFilter)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vector = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return e.fusion.Fuse(lexical, vector, weights), nil
}

// rerank scores the top candidates with the cross-encoder and reorders
// them. Only topK * PoolMultiplier candidates are scored; passages
// below that never make the response anyway.
func (e *Engine) rerank(ctx context.Context, query string, candidates []*FusedResult, topK int) ([]*FusedResult, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	pool := topK * e.config.PoolMultiplier
	if len(candidates) > pool {
		candidates = candidates[:pool]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}
	if len(chunks) != len(candidates) {
		return nil, fmt.Errorf("load passages: got %d of %d chunks", len(chunks), len(candidates))
	}

	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = c.Text
	}
	scores, err := e.reranker.Score(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages", len(scores), len(candidates))
	}

	reranked := make([]*FusedResult, len(candidates))
	for i, c := range candidates {
		clone := *c
		clone.Score = scores[i]
		reranked[i] = &clone
	}
	sort.Slice(reranked, func(i, j int) bool {
		return compareReranked(reranked[i], reranked[j])
	})
	return reranked, nil
}

// enrich resolves candidate IDs to chunk records, applies the score
// floor and truncates to topK.
func (e *Engine) enrich(ctx context.Context, candidates []*FusedResult, topK int, minScore float64) ([]*Result, error) {
	kept := make([]*FusedResult, 0, topK)
	for _, c := range candidates {
		if c.Score < minScore {
			continue
		}
		kept = append(kept, c)
		if len(kept) == topK {
			break
		}
	}
	if len(kept) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(kept))
	for i, c := range kept {
		ids[i] = c.ChunkID
	}
	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]*store.ChunkRecord, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]*Result, 0, len(kept))
	for _, c := range kept {
		chunk, ok := byID[c.ChunkID]
		if !ok {
			// Index is ahead of metadata; skip rather than return a
			// result with no text.
			slog.Warn("chunk missing from metadata store",
				slog.String("chunk_id", c.ChunkID))
			continue
		}
		results = append(results, &Result{
			Chunk:        chunk,
			Score:        c.Score,
			LexicalScore: c.LexicalScore,
			VectorScore:  c.VectorScore,
			InBoth:       c.InBoth,
		})
	}
	return results, nil
}
