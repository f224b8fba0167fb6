// Package search provides hybrid retrieval combining BM25 and vector
// search. Signals are fused with min-max normalization and a weighted
// sum.
package search

import (
	"time"

	"github.com/docquery/docquery/internal/store"
)

// Status summarizes the outcome of a search.
type Status string

const (
	// StatusOK means results were returned.
	StatusOK Status = "ok"
	// StatusNoDocuments means the owner has nothing indexed. Callers
	// can distinguish "index something first" from a query that simply
	// found nothing.
	StatusNoDocuments Status = "no_documents"
	// StatusNoMatches means documents exist but none matched.
	StatusNoMatches Status = "no_matches"
)

// Options configures a search query.
type Options struct {
	// Query is the search text. Required.
	Query string

	// Owner scopes the search to one collection. Required.
	Owner string

	// TopK is the number of results to return (default: 5, max: 100).
	TopK int

	// SourceFilter restricts results to one source document.
	SourceFilter string

	// Expand enables LLM query rewriting. Variants of the query are
	// searched alongside the original and merged.
	Expand bool

	// Rerank enables cross-encoder reranking of the fused candidates.
	Rerank bool

	// Weights overrides the default lexical/vector fusion weights.
	Weights *Weights

	// MinScore drops results whose fused score falls below it.
	MinScore float64
}

// Weights balances the two retrieval signals. They need not sum to 1;
// fused scores are comparable only within a single response.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights returns the even split that works well for mixed
// natural-language and keyword queries.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// Result is one scored chunk with its provenance.
type Result struct {
	// Chunk is the full chunk record from the metadata store.
	Chunk *store.ChunkRecord

	// Score is the fused score in [0,1]. When reranking ran it is the
	// cross-encoder score instead.
	Score float64

	// LexicalScore is the raw BM25 score (0 if the chunk was not in
	// the lexical candidates).
	LexicalScore float64

	// VectorScore is the raw cosine similarity (0 if absent).
	VectorScore float64

	// InBoth marks chunks found by both signals.
	InBoth bool
}

// Response is a complete search answer.
type Response struct {
	Results []*Result
	Status  Status

	// Reranked reports whether the cross-encoder actually ran. It is
	// false when reranking was not requested or the scorer was
	// unavailable and the engine fell back to fused order.
	Reranked bool

	// Variants holds the rewritten queries that were searched in
	// addition to the original, when expansion ran.
	Variants []string
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultTopK is the result count when Options.TopK is zero (default: 5).
	DefaultTopK int

	// MaxTopK caps Options.TopK (default: 100).
	MaxTopK int

	// PoolMultiplier sizes the candidate pool fetched from each index
	// as TopK * PoolMultiplier (default: 3). A pool larger than TopK
	// gives fusion room to promote chunks ranked differently by the
	// two signals.
	PoolMultiplier int

	// DefaultWeights are the fusion weights when Options.Weights is nil.
	DefaultWeights Weights

	// DefaultMinScore is the score floor when Options.MinScore is zero.
	DefaultMinScore float64

	// Timeout bounds one Search call (default: 10s).
	Timeout time.Duration
}

// DefaultEngineConfig returns the default engine parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:    5,
		MaxTopK:        100,
		PoolMultiplier: 3,
		DefaultWeights: DefaultWeights(),
		Timeout:        10 * time.Second,
	}
}
