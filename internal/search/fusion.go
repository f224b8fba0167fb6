package search

import (
	"sort"

	"github.com/docquery/docquery/internal/store"
)

// FusedResult is a single candidate after score fusion.
type FusedResult struct {
	ChunkID string

	// Score is the weighted sum of the normalized signals, in [0,1]
	// when the weights sum to 1. Reranking replaces it with the
	// cross-encoder score.
	Score float64

	// FusedScore preserves the hybrid score after reranking replaced
	// Score, so reranked ties still break on it.
	FusedScore float64

	// LexicalScore is the raw BM25 score (0 if absent from the
	// lexical candidates).
	LexicalScore float64

	// LexicalNorm is the min-max normalized BM25 score.
	LexicalNorm float64

	// VectorScore is the raw cosine similarity (0 if absent).
	VectorScore float64

	// VectorNorm is the min-max normalized similarity.
	VectorNorm float64

	// InBoth marks candidates present in both lists.
	InBoth bool
}

// MinMaxFusion combines lexical and vector candidates by normalizing
// each signal to [0,1] within its own candidate pool and taking a
// weighted sum. Unlike rank-based fusion this preserves the shape of
// the score distribution: a lexical candidate that scored far above
// the rest of its pool keeps that margin after fusion.
//
// A chunk missing from one pool contributes 0 for that signal.
type MinMaxFusion struct{}

// NewMinMaxFusion creates a fusion instance.
func NewMinMaxFusion() *MinMaxFusion {
	return &MinMaxFusion{}
}

// Fuse combines the two candidate lists.
//
// Results are sorted by: Score (desc) → raw VectorScore (desc) →
// ChunkID (asc). The vector tie-break favors semantic closeness when
// the weighted sums coincide, and the ID tie-break keeps ordering
// deterministic.
func (f *MinMaxFusion) Fuse(lexical []store.LexicalResult, vector []store.VectorResult, weights Weights) []*FusedResult {
	if len(lexical) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	results := make(map[string]*FusedResult, len(lexical)+len(vector))

	lexMin, lexMax := lexicalBounds(lexical)
	for _, r := range lexical {
		fr := f.getOrCreate(results, r.ID)
		fr.LexicalScore = r.Score
		fr.LexicalNorm = normalize(r.Score, lexMin, lexMax)
	}

	vecMin, vecMax := vectorBounds(vector)
	for _, r := range vector {
		fr := f.getOrCreate(results, r.ID)
		fr.VectorScore = float64(r.Score)
		fr.VectorNorm = normalize(float64(r.Score), vecMin, vecMax)
		if fr.LexicalNorm > 0 || fr.LexicalScore > 0 {
			fr.InBoth = true
		}
	}

	for _, fr := range results {
		fr.Score = weights.Lexical*fr.LexicalNorm + weights.Vector*fr.VectorNorm
		fr.FusedScore = fr.Score
	}

	return f.toSortedSlice(results)
}

// normalize maps score into [0,1] over [min, max]. A degenerate pool
// where every candidate scored the same normalizes to 1: all of them
// are that pool's best answer.
func normalize(score, min, max float64) float64 {
	if max > min {
		return (score - min) / (max - min)
	}
	return 1.0
}

func lexicalBounds(results []store.LexicalResult) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min, max = results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	return min, max
}

func vectorBounds(results []store.VectorResult) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min, max = float64(results[0].Score), float64(results[0].Score)
	for _, r := range results[1:] {
		s := float64(r.Score)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

func (f *MinMaxFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

func (f *MinMaxFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

// compare returns true if a ranks before b.
func (f *MinMaxFusion) compare(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.VectorScore != b.VectorScore {
		return a.VectorScore > b.VectorScore
	}
	return a.ChunkID < b.ChunkID
}

// compareReranked orders candidates whose Score is the cross-encoder
// score. Ties break on the hybrid score the candidate came in with,
// then on ID for determinism.
func compareReranked(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	return a.ChunkID < b.ChunkID
}
