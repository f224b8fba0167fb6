package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// BM25Index is an in-memory inverted index scoring with BM25. One
// instance covers one owner's collection, so document frequencies and
// the average chunk length never leak across owners.
type BM25Index struct {
	mu     sync.RWMutex
	config LexicalConfig

	postings  map[string]map[string]int // term -> chunk ID -> tf
	docTerms  map[string][]string       // chunk ID -> unique terms, for deletion
	docLen    map[string]int            // chunk ID -> total term count
	docSource map[string]string
	totalLen  int

	closed bool
}

var _ LexicalIndex = (*BM25Index)(nil)

// lexicalSnapshot is the gob persistence form of a BM25Index.
type lexicalSnapshot struct {
	Config    LexicalConfig
	Postings  map[string]map[string]int
	DocTerms  map[string][]string
	DocLen    map[string]int
	DocSource map[string]string
	TotalLen  int
}

// NewBM25Index creates an empty lexical index.
func NewBM25Index(cfg LexicalConfig) *BM25Index {
	if cfg.K1 == 0 {
		cfg.K1 = DefaultLexicalConfig().K1
	}
	if cfg.B == 0 {
		cfg.B = DefaultLexicalConfig().B
	}
	return &BM25Index{
		config:    cfg,
		postings:  make(map[string]map[string]int),
		docTerms:  make(map[string][]string),
		docLen:    make(map[string]int),
		docSource: make(map[string]string),
	}
}

// Add indexes entries. An existing ID is replaced.
func (x *BM25Index) Add(ctx context.Context, entries []LexicalEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("lexical index is closed")
	}

	for _, entry := range entries {
		if _, exists := x.docLen[entry.ID]; exists {
			x.removeLocked(entry.ID)
		}

		tf := make(map[string]int, len(entry.Terms))
		for _, term := range entry.Terms {
			tf[term]++
		}

		terms := make([]string, 0, len(tf))
		for term, count := range tf {
			posting, ok := x.postings[term]
			if !ok {
				posting = make(map[string]int)
				x.postings[term] = posting
			}
			posting[entry.ID] = count
			terms = append(terms, term)
		}

		x.docTerms[entry.ID] = terms
		x.docLen[entry.ID] = len(entry.Terms)
		x.docSource[entry.ID] = entry.Source
		x.totalLen += len(entry.Terms)
	}
	return nil
}

// Delete removes chunks by ID. Unknown IDs are ignored.
func (x *BM25Index) Delete(ctx context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("lexical index is closed")
	}

	for _, id := range ids {
		x.removeLocked(id)
	}
	return nil
}

func (x *BM25Index) removeLocked(id string) {
	terms, ok := x.docTerms[id]
	if !ok {
		return
	}
	for _, term := range terms {
		posting := x.postings[term]
		delete(posting, id)
		if len(posting) == 0 {
			delete(x.postings, term)
		}
	}
	x.totalLen -= x.docLen[id]
	delete(x.docTerms, id)
	delete(x.docLen, id)
	delete(x.docSource, id)
}

// Search scores chunks matching any query term and returns up to limit
// results, best first. Ties break on chunk ID for determinism.
//
// Scoring: idf(t) * tf * (k1+1) / (tf + k1 * (1 - b + b * len/avgLen))
// with idf(t) = ln(1 + (N - df + 0.5) / (df + 0.5)). Scores are raw and
// unbounded; the fusion layer normalizes them per query.
func (x *BM25Index) Search(ctx context.Context, terms []string, limit int, sourceFilter string) ([]LexicalResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if limit <= 0 || len(terms) == 0 || len(x.docLen) == 0 {
		return []LexicalResult{}, nil
	}

	n := float64(len(x.docLen))
	avgLen := float64(x.totalLen) / n

	seen := make(map[string]bool, len(terms))
	scores := make(map[string]float64)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		posting, ok := x.postings[term]
		if !ok {
			continue
		}

		df := float64(len(posting))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for id, tf := range posting {
			if sourceFilter != "" && x.docSource[id] != sourceFilter {
				continue
			}
			freq := float64(tf)
			norm := 1 - x.config.B + x.config.B*float64(x.docLen[id])/avgLen
			scores[id] += idf * freq * (x.config.K1 + 1) / (freq + x.config.K1*norm)
		}
	}

	results := make([]LexicalResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, LexicalResult{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of indexed chunks.
func (x *BM25Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docLen)
}

// AllIDs returns every indexed chunk ID, for consistency checking.
func (x *BM25Index) AllIDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, 0, len(x.docLen))
	for id := range x.docLen {
		ids = append(ids, id)
	}
	return ids
}

// Save persists the index with a temp file and rename.
func (x *BM25Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return fmt.Errorf("lexical index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create lexical index file: %w", err)
	}

	snapshot := lexicalSnapshot{
		Config:    x.config,
		Postings:  x.postings,
		DocTerms:  x.docTerms,
		DocLen:    x.docLen,
		DocSource: x.docSource,
		TotalLen:  x.totalLen,
	}
	if err := gob.NewEncoder(file).Encode(snapshot); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode lexical index: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close lexical index file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a saved index, replacing current contents.
func (x *BM25Index) Load(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("lexical index is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open lexical index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var snapshot lexicalSnapshot
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode lexical index: %w", err)
	}

	x.config = snapshot.Config
	x.postings = snapshot.Postings
	x.docTerms = snapshot.DocTerms
	x.docLen = snapshot.DocLen
	x.docSource = snapshot.DocSource
	x.totalLen = snapshot.TotalLen
	return nil
}
