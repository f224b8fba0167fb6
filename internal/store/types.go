// Package store holds the retrieval indices and chunk metadata: an
// owner-scoped BM25 lexical index, an HNSW vector index with an exact
// fallback, and a SQLite metadata store that is the source of truth for
// chunk content.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is one indexed document, unique per (owner, source).
type Document struct {
	ID          string // SHA256(owner + source)[:16]
	Owner       string
	Source      string // logical filename within the owner's collection
	ContentHash string // SHA256 of the document text
	Language    string
	ChunkCount  int
	IndexedAt   time.Time
}

// ChunkRecord is the persisted form of a chunk. The ID is derived from
// owner, source, ordinal and text, so re-indexing identical content
// reproduces identical IDs.
type ChunkRecord struct {
	ID          string
	DocumentID  string
	Owner       string
	Source      string
	Ordinal     int
	Text        string
	StartChar   int
	EndChar     int
	HeadingPath string
	TokenCount  int
}

// LexicalConfig holds the BM25 tuning constants. The defaults are the
// standard literature values and are deliberately stable: retrieval
// quality changes should come from fusion weights, not from re-tuning
// per deployment.
type LexicalConfig struct {
	K1 float64 // term frequency saturation
	B  float64 // document length normalization
}

// DefaultLexicalConfig returns k1=1.2, b=0.75.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{K1: 1.2, B: 0.75}
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	Dimensions     int
	Metric         string // "cos" (default) or "l2"
	M              int
	EfConstruction int
	EfSearch       int

	// ExactSearchThreshold is the collection size up to which queries
	// run a brute-force scan instead of the HNSW graph, keeping recall
	// exact for small and mid-size collections.
	ExactSearchThreshold int
}

// DefaultVectorConfig returns the default vector index parameters.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions:           dimensions,
		Metric:               "cos",
		M:                    32,
		EfConstruction:       128,
		EfSearch:             64,
		ExactSearchThreshold: 10000,
	}
}

// LexicalEntry is one chunk's contribution to the lexical index.
type LexicalEntry struct {
	ID     string
	Source string
	Terms  []string
}

// LexicalResult is a scored lexical match.
type LexicalResult struct {
	ID    string
	Score float64 // raw BM25, unbounded
}

// VectorEntry is one chunk's vector.
type VectorEntry struct {
	ID     string
	Source string
	Vector []float32
}

// VectorResult is a scored vector match.
type VectorResult struct {
	ID       string
	Score    float32 // similarity in [0,1]
	Distance float32
}

// LexicalIndex indexes one owner's chunks for BM25 retrieval.
type LexicalIndex interface {
	Add(ctx context.Context, entries []LexicalEntry) error
	Delete(ctx context.Context, ids []string) error

	// Search scores the given query terms. A non-empty sourceFilter
	// restricts scoring to chunks of that source without rebuilding
	// anything.
	Search(ctx context.Context, terms []string, limit int, sourceFilter string) ([]LexicalResult, error)

	Count() int
	AllIDs() []string
}

// VectorIndex indexes one owner's chunk vectors.
type VectorIndex interface {
	Add(ctx context.Context, entries []VectorEntry) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query []float32, k int, sourceFilter string) ([]VectorResult, error)
	Count() int
	AllIDs() []string
	Close() error
}

// MetadataStore persists documents and chunk content in SQLite. It is
// shared across owners; every query is owner-scoped by column.
type MetadataStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, owner, source string) (*Document, error)
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks
	ListSources(ctx context.Context, owner string) ([]string, error)
	CountDocuments(ctx context.Context, owner string) (int, error)

	SaveChunks(ctx context.Context, chunks []*ChunkRecord) error
	GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error)
	ChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error)
	AllChunkIDs(ctx context.Context, owner string) ([]string, error)
	CountChunks(ctx context.Context, owner string) (int, error)

	Close() error
}

// ErrDimensionMismatch is returned when a vector's dimension does not
// match the index configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
