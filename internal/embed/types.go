// Package embed generates vector embeddings for chunks and queries.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request to bound memory on both sides.
	MaxBatchSize = 256

	// DefaultWarmTimeout applies when the model served recently.
	DefaultWarmTimeout = 30 * time.Second

	// DefaultColdTimeout applies on first use or after the serving
	// process likely unloaded the model.
	DefaultColdTimeout = 120 * time.Second

	// ModelUnloadThreshold is how long after the last successful call
	// the model is assumed cold again.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the number of attempts per embedding request.
	DefaultMaxRetries = 3

	// DefaultDimensions is used when the provider cannot report its own.
	DefaultDimensions = 768

	// StaticDimensions is the dimension of the hash-based fallback.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text. Implementations return
// unit-normalized vectors so cosine similarity reduces to a dot product.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
