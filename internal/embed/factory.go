package embed

import (
	"context"
	"fmt"
	"log/slog"
)

// Options selects and configures an embedding provider.
type Options struct {
	// Provider is "ollama" or "static". Empty means ollama with a
	// static fallback when the server is unreachable.
	Provider string

	Ollama OllamaConfig

	// CacheSize for the LRU wrapper, 0 for the default.
	CacheSize int
}

// New builds the configured embedder wrapped in the LRU cache. When the
// provider is left to the default and Ollama is unreachable, the static
// embedder takes over so indexing and search keep working degraded.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var inner Embedder

	switch opts.Provider {
	case "", "ollama":
		ollama, err := NewOllamaEmbedder(ctx, opts.Ollama)
		if err != nil {
			if opts.Provider == "ollama" {
				return nil, err
			}
			slog.Warn("ollama_unavailable_using_static",
				slog.String("error", err.Error()))
			inner = NewStaticEmbedder()
		} else {
			inner = ollama
		}
	case "static":
		inner = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	return NewCachedEmbedder(inner, opts.CacheSize), nil
}
