package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docquery/docquery/internal/chunk"
	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/internal/embed"
	"github.com/docquery/docquery/internal/index"
	"github.com/docquery/docquery/internal/search"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/token"
)

// app bundles the wired components every command needs.
type app struct {
	cfg      *config.Config
	embedder embed.Embedder
	indexes  *store.IndexStore
	metadata *store.SQLiteStore
	indexer  *index.Indexer
	engine   *search.Engine
}

// openApp loads configuration, opens the stores and wires the
// pipeline. The caller must Close it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	embedder, err := embed.New(ctx, embed.Options{
		Provider: providerName(cfg.Embeddings.Provider),
		Ollama: embed.OllamaConfig{
			Host:      cfg.Embeddings.OllamaHost,
			Model:     cfg.Embeddings.Model,
			BatchSize: cfg.Embeddings.BatchSize,
		},
		CacheSize: cfg.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "metadata.db"))
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	lexCfg := store.LexicalConfig{K1: cfg.Retrieval.K1, B: cfg.Retrieval.B}
	indexes := store.NewIndexStore(lexCfg, store.DefaultVectorConfig(embedder.Dimensions()))
	if err := indexes.LoadAll(indexDir(cfg)); err != nil {
		_ = metadata.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("load indices: %w", err)
	}

	analyzer := token.NewAnalyzer()
	chunker := chunk.NewChunkerWithOptions(chunk.Options{
		MaxTokens:    cfg.Chunking.MaxTokens,
		MinTokens:    cfg.Chunking.MinTokens,
		OverlapRatio: cfg.Chunking.OverlapRatio,
	})

	var rewriter search.QueryRewriter
	if cfg.Rewriter.Enabled {
		rewriter = search.NewRewriter(search.RewriterConfig{
			Endpoint: cfg.Embeddings.OllamaHost,
			Model:    cfg.Rewriter.Model,
			Timeout:  cfg.Rewriter.Timeout,
		})
	}
	var reranker search.Scorer
	if cfg.Reranker.Enabled {
		reranker = search.NewHTTPReranker(search.RerankerConfig{
			Endpoint: cfg.Reranker.Endpoint,
			Timeout:  cfg.Reranker.Timeout,
		})
	}

	engineCfg := search.DefaultEngineConfig()
	engineCfg.DefaultTopK = cfg.Retrieval.TopK
	engineCfg.PoolMultiplier = cfg.Retrieval.PoolMultiplier
	engineCfg.DefaultWeights = search.Weights{
		Lexical: cfg.Retrieval.LexicalWeight,
		Vector:  cfg.Retrieval.VectorWeight,
	}
	engineCfg.DefaultMinScore = cfg.Retrieval.MinScore

	return &app{
		cfg:      cfg,
		embedder: embedder,
		indexes:  indexes,
		metadata: metadata,
		indexer:  index.NewIndexer(chunker, analyzer, embedder, indexes, metadata),
		engine:   search.NewEngine(analyzer, embedder, indexes, metadata, rewriter, reranker, engineCfg),
	}, nil
}

// providerName maps the config value to the embed factory's scheme,
// where the empty provider means Ollama with a static fallback.
func providerName(provider string) string {
	if provider == "auto" {
		return ""
	}
	return provider
}

func indexDir(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "indexes")
}

// saveIndexes persists every owner's indices. Called after mutating
// commands.
func (a *app) saveIndexes() error {
	if err := a.indexes.SaveAll(indexDir(a.cfg)); err != nil {
		return fmt.Errorf("save indices: %w", err)
	}
	return nil
}

// Close releases every resource.
func (a *app) Close() error {
	return errors.Join(
		a.indexes.Close(),
		a.metadata.Close(),
		a.embedder.Close(),
	)
}
