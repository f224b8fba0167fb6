// Package cmd provides the CLI commands for docquery.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/internal/logging"
	"github.com/docquery/docquery/pkg/version"
)

var (
	configPath     string
	verbose        bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docquery CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docquery",
		Short: "Hybrid retrieval engine for document question answering",
		Long: `docquery indexes documents into a per-owner hybrid index
(BM25 + vector embeddings) and answers queries by fusing both signals,
with optional LLM query expansion and cross-encoder reranking.

Everything runs locally; embeddings come from Ollama when available
and degrade to deterministic hashing vectors when not.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docquery version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to docquery.yaml (default: ./docquery.yaml)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	cleanup, err := logging.Setup(logging.Config{
		Level:      level,
		FilePath:   cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Quiet:      !verbose,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
