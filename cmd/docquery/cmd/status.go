package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/index"
)

type statusReport struct {
	Owner      string   `json:"owner"`
	Documents  int      `json:"documents"`
	Chunks     int      `json:"chunks"`
	Sources    []string `json:"sources"`
	Consistent bool     `json:"consistent"`
	Embedder   string   `json:"embedder"`
}

func newStatusCmd() *cobra.Command {
	var owner string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an owner's index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}

			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			stats, err := app.indexer.Stats(cmd.Context(), owner)
			if err != nil {
				return err
			}
			checker := index.NewConsistencyChecker(app.metadata, app.indexes)
			consistent, err := checker.QuickCheck(cmd.Context(), owner)
			if err != nil {
				return err
			}

			report := statusReport{
				Owner:      owner,
				Documents:  stats.Documents,
				Chunks:     stats.Chunks,
				Sources:    stats.Sources,
				Consistent: consistent,
				Embedder:   app.embedder.ModelName(),
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owner:      %s\n", report.Owner)
			fmt.Fprintf(out, "documents:  %d\n", report.Documents)
			fmt.Fprintf(out, "chunks:     %d\n", report.Chunks)
			fmt.Fprintf(out, "embedder:   %s\n", report.Embedder)
			fmt.Fprintf(out, "consistent: %v\n", report.Consistent)
			for _, s := range report.Sources {
				fmt.Fprintf(out, "  - %s\n", s)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Collection owner (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
