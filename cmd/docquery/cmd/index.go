package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/index"
)

type indexReport struct {
	Source        string `json:"source"`
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

func newIndexCmd() *cobra.Command {
	var owner string
	var source string
	var language string
	var workers int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index documents into an owner's collection",
		Long: `Index reads each file, splits it into chunks and stores them in the
owner's hybrid index. Re-indexing an unchanged file is a no-op;
changed files are replaced atomically. Multiple files are indexed
concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			if source != "" && len(args) > 1 {
				return fmt.Errorf("--source only applies to a single file")
			}

			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			reports := make([]indexReport, 0, len(args))
			var failed int

			requests := make([]index.Request, 0, len(args))
			for _, path := range args {
				name := sourceName(source, path)
				data, err := os.ReadFile(path)
				if err != nil {
					reports = append(reports, indexReport{
						Source: name,
						Status: string(index.StatusFailed),
						Error:  err.Error(),
					})
					failed++
					continue
				}
				requests = append(requests, index.Request{
					Owner:    owner,
					Source:   name,
					Text:     string(data),
					Language: language,
				})
			}

			summary := app.indexer.IndexBatch(cmd.Context(), requests, workers, nil)
			failed += summary.Failed
			for _, br := range summary.Results {
				report := indexReport{Source: br.Source}
				if br.Result != nil {
					report.DocumentID = br.Result.DocumentID
					report.ChunksCreated = br.Result.ChunksCreated
					report.Status = string(br.Result.Status)
				}
				if br.Err != nil {
					report.Status = string(index.StatusFailed)
					report.Error = br.Err.Error()
				}
				reports = append(reports, report)
			}

			if err := app.saveIndexes(); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					switch r.Status {
					case string(index.StatusOK):
						fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: %d chunks\n", r.Source, r.ChunksCreated)
					case string(index.StatusSkippedUnchanged):
						fmt.Fprintf(cmd.OutOrStdout(), "skipped %s: unchanged\n", r.Source)
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "failed %s: %s\n", r.Source, r.Error)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Collection owner (required)")
	cmd.Flags().StringVar(&source, "source", "", "Logical source name (default: file basename)")
	cmd.Flags().StringVar(&language, "language", "", "Document language hint (ko, ja, zh, en)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent indexing workers (default: CPU count)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

func sourceName(override, path string) string {
	if override != "" {
		return override
	}
	return filepath.Base(path)
}
