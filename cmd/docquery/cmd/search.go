package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/search"
)

type searchReport struct {
	Status   string               `json:"status"`
	Reranked bool                 `json:"reranked"`
	Variants []string             `json:"variants,omitempty"`
	Results  []searchReportResult `json:"results"`
}

type searchReportResult struct {
	Source       string  `json:"source"`
	HeadingPath  string  `json:"heading_path,omitempty"`
	Score        float64 `json:"score"`
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`
	Text         string  `json:"text"`
}

func newSearchCmd() *cobra.Command {
	var owner string
	var topK int
	var sourceFilter string
	var expand bool
	var rerank bool
	var minScore float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an owner's collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}

			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			resp, err := app.engine.Search(cmd.Context(), search.Options{
				Query:        strings.Join(args, " "),
				Owner:        owner,
				TopK:         topK,
				SourceFilter: sourceFilter,
				Expand:       expand,
				Rerank:       rerank,
				MinScore:     minScore,
			})
			if err != nil {
				return err
			}

			report := searchReport{
				Status:   string(resp.Status),
				Reranked: resp.Reranked,
				Variants: resp.Variants,
				Results:  make([]searchReportResult, 0, len(resp.Results)),
			}
			for _, r := range resp.Results {
				report.Results = append(report.Results, searchReportResult{
					Source:       r.Chunk.Source,
					HeadingPath:  r.Chunk.HeadingPath,
					Score:        r.Score,
					LexicalScore: r.LexicalScore,
					VectorScore:  r.VectorScore,
					Text:         r.Chunk.Text,
				})
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			out := cmd.OutOrStdout()
			switch resp.Status {
			case search.StatusNoDocuments:
				fmt.Fprintln(out, "no documents indexed for this owner")
				return nil
			case search.StatusNoMatches:
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for i, r := range report.Results {
				header := r.Source
				if r.HeadingPath != "" {
					header += " · " + r.HeadingPath
				}
				fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, header)
				fmt.Fprintf(out, "   %s\n", snippet(r.Text, 200))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Collection owner (required)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of results (default from config)")
	cmd.Flags().StringVar(&sourceFilter, "source", "", "Restrict to one source document")
	cmd.Flags().BoolVar(&expand, "expand", false, "Expand the query with LLM rewrites")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank candidates with the cross-encoder")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop results below this fused score")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")

	return cmd
}

// snippet trims text for terminal display without splitting a rune.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
