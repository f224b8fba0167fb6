package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/store"
)

func newRemoveCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "remove <source>...",
		Short: "Remove documents from an owner's collection",
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

			var failed int
			for _, source := range args {
				err := app.indexer.Remove(cmd.Context(), owner, source)
				switch {
				case errors.Is(err, store.ErrNotFound):
					fmt.Fprintf(cmd.OutOrStdout(), "not found: %s\n", source)
					failed++
				case err != nil:
					fmt.Fprintf(cmd.OutOrStdout(), "failed %s: %v\n", source, err)
					failed++
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", source)
				}
			}

			if err := app.saveIndexes(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sources not removed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Collection owner (required)")
	return cmd
}
