package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/ui"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show collections and index counts for a workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}

			// Static embedder avoids touching the provider just to read counts.
			a, err := newApp(cmd.Context(), root, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.router.EnsureCollection(cmd.Context(), root); err != nil {
				return err
			}
			stats, err := a.router.Stats(cmd.Context())
			if err != nil {
				return err
			}

			ui.NewRenderer(cmd.OutOrStdout()).Collections(stats)
			return nil
		},
	}
	return cmd
}
