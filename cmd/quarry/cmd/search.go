package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/search"
	"github.com/quarry-search/quarry/internal/ui"
)

func newSearchCmd() *cobra.Command {
	var (
		offline  bool
		rootFlag string
		file     string
		limit    int
		minScore float32
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index with a natural-language query",
		Long: `Search embeds the query and ranks indexed chunks by similarity.
The scope is one workspace folder: --path names it directly, or --file
resolves it from the folder containing that file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]

			rootArgs := []string{}
			if rootFlag != "" {
				rootArgs = append(rootArgs, rootFlag)
			}
			root, err := resolveRoot(rootArgs)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), root, offline)
			if err != nil {
				return err
			}
			defer a.Close()

			searcher := search.NewSearcher(a.embedder, a.router)
			searcher.Register(root)

			// Open the collection so a previously persisted index is
			// available to the query.
			if _, err := a.router.EnsureCollection(cmd.Context(), root); err != nil {
				return err
			}

			opts := search.Options{Limit: limit, MinScore: minScore}
			var results []search.Result
			if file != "" {
				results, err = searcher.Search(cmd.Context(), query, file, opts)
			} else {
				results, err = searcher.SearchFolder(cmd.Context(), query, root, opts)
			}
			if err != nil {
				return err
			}

			ui.NewRenderer(cmd.OutOrStdout()).SearchResults(query, results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "use deterministic static embeddings")
	cmd.Flags().StringVar(&rootFlag, "path", "", "workspace folder to search (default: current directory)")
	cmd.Flags().StringVar(&file, "file", "", "active file; its workspace folder becomes the scope")
	cmd.Flags().IntVar(&limit, "limit", search.DefaultLimit, "maximum results")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "minimum similarity score")
	return cmd
}
