package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/index"
	"github.com/quarry-search/quarry/internal/ui"
	"github.com/quarry-search/quarry/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		offline bool
		noFull  bool
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index a folder and keep the index fresh as files change",
		Long: `Watch runs a full index (unless --no-full) and then applies debounced
file events incrementally: saves re-index the changed file, deletions
drop its vectors. Runs until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root, offline)
			if err != nil {
				return err
			}
			defer a.Close()

			r := ui.NewRenderer(cmd.OutOrStdout())
			coord := a.coordinator()
			defer coord.Close()

			if !noFull {
				if _, err := coord.StartFull(ctx); err != nil {
					return err
				}
				r.Info("indexing " + root)
				coord.Wait()
				if snap, ok := coord.Status(); ok {
					r.JobStatus(snap)
					if snap.Status == index.StatusFailed {
						return fmt.Errorf("indexing failed: %s", snap.Error)
					}
				}
			}

			w, err := watcher.New(root, watcher.Options{
				DebounceWindow:  a.cfg.Watcher.DebounceWindow,
				EventBufferSize: a.cfg.Watcher.EventBufferSize,
				ExcludePatterns: a.cfg.Paths.Exclude,
			})
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			r.Info("watching " + root)
			for {
				select {
				case <-ctx.Done():
					r.Info("stopped")
					return nil
				case event, ok := <-w.Events():
					if !ok {
						return nil
					}
					if err := coord.ApplyIncremental(ctx, event); err != nil {
						slog.Warn("incremental update failed",
							slog.String("path", event.Path),
							slog.String("kind", event.Kind.String()),
							slog.String("error", err.Error()))
					}
				case err, ok := <-w.Errors():
					if !ok {
						return nil
					}
					slog.Warn("watcher error", slog.String("error", err.Error()))
				}
			}
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "use deterministic static embeddings")
	cmd.Flags().BoolVar(&noFull, "no-full", false, "skip the initial full index")
	return cmd
}
