package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/index"
	"github.com/quarry-search/quarry/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		offline   bool
		intensity string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Run a full index of a workspace folder",
		Long: `Index scans the folder, chunks and embeds every supported file, and
commits the vectors to the folder's collection. Interrupting with Ctrl-C
cancels the job; work committed so far is kept.`,
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

			if intensity != "" {
				a.cfg.Indexing.Intensity = config.Intensity(intensity)
			}
			if workers > 0 {
				a.cfg.Indexing.Workers = workers
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			r := ui.NewRenderer(cmd.OutOrStdout())
			coord := a.coordinator()
			defer coord.Close()

			if _, err := coord.StartFull(ctx); err != nil {
				return err
			}
			r.Info("indexing " + root)

			// Cancel on interrupt, otherwise wait for the runner.
			done := make(chan struct{})
			go func() {
				coord.Wait()
				close(done)
			}()
			select {
			case <-ctx.Done():
				_ = coord.Cancel()
				<-done
			case <-done:
			}

			// The runner may have exited into a pause (provider outage);
			// poll briefly for a terminal state.
			final, _ := coord.Status()
			for final.Status == index.StatusRunning {
				time.Sleep(50 * time.Millisecond)
				final, _ = coord.Status()
			}
			r.JobStatus(final)

			if final.Status == index.StatusFailed {
				return fmt.Errorf("indexing failed: %s", final.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "use deterministic static embeddings")
	cmd.Flags().StringVar(&intensity, "intensity", "", "throttle level: high, medium, low")
	cmd.Flags().IntVar(&workers, "workers", 0, "parse/embed worker count (default: cores-1)")
	return cmd
}
