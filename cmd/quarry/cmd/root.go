// Package cmd provides the CLI commands for quarry.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/logging"
	"github.com/quarry-search/quarry/pkg/version"
)

var (
	flagDebug      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the quarry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Incremental semantic code index",
		Long: `Quarry keeps a local vector index of your codebase up to date as
files change and answers natural-language code search queries against it.

Each workspace folder gets its own isolated collection; indexing runs
in the background and can be paused, resumed, and cancelled.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("quarry version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// setupLogging routes structured logs to the workspace data directory,
// keeping stdout free for command output.
func setupLogging(_ *cobra.Command, _ []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(config.DataDir(root))
	if flagDebug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// resolveRoot turns an optional positional path argument into a cleaned
// absolute workspace root.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", root, err)
	}
	if info, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("workspace folder %s: %w", abs, err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}
