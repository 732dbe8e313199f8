// Package cmd defines and implements the CLI commands for the leetcrawl
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/app"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can
// replace it with a mock factory.
var newApp = func(cfgPath string) (*app.App, error) {
	return app.New(cfgPath)
}

// newRootCmd creates and configures the root command. The application
// service graph is built in PersistentPreRunE and torn down in
// PersistentPostRun, so every subcommand sees a ready App in its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leetcrawl",
		Short: "A resilient, session-aware scraper core for leetcode.com.",
		Long: `leetcrawl drives authenticated headless-Chrome sessions against
leetcode.com with adaptive backoff, per-endpoint rate-limit tracking,
session rotation, and pooled browser reuse.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment-only)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT/SIGTERM cancel the command
// context so in-flight crawls can unwind cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		logger, lerr := zap.NewProduction()
		if lerr == nil {
			logger.Error("command execution failed", zap.Error(err))
			logger.Sync() //nolint:errcheck // best-effort flush
		}
		os.Exit(1)
	}
}
