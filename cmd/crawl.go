package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/app"
	"github.com/probelab/leetcrawl/internal/pool"
)

// pageFetcher is the ability a pooled handle needs for the crawl driver.
type pageFetcher interface {
	HTML(ctx context.Context, url string) (string, error)
}

// newCrawlCmd creates the 'crawl' subcommand. It fetches each URL
// argument through the full resilience stack: the rate-limit manager
// decides when and under which session to attempt, and the per-session
// pools hand out warm browsers.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl URL [URL...]",
		Short: "Fetches the given leetcode.com URLs through the resilience stack",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	logger := appInstance.Logger()
	defaultSession := ""
	if names := appInstance.Config().Sessions.Names; len(names) > 0 {
		defaultSession = names[0]
	}

	var failed int
	for _, target := range args {
		if err := crawlOne(cmd.Context(), appInstance, target, defaultSession); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error("fetch failed", zap.String("url", target), zap.Error(err))
			failed++
			continue
		}
		logger.Info("fetch complete", zap.String("url", target))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(args))
	}
	return nil
}

func crawlOne(ctx context.Context, appInstance *app.App, target, sessionID string) error {
	logger := appInstance.Logger()

	return appInstance.Manager().ExecuteWithRetry(ctx, target, sessionID, func(ctx context.Context, sid string) error {
		handle, err := appInstance.Pools().AcquireBrowser(ctx, sid)
		if err != nil {
			var exhausted *pool.ExhaustedError
			if errors.As(err, &exhausted) {
				logger.Warn("browser pool exhausted",
					zap.String("session", sid),
					zap.Duration("waited", exhausted.Timeout))
			}
			return err
		}
		defer appInstance.Pools().ReleaseBrowser(ctx, sid, handle)

		fetcher, ok := handle.(pageFetcher)
		if !ok {
			return fmt.Errorf("handle %s cannot fetch pages", handle.ID())
		}

		html, err := fetcher.HTML(ctx, target)
		if err != nil {
			return err
		}

		logger.Debug("page ready",
			zap.String("url", target),
			zap.String("session", sid),
			zap.Int("bytes", len(html)))
		return nil
	})
}
