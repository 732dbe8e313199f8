// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/browser"
	"github.com/probelab/leetcrawl/internal/clock"
	"github.com/probelab/leetcrawl/internal/config"
	"github.com/probelab/leetcrawl/internal/logging"
	"github.com/probelab/leetcrawl/internal/metrics"
	"github.com/probelab/leetcrawl/internal/pool"
	"github.com/probelab/leetcrawl/internal/ratelimit"
)

// App holds the shared, long-lived services: the logger, the rate-limit
// manager, and the per-session browser pools. It is initialized once at
// startup and passed to the commands that need it.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	manager *ratelimit.Manager
	pools   *pool.SessionPools
}

// New builds the full service graph from the configuration at cfgPath.
// It fails fast if any service cannot be initialized.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics.Init()

	clk := clock.NewSystem()

	manager := ratelimit.NewManager(cfg.ManagerConfig(), clk, logging.Component(logger, "ratelimit"))
	for _, name := range cfg.Sessions.Names {
		manager.Rotator().Register(name)
	}

	browserLogger := logging.Component(logger, "browser")
	newFactory := func(sessionName string) pool.Factory {
		return browser.NewFactory(cfg.BrowserFactoryConfig(sessionName), browserLogger)
	}

	pools, err := pool.NewSessionPools(cfg.SessionPoolsConfig(), newFactory, clk, logging.Component(logger, "pool"))
	if err != nil {
		logger.Sync() //nolint:errcheck // best-effort flush
		return nil, fmt.Errorf("init session pools: %w", err)
	}

	logger.Info("services initialized",
		zap.Strings("sessions", cfg.Sessions.Names),
		zap.Bool("rotation", cfg.RateLimit.Rotation.Enabled),
		zap.Bool("pooling", cfg.Pool.Enabled))

	return &App{cfg: cfg, logger: logger, manager: manager, pools: pools}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Manager returns the rate-limit manager.
func (a *App) Manager() *ratelimit.Manager {
	return a.manager
}

// Pools returns the per-session browser pools.
func (a *App) Pools() *pool.SessionPools {
	return a.pools
}

// Close drains every browser pool and flushes the logger.
func (a *App) Close(ctx context.Context) {
	a.pools.DrainAll(ctx)
	a.logger.Sync() //nolint:errcheck // best-effort flush
}
