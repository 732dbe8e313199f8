// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/probelab/leetcrawl/internal/backoff"
	"github.com/probelab/leetcrawl/internal/breaker"
	"github.com/probelab/leetcrawl/internal/browser"
	"github.com/probelab/leetcrawl/internal/pool"
	"github.com/probelab/leetcrawl/internal/ratelimit"
	"github.com/probelab/leetcrawl/internal/session"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Browser   BrowserConfig   `mapstructure:"browser"`
}

// ServerConfig controls the metrics/health HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RateLimitConfig governs the rate-limit manager.
type RateLimitConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	Backoff         BackoffConfig  `mapstructure:"backoff"`
	Rotation        RotationConfig `mapstructure:"rotation"`
	HonorRetryAfter bool           `mapstructure:"honor_retry_after"`
	MaxRetryAfterMs int            `mapstructure:"max_retry_after_ms"`
	Pacing          PacingConfig   `mapstructure:"pacing"`
}

// BackoffConfig shapes the retry delay curve.
type BackoffConfig struct {
	Strategy       string  `mapstructure:"strategy"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
	Jitter         bool    `mapstructure:"jitter"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// RotationConfig governs session rotation.
type RotationConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CooldownMs int    `mapstructure:"cooldown_ms"`
	Strategy   string `mapstructure:"strategy"`
}

// PacingConfig adds an optional token bucket in front of attempts.
type PacingConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// PoolConfig sizes the per-session browser pools.
type PoolConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MinSize          int  `mapstructure:"min_size"`
	MaxSize          int  `mapstructure:"max_size"`
	MaxIdleTimeMs    int  `mapstructure:"max_idle_time_ms"`
	ReusePages       bool `mapstructure:"reuse_pages"`
	AcquireTimeoutMs int  `mapstructure:"acquire_timeout_ms"`
}

// BreakerConfig guards the browser creation path.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutMs   int `mapstructure:"reset_timeout_ms"`
	SuccessThreshold int `mapstructure:"success_threshold"`
}

// SessionsConfig names the authenticated identities and tunes the
// per-session pool manager.
type SessionsConfig struct {
	Names             []string `mapstructure:"names"`
	MaxSizePerSession int      `mapstructure:"max_size_per_session"`
	AcquireTimeoutMs  int      `mapstructure:"acquire_timeout_ms"`
	AcquireRetries    int      `mapstructure:"acquire_retries"`
	RetryDelayMs      int      `mapstructure:"retry_delay_ms"`
}

// BrowserConfig controls Chrome launches.
type BrowserConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	Headless          bool   `mapstructure:"headless"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEETCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backoff.strategy", "exponential")
	v.SetDefault("ratelimit.backoff.initial_delay_ms", 1000)
	v.SetDefault("ratelimit.backoff.max_delay_ms", 60000)
	v.SetDefault("ratelimit.backoff.multiplier", 2)
	v.SetDefault("ratelimit.backoff.jitter", true)
	v.SetDefault("ratelimit.backoff.max_retries", 5)
	v.SetDefault("ratelimit.rotation.enabled", false)
	v.SetDefault("ratelimit.rotation.cooldown_ms", 30000)
	v.SetDefault("ratelimit.rotation.strategy", "round-robin")
	v.SetDefault("ratelimit.honor_retry_after", true)
	v.SetDefault("ratelimit.max_retry_after_ms", 120000)
	v.SetDefault("ratelimit.pacing.rps", 0)
	v.SetDefault("ratelimit.pacing.burst", 1)

	v.SetDefault("pool.enabled", true)
	v.SetDefault("pool.min_size", 0)
	v.SetDefault("pool.max_size", 3)
	v.SetDefault("pool.max_idle_time_ms", 300000)
	v.SetDefault("pool.reuse_pages", true)
	v.SetDefault("pool.acquire_timeout_ms", 30000)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.reset_timeout_ms", 30000)
	v.SetDefault("breaker.success_threshold", 2)

	v.SetDefault("sessions.max_size_per_session", 2)
	v.SetDefault("sessions.acquire_timeout_ms", 45000)
	v.SetDefault("sessions.acquire_retries", 2)
	v.SetDefault("sessions.retry_delay_ms", 250)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 25)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := c.BackoffConfig().Validate(); err != nil {
		return err
	}
	if err := c.PoolConfig("").Validate(); err != nil {
		return err
	}
	if err := c.BreakerConfig().Validate(); err != nil {
		return err
	}
	switch session.DistributionStrategy(c.RateLimit.Rotation.Strategy) {
	case session.RoundRobin, session.LeastLoaded, session.LeastErrors:
	default:
		return fmt.Errorf("unknown rotation strategy %q", c.RateLimit.Rotation.Strategy)
	}
	return nil
}

// BackoffConfig converts the loaded knobs into a backoff configuration.
func (c Config) BackoffConfig() backoff.Config {
	return backoff.Config{
		Strategy:     backoff.Strategy(c.RateLimit.Backoff.Strategy),
		InitialDelay: time.Duration(c.RateLimit.Backoff.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.RateLimit.Backoff.MaxDelayMs) * time.Millisecond,
		Multiplier:   c.RateLimit.Backoff.Multiplier,
		Jitter:       c.RateLimit.Backoff.Jitter,
		MaxRetries:   c.RateLimit.Backoff.MaxRetries,
	}
}

// ManagerConfig converts the loaded knobs into a rate-limit manager
// configuration.
func (c Config) ManagerConfig() ratelimit.Config {
	return ratelimit.Config{
		Enabled:         c.RateLimit.Enabled,
		Backoff:         c.BackoffConfig(),
		RotationEnabled: c.RateLimit.Rotation.Enabled,
		Rotation: session.Config{
			Cooldown: time.Duration(c.RateLimit.Rotation.CooldownMs) * time.Millisecond,
			Strategy: session.DistributionStrategy(c.RateLimit.Rotation.Strategy),
		},
		HonorRetryAfter: c.RateLimit.HonorRetryAfter,
		MaxRetryAfter:   time.Duration(c.RateLimit.MaxRetryAfterMs) * time.Millisecond,
		PacingRPS:       c.RateLimit.Pacing.RPS,
		PacingBurst:     c.RateLimit.Pacing.Burst,
	}
}

// BreakerConfig converts the loaded knobs into a breaker configuration.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(c.Breaker.ResetTimeoutMs) * time.Millisecond,
		SuccessThreshold: c.Breaker.SuccessThreshold,
	}
}

// PoolConfig converts the loaded knobs into a pool configuration for the
// named session.
func (c Config) PoolConfig(name string) pool.Config {
	return pool.Config{
		Name:           name,
		Enabled:        c.Pool.Enabled,
		MinSize:        c.Pool.MinSize,
		MaxSize:        c.Pool.MaxSize,
		MaxIdleTime:    time.Duration(c.Pool.MaxIdleTimeMs) * time.Millisecond,
		ReusePages:     c.Pool.ReusePages,
		AcquireTimeout: time.Duration(c.Pool.AcquireTimeoutMs) * time.Millisecond,
		Breaker:        c.BreakerConfig(),
	}
}

// SessionPoolsConfig converts the loaded knobs into a per-session pool
// manager configuration.
func (c Config) SessionPoolsConfig() pool.ManagerConfig {
	return pool.ManagerConfig{
		Pool:              c.PoolConfig(""),
		MaxSizePerSession: c.Sessions.MaxSizePerSession,
		AcquireTimeout:    time.Duration(c.Sessions.AcquireTimeoutMs) * time.Millisecond,
		AcquireRetries:    c.Sessions.AcquireRetries,
		RetryDelay:        time.Duration(c.Sessions.RetryDelayMs) * time.Millisecond,
	}
}

// BrowserFactoryConfig converts the loaded knobs into a launch
// configuration carrying the named session's identity cookies.
func (c Config) BrowserFactoryConfig(sessionName string) browser.Config {
	return browser.Config{
		UserAgent:  c.Browser.UserAgent,
		Headless:   c.Browser.Headless,
		NavTimeout: time.Duration(c.Browser.NavTimeoutSeconds) * time.Second,
		Cookies:    browser.CookiesFromEnv(sessionName),
	}
}
