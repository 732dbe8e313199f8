// Package backoff computes retry delays for rate-limited operations.
package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy selects the delay growth curve.
type Strategy string

const (
	// StrategyExponential grows the delay by a multiplier each attempt.
	StrategyExponential Strategy = "exponential"
	// StrategyLinear grows the delay proportionally to the attempt number.
	StrategyLinear Strategy = "linear"
	// StrategyFibonacci grows the delay along the Fibonacci sequence.
	StrategyFibonacci Strategy = "fibonacci"
	// StrategyConstant keeps the delay fixed across attempts.
	StrategyConstant Strategy = "constant"
)

// Config controls delay computation. Zero fields are filled by Normalize.
type Config struct {
	Strategy     Strategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	MaxRetries   int
}

// DefaultConfig returns the standard backoff configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:     StrategyExponential,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		MaxRetries:   5,
	}
}

// Normalize fills omitted fields with defaults and returns the result.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	return c
}

// Validate rejects configurations that cannot produce a sane delay.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyExponential, StrategyLinear, StrategyFibonacci, StrategyConstant:
	default:
		return fmt.Errorf("unknown backoff strategy %q", c.Strategy)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("backoff initial delay must be > 0, got %v", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("backoff max delay %v must be >= initial delay %v", c.MaxDelay, c.InitialDelay)
	}
	if c.Strategy == StrategyExponential && c.Multiplier <= 0 {
		return fmt.Errorf("backoff multiplier must be > 0, got %v", c.Multiplier)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("backoff max retries must be > 0, got %d", c.MaxRetries)
	}
	return nil
}

// Delay returns the wait duration before the given 1-based attempt.
// Attempts <= 0 are treated as attempt 1.
func Delay(attempt int, cfg Config) time.Duration {
	return DelayRand(attempt, cfg, rand.Float64)
}

// DelayRand is Delay with an injectable random source. randFloat must
// return values in [0, 1).
func DelayRand(attempt int, cfg Config, randFloat func() float64) time.Duration {
	cfg = cfg.Normalize()
	if attempt <= 0 {
		attempt = 1
	}

	base := baseDelay(attempt, cfg)
	if base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		// Scale into [0.5, 1.0] of the capped value so independent
		// callers never retry in lockstep.
		base *= 0.5 + 0.5*randFloat()
	}

	ms := math.Floor(base / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func baseDelay(attempt int, cfg Config) float64 {
	initial := float64(cfg.InitialDelay)
	switch cfg.Strategy {
	case StrategyLinear:
		return initial * float64(attempt)
	case StrategyFibonacci:
		return initial * fib(attempt, float64(cfg.MaxDelay)/initial)
	case StrategyConstant:
		return initial
	default:
		return initial * math.Pow(cfg.Multiplier, float64(attempt-1))
	}
}

// fib returns the nth Fibonacci number (fib(1) = fib(2) = 1), stopping
// early once the value exceeds limit to avoid overflow on large attempts.
func fib(n int, limit float64) float64 {
	if n <= 2 {
		return 1
	}
	a, b := 1.0, 1.0
	for i := 3; i <= n; i++ {
		a, b = b, a+b
		if b > limit {
			return b
		}
	}
	return b
}
