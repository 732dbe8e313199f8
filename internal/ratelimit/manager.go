package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/probelab/leetcrawl/internal/backoff"
	"github.com/probelab/leetcrawl/internal/clock"
	"github.com/probelab/leetcrawl/internal/metrics"
	"github.com/probelab/leetcrawl/internal/session"
)

// Reason explains what a Decision's delay is compensating for.
type Reason string

const (
	// ReasonOK means the endpoint is clear to call immediately.
	ReasonOK Reason = "ok"
	// ReasonDelayRequired means a backoff wait is pending with no known deadline.
	ReasonDelayRequired Reason = "delay-required"
	// ReasonRateLimited means the endpoint is limited until a known deadline.
	ReasonRateLimited Reason = "rate-limited"
	// ReasonCooldown means the requested session is parked.
	ReasonCooldown Reason = "cooldown"
)

// Decision tells a caller when to perform a request and with which session.
// Proceed is always true when the manager is enabled; the decision modulates
// when, not whether.
type Decision struct {
	Proceed            bool
	Delay              time.Duration
	RecommendedSession string
	Reason             Reason
}

// Config controls the manager.
type Config struct {
	Enabled         bool
	Backoff         backoff.Config
	RotationEnabled bool
	Rotation        session.Config
	HonorRetryAfter bool
	MaxRetryAfter   time.Duration
	// PacingRPS > 0 adds a per-pattern token bucket in front of every
	// attempt. Zero disables pacing.
	PacingRPS   float64
	PacingBurst int
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Backoff:         backoff.DefaultConfig(),
		RotationEnabled: false,
		Rotation:        session.Config{Cooldown: session.DefaultCooldown, Strategy: session.RoundRobin},
		HonorRetryAfter: true,
		MaxRetryAfter:   DefaultMaxRetryAfter,
		PacingBurst:     1,
	}
}

// Manager composes backoff, endpoint state, and session rotation into
// proceed/wait/switch decisions, and runs operations with automatic retry
// on rate-limit failures.
type Manager struct {
	cfg       Config
	clk       clock.Clock
	logger    *zap.Logger
	endpoints *EndpointStates
	rotator   *session.Rotator

	pacerMu sync.Mutex
	pacers  map[string]*rate.Limiter
}

// NewManager builds a Manager with its own endpoint state collection and
// session rotator.
func NewManager(cfg Config, clk clock.Clock, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Backoff = cfg.Backoff.Normalize()
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = DefaultMaxRetryAfter
	}
	if cfg.PacingBurst <= 0 {
		cfg.PacingBurst = 1
	}
	return &Manager{
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		endpoints: NewEndpointStates(clk, logger),
		rotator:   session.NewRotator(cfg.Rotation, clk, logger),
		pacers:    make(map[string]*rate.Limiter),
	}
}

// Endpoints exposes the endpoint state collection.
func (m *Manager) Endpoints() *EndpointStates {
	return m.endpoints
}

// Rotator exposes the session rotator.
func (m *Manager) Rotator() *session.Rotator {
	return m.rotator
}

// Decide computes when the endpoint may next be called and which session
// should serve it. sessionID may be empty.
func (m *Manager) Decide(endpoint, sessionID string) Decision {
	if !m.cfg.Enabled {
		return Decision{Proceed: true, Reason: ReasonOK}
	}

	if sessionID != "" && m.rotator.IsOnCooldown(sessionID) {
		if alt, ok := m.rotator.SelectSession(); ok {
			metrics.ObserveSessionSelection(alt)
			return Decision{Proceed: true, RecommendedSession: alt, Reason: ReasonCooldown}
		}
		return Decision{
			Proceed: true,
			Delay:   m.rotator.CooldownRemaining(sessionID),
			Reason:  ReasonCooldown,
		}
	}

	if st, ok := m.endpoints.Status(endpoint); ok && st.RateLimited {
		if !st.RateLimitedUntil.IsZero() {
			return Decision{
				Proceed: true,
				Delay:   st.RateLimitedUntil.Sub(m.clk.Now()),
				Reason:  ReasonRateLimited,
			}
		}
		return Decision{
			Proceed: true,
			Delay:   backoff.Delay(st.ConsecutiveFailures, m.cfg.Backoff),
			Reason:  ReasonDelayRequired,
		}
	}

	d := Decision{Proceed: true, Reason: ReasonOK}
	if m.cfg.RotationEnabled {
		if id, ok := m.rotator.SelectSession(); ok {
			d.RecommendedSession = id
			metrics.ObserveSessionSelection(id)
		}
	}
	return d
}

// RecordSuccess notes a successful request for both the endpoint and,
// when given, the session.
func (m *Manager) RecordSuccess(endpoint, sessionID string) {
	m.endpoints.RecordSuccess(endpoint)
	if sessionID != "" {
		m.rotator.RecordRequest(sessionID)
	}
}

// RecordRateLimited notes a throttled request for both the endpoint and,
// when given, the session; with rotation enabled the session is parked.
func (m *Manager) RecordRateLimited(endpoint, sessionID string, retryAfter time.Duration) {
	m.endpoints.RecordRateLimited(endpoint, retryAfter)
	metrics.ObserveRateLimitHit(NormalizeEndpoint(endpoint))
	if sessionID == "" {
		return
	}
	m.rotator.RecordError(sessionID)
	if m.cfg.RotationEnabled {
		m.rotator.SetCooldown(sessionID, retryAfter)
	}
}

// ExecuteWithRetry runs op under the manager's retry policy. Rate-limit
// failures are recorded and retried up to the configured attempt bound;
// any other failure propagates immediately. op receives the session the
// manager chose for that attempt (sessionID, or a rotator recommendation).
func (m *Manager) ExecuteWithRetry(ctx context.Context, endpoint, sessionID string, op func(ctx context.Context, sessionID string) error) error {
	_, err := Execute(ctx, m, endpoint, sessionID, func(ctx context.Context, sid string) (struct{}, error) {
		return struct{}{}, op(ctx, sid)
	})
	return err
}

// Execute is ExecuteWithRetry for operations that return a value.
func Execute[T any](ctx context.Context, m *Manager, endpoint, sessionID string, op func(ctx context.Context, sessionID string) (T, error)) (T, error) {
	var zero T
	maxRetries := m.cfg.Backoff.MaxRetries
	pattern := NormalizeEndpoint(endpoint)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := m.pace(ctx, pattern); err != nil {
			return zero, err
		}

		d := m.Decide(endpoint, sessionID)
		sid := sessionID
		if d.RecommendedSession != "" {
			sid = d.RecommendedSession
		} else if sid == "" && m.cfg.RotationEnabled && m.cfg.Enabled {
			// Delay-bearing decisions carry no recommendation; the
			// executor still wants every attempt attributed to a session.
			if id, ok := m.rotator.SelectSession(); ok {
				sid = id
				metrics.ObserveSessionSelection(id)
			}
		}
		if d.Delay > 0 {
			m.logger.Debug("waiting before attempt",
				zap.String("endpoint", pattern),
				zap.Int("attempt", attempt),
				zap.Duration("delay", d.Delay),
				zap.String("reason", string(d.Reason)),
			)
			metrics.ObserveRateLimitDelay(pattern, d.Delay)
			if err := sleep(ctx, d.Delay); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx, sid)
		if err == nil {
			m.RecordSuccess(endpoint, sid)
			return result, nil
		}
		if !IsRateLimitError(err) {
			// Retrying non-throttle failures would mask unrelated bugs.
			return zero, err
		}

		var hint time.Duration
		if m.cfg.HonorRetryAfter {
			hint = RetryAfterHint(err)
			if hint > m.cfg.MaxRetryAfter {
				hint = m.cfg.MaxRetryAfter
			}
		}
		m.RecordRateLimited(endpoint, sid, hint)
		metrics.ObserveRetry(pattern)
		m.logger.Warn("rate limited, will retry",
			zap.String("endpoint", pattern),
			zap.String("session", sid),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		lastErr = err
	}
	return zero, fmt.Errorf("retries exhausted after %d attempts: %w", maxRetries, lastErr)
}

// pace blocks on the per-pattern token bucket when pacing is enabled.
func (m *Manager) pace(ctx context.Context, pattern string) error {
	if m.cfg.PacingRPS <= 0 {
		return nil
	}
	m.pacerMu.Lock()
	limiter, ok := m.pacers[pattern]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.PacingRPS), m.cfg.PacingBurst)
		m.pacers[pattern] = limiter
	}
	m.pacerMu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
