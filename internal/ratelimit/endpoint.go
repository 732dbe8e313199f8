// Package ratelimit tracks per-endpoint throttling state and orchestrates
// retry decisions for requests against a rate-limited site.
package ratelimit

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/clock"
)

// Rewrite rules collapse concrete resources into the wildcard pattern of
// the rate-limit bucket they share. Most specific first.
var endpointRewrites = []struct {
	re      *regexp.Regexp
	pattern string
}{
	{regexp.MustCompile(`^/problems/[^/]+/description$`), "/problems/*/description"},
	{regexp.MustCompile(`^/problems/[^/]+/editorial$`), "/problems/*/editorial"},
	{regexp.MustCompile(`^/problems/[^/]+/solutions$`), "/problems/*/solutions"},
	{regexp.MustCompile(`^/problems/[^/]+/discuss$`), "/problems/*/discuss"},
	{regexp.MustCompile(`^/problems/[^/]+$`), "/problems/*"},
	{regexp.MustCompile(`^/discuss/topic/\d+(/.*)?$`), "/discuss/topic/*"},
}

// NormalizeEndpoint reduces a URL or path to its tracking pattern.
// Normalization is idempotent.
func NormalizeEndpoint(raw string) string {
	path := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		path = u.Path
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}
	for _, rw := range endpointRewrites {
		if rw.re.MatchString(path) {
			return rw.pattern
		}
	}
	return path
}

// EndpointStatus is a point-in-time view of one endpoint's tracking entry.
type EndpointStatus struct {
	Pattern             string
	HitCount            int
	LastHitTime         time.Time
	RateLimited         bool
	RateLimitedUntil    time.Time
	RetryAfter          time.Duration
	ConsecutiveFailures int
}

type endpointState struct {
	hitCount            int
	lastHitTime         time.Time
	rateLimited         bool
	rateLimitedUntil    time.Time
	retryAfter          time.Duration
	consecutiveFailures int
}

// EndpointStates tracks hit and rate-limit state per normalized endpoint
// pattern. Safe for concurrent use.
type EndpointStates struct {
	mu     sync.Mutex
	clk    clock.Clock
	logger *zap.Logger
	states map[string]*endpointState
}

// NewEndpointStates creates an empty collection.
func NewEndpointStates(clk clock.Clock, logger *zap.Logger) *EndpointStates {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndpointStates{
		clk:    clk,
		logger: logger,
		states: make(map[string]*endpointState),
	}
}

func (e *EndpointStates) state(pattern string) *endpointState {
	st, ok := e.states[pattern]
	if !ok {
		st = &endpointState{}
		e.states[pattern] = st
	}
	return st
}

// expireLocked clears the rate-limit flag once its deadline has passed.
func (e *EndpointStates) expireLocked(pattern string, st *endpointState, now time.Time) {
	if !st.rateLimited || st.rateLimitedUntil.IsZero() || now.Before(st.rateLimitedUntil) {
		return
	}
	st.rateLimited = false
	st.rateLimitedUntil = time.Time{}
	st.retryAfter = 0
	e.logger.Debug("endpoint rate limit expired", zap.String("pattern", pattern))
}

// RecordSuccess notes a successful request against the endpoint.
func (e *EndpointStates) RecordSuccess(rawURL string) {
	pattern := NormalizeEndpoint(rawURL)
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(pattern)
	st.hitCount++
	st.lastHitTime = now
	st.consecutiveFailures = 0
	e.expireLocked(pattern, st, now)
	if st.rateLimited && st.rateLimitedUntil.IsZero() {
		// A limit with no deadline is backed by pending backoff; a success
		// means that wait resolved, so the flag clears here.
		st.rateLimited = false
		st.retryAfter = 0
	}
}

// RecordRateLimited notes a throttled request. retryAfter > 0 stores the
// server hint and stamps the deadline the endpoint stays limited until.
func (e *EndpointStates) RecordRateLimited(rawURL string, retryAfter time.Duration) {
	pattern := NormalizeEndpoint(rawURL)
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(pattern)
	st.hitCount++
	st.lastHitTime = now
	st.rateLimited = true
	st.consecutiveFailures++
	if retryAfter > 0 {
		st.retryAfter = retryAfter
		st.rateLimitedUntil = now.Add(retryAfter)
	}
	e.logger.Warn("endpoint rate limited",
		zap.String("pattern", pattern),
		zap.Duration("retry_after", retryAfter),
		zap.Int("consecutive_failures", st.consecutiveFailures),
	)
}

// IsRateLimited reports whether the endpoint is currently limited,
// lazily clearing an expired flag. Callers must go through this accessor
// rather than caching status views.
func (e *EndpointStates) IsRateLimited(rawURL string) bool {
	pattern := NormalizeEndpoint(rawURL)
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[pattern]
	if !ok {
		return false
	}
	e.expireLocked(pattern, st, now)
	return st.rateLimited
}

// Status returns a lazily-expired snapshot of the endpoint's entry.
func (e *EndpointStates) Status(rawURL string) (EndpointStatus, bool) {
	pattern := NormalizeEndpoint(rawURL)
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[pattern]
	if !ok {
		return EndpointStatus{Pattern: pattern}, false
	}
	e.expireLocked(pattern, st, now)
	return EndpointStatus{
		Pattern:             pattern,
		HitCount:            st.hitCount,
		LastHitTime:         st.lastHitTime,
		RateLimited:         st.rateLimited,
		RateLimitedUntil:    st.rateLimitedUntil,
		RetryAfter:          st.retryAfter,
		ConsecutiveFailures: st.consecutiveFailures,
	}, true
}

// ClearExpired sweeps expired rate-limit flags. Purely housekeeping;
// lazy expiry on access keeps readers correct without it.
func (e *EndpointStates) ClearExpired() {
	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	for pattern, st := range e.states {
		e.expireLocked(pattern, st, now)
	}
}

// Clear drops the tracking entry for one endpoint.
func (e *EndpointStates) Clear(rawURL string) {
	pattern := NormalizeEndpoint(rawURL)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, pattern)
}

// ClearAll drops every tracking entry.
func (e *EndpointStates) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = make(map[string]*endpointState)
}
