// Package session distributes load across authenticated identities and
// isolates rate-limit penalties per identity.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/clock"
)

// DistributionStrategy selects how the rotator picks the next session.
type DistributionStrategy string

const (
	// RoundRobin cycles through available sessions in registration order.
	RoundRobin DistributionStrategy = "round-robin"
	// LeastLoaded picks the available session with the fewest requests.
	LeastLoaded DistributionStrategy = "least-loaded"
	// LeastErrors picks the available session with the lowest error rate.
	LeastErrors DistributionStrategy = "least-errors"
)

// DefaultCooldown is applied when SetCooldown is called without a duration.
const DefaultCooldown = 30 * time.Second

// Config controls rotation behavior.
type Config struct {
	Cooldown time.Duration
	Strategy DistributionStrategy
}

// Info is a point-in-time view of one session's counters.
type Info struct {
	ID              string
	RequestCount    int
	ErrorCount      int
	CooldownUntil   time.Time
	LastRequestTime time.Time
}

type sessionInfo struct {
	requestCount    int
	errorCount      int
	cooldownUntil   time.Time
	lastRequestTime time.Time
}

// Rotator tracks per-session load and cooldowns and selects the next
// session to use. Safe for concurrent use.
type Rotator struct {
	mu      sync.Mutex
	clk     clock.Clock
	logger  *zap.Logger
	cfg     Config
	order   []string
	infos   map[string]*sessionInfo
	rrIndex int
}

// NewRotator creates an empty rotator.
func NewRotator(cfg Config, clk clock.Clock, logger *zap.Logger) *Rotator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Strategy == "" {
		cfg.Strategy = RoundRobin
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{
		clk:    clk,
		logger: logger,
		cfg:    cfg,
		infos:  make(map[string]*sessionInfo),
	}
}

// Register adds a session identifier. Re-registering is a no-op.
func (r *Rotator) Register(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.infos[id]; ok {
		return
	}
	r.infos[id] = &sessionInfo{}
	r.order = append(r.order, id)
	r.logger.Debug("session registered", zap.String("session", id))
}

// Unregister removes a session identifier and its counters.
func (r *Rotator) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.infos[id]; !ok {
		return
	}
	delete(r.infos, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RecordRequest notes a request served by the session.
func (r *Rotator) RecordRequest(id string) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return
	}
	info.requestCount++
	info.lastRequestTime = now
}

// RecordError notes a failed request served by the session. The failed
// attempt counts as a request too, keeping errors <= requests.
func (r *Rotator) RecordError(id string) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return
	}
	info.requestCount++
	info.errorCount++
	info.lastRequestTime = now
}

// SetCooldown parks the session until now + d (the configured cooldown
// when d <= 0).
func (r *Rotator) SetCooldown(id string, d time.Duration) {
	if d <= 0 {
		d = r.cfg.Cooldown
	}
	until := r.clk.Now().Add(d)

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return
	}
	info.cooldownUntil = until
	r.logger.Info("session cooldown set",
		zap.String("session", id),
		zap.Duration("duration", d),
	)
}

// IsOnCooldown reports whether the session is parked, lazily clearing an
// expired deadline.
func (r *Rotator) IsOnCooldown(id string) bool {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return false
	}
	return r.onCooldownLocked(info, now)
}

func (r *Rotator) onCooldownLocked(info *sessionInfo, now time.Time) bool {
	if info.cooldownUntil.IsZero() {
		return false
	}
	if now.Before(info.cooldownUntil) {
		return true
	}
	info.cooldownUntil = time.Time{}
	return false
}

// CooldownRemaining returns how long the session stays parked. Zero when
// not on cooldown or unknown.
func (r *Rotator) CooldownRemaining(id string) time.Duration {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok || !r.onCooldownLocked(info, now) {
		return 0
	}
	return info.cooldownUntil.Sub(now)
}

// SelectSession picks the next session per the configured strategy.
// The second return is false when no session is available.
func (r *Rotator) SelectSession() (string, bool) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	available := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if !r.onCooldownLocked(r.infos[id], now) {
			available = append(available, id)
		}
	}
	if len(available) == 0 {
		return "", false
	}

	switch r.cfg.Strategy {
	case LeastLoaded:
		return r.leastLoadedLocked(available), true
	case LeastErrors:
		return r.leastErrorsLocked(available), true
	default:
		// Shrinking the available set must never strand the cursor.
		if r.rrIndex >= len(available) {
			r.rrIndex = 0
		}
		id := available[r.rrIndex]
		r.rrIndex++
		return id, true
	}
}

func (r *Rotator) leastLoadedLocked(available []string) string {
	best := available[0]
	for _, id := range available[1:] {
		if r.infos[id].requestCount < r.infos[best].requestCount {
			best = id
		}
	}
	return best
}

func (r *Rotator) leastErrorsLocked(available []string) string {
	anyErrors := false
	for _, id := range available {
		if r.infos[id].errorCount > 0 {
			anyErrors = true
			break
		}
	}
	if !anyErrors {
		// All-zero error rates would make the comparison an arbitrary
		// tie, so spread by load instead.
		return r.leastLoadedLocked(available)
	}

	best := available[0]
	bestRate := r.errorRateLocked(best)
	for _, id := range available[1:] {
		if rate := r.errorRateLocked(id); rate < bestRate {
			best = id
			bestRate = rate
		}
	}
	return best
}

func (r *Rotator) errorRateLocked(id string) float64 {
	info := r.infos[id]
	if info.requestCount == 0 {
		return 0
	}
	return float64(info.errorCount) / float64(info.requestCount)
}

// Sessions returns a snapshot of every registered session in registration
// order.
func (r *Rotator) Sessions() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		info := r.infos[id]
		out = append(out, Info{
			ID:              id,
			RequestCount:    info.requestCount,
			ErrorCount:      info.errorCount,
			CooldownUntil:   info.cooldownUntil,
			LastRequestTime: info.lastRequestTime,
		})
	}
	return out
}

// Clear resets the session's counters and cooldown.
func (r *Rotator) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.infos[id]; !ok {
		return
	}
	r.infos[id] = &sessionInfo{}
}
