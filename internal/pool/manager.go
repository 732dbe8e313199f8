package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/clock"
)

// ManagerConfig controls the per-session pool registry.
type ManagerConfig struct {
	// Pool is the template for each session's pool; Name and MaxSize are
	// overridden per session.
	Pool Config
	// MaxSizePerSession caps each identity's pool, usually smaller than a
	// single global pool would be.
	MaxSizePerSession int
	// AcquireTimeout bounds the whole acquisition, independent of the
	// pool's own internal waiting.
	AcquireTimeout time.Duration
	// AcquireRetries is how many extra attempts a failed acquisition gets
	// within the timeout.
	AcquireRetries int
	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration
}

// DefaultManagerConfig returns the standard per-session configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Pool:              DefaultConfig(),
		MaxSizePerSession: 2,
		AcquireTimeout:    45 * time.Second,
		AcquireRetries:    2,
		RetryDelay:        250 * time.Millisecond,
	}
}

// SessionStats counts acquisition outcomes for one session.
type SessionStats struct {
	Acquired int
	Failed   int
}

// FactoryForSession builds the handle factory for a named identity, so
// each session's browsers carry that identity's credentials.
type FactoryForSession func(sessionName string) Factory

// SessionPools multiplexes resource pools by session name. Safe for
// concurrent use.
type SessionPools struct {
	cfg        ManagerConfig
	newFactory FactoryForSession
	clk        clock.Clock
	logger     *zap.Logger

	mu    sync.Mutex
	pools map[string]*Pool
	stats map[string]*SessionStats
}

// NewSessionPools creates an empty registry.
func NewSessionPools(cfg ManagerConfig, newFactory FactoryForSession, clk clock.Clock, logger *zap.Logger) (*SessionPools, error) {
	if newFactory == nil {
		return nil, fmt.Errorf("session pools: factory builder is required")
	}
	if cfg.MaxSizePerSession < 1 {
		cfg.MaxSizePerSession = DefaultManagerConfig().MaxSizePerSession
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultManagerConfig().AcquireTimeout
	}
	if cfg.AcquireRetries < 0 {
		cfg.AcquireRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultManagerConfig().RetryDelay
	}
	poolCfg := cfg.Pool
	poolCfg.MaxSize = cfg.MaxSizePerSession
	if poolCfg.MinSize > poolCfg.MaxSize {
		poolCfg.MinSize = poolCfg.MaxSize
	}
	if err := poolCfg.Validate(); err != nil {
		return nil, fmt.Errorf("session pools: %w", err)
	}
	cfg.Pool = poolCfg
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionPools{
		cfg:        cfg,
		newFactory: newFactory,
		clk:        clk,
		logger:     logger,
		pools:      make(map[string]*Pool),
		stats:      make(map[string]*SessionStats),
	}, nil
}

// GetPool returns the named session's pool, creating it lazily.
func (s *SessionPools) GetPool(sessionName string) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPoolLocked(sessionName)
}

func (s *SessionPools) getPoolLocked(sessionName string) (*Pool, error) {
	if p, ok := s.pools[sessionName]; ok {
		return p, nil
	}
	cfg := s.cfg.Pool
	cfg.Name = sessionName
	p, err := New(cfg, s.newFactory(sessionName), s.clk, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create pool for session %q: %w", sessionName, err)
	}
	s.pools[sessionName] = p
	s.stats[sessionName] = &SessionStats{}
	s.logger.Info("session pool created",
		zap.String("session", sessionName),
		zap.Int("max_size", cfg.MaxSize),
	)
	return p, nil
}

// AcquireBrowser borrows a handle from the named session's pool, with a
// whole-operation timeout and bounded retry on top of the pool's own
// waiting.
func (s *SessionPools) AcquireBrowser(ctx context.Context, sessionName string) (Handle, error) {
	p, err := s.GetPool(sessionName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.AcquireRetries; attempt++ {
		h, err := p.Acquire(ctx)
		if err == nil {
			s.bumpStats(sessionName, true)
			return h, nil
		}
		lastErr = err
		s.bumpStats(sessionName, false)
		if ctx.Err() != nil {
			break
		}
		s.logger.Warn("browser acquisition failed",
			zap.String("session", sessionName),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if attempt < s.cfg.AcquireRetries {
			timer := time.NewTimer(s.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("acquire browser for session %q: %w", sessionName, lastErr)
}

// ReleaseBrowser returns a handle to the named session's pool.
func (s *SessionPools) ReleaseBrowser(ctx context.Context, sessionName string, h Handle) {
	s.mu.Lock()
	p, ok := s.pools[sessionName]
	s.mu.Unlock()
	if !ok {
		// No pool to give it back to; close directly.
		if h != nil {
			_ = h.Close(ctx)
		}
		return
	}
	p.Release(ctx, h)
}

// Stats returns a snapshot of the named session's counters.
func (s *SessionPools) Stats(sessionName string) SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[sessionName]; ok {
		return *st
	}
	return SessionStats{}
}

// DrainSession tears down one named pool.
func (s *SessionPools) DrainSession(ctx context.Context, sessionName string) {
	s.mu.Lock()
	p, ok := s.pools[sessionName]
	delete(s.pools, sessionName)
	s.mu.Unlock()
	if ok {
		p.Drain(ctx)
	}
}

// DrainAll tears down every named pool.
func (s *SessionPools) DrainAll(ctx context.Context) {
	s.mu.Lock()
	pools := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.pools = make(map[string]*Pool)
	s.mu.Unlock()

	for _, p := range pools {
		p.Drain(ctx)
	}
}

func (s *SessionPools) bumpStats(sessionName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.stats[sessionName]
	if !exists {
		st = &SessionStats{}
		s.stats[sessionName] = st
	}
	if ok {
		st.Acquired++
	} else {
		st.Failed++
	}
}
