// Package pool manages bounded sets of expensive browser-process handles,
// guarded by a circuit breaker on the creation path.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/breaker"
	"github.com/probelab/leetcrawl/internal/clock"
	"github.com/probelab/leetcrawl/internal/metrics"
)

// ErrDrained is returned by Acquire after the pool has been drained.
var ErrDrained = errors.New("pool is drained")

// ExhaustedError reports that every handle stayed busy past the
// acquisition timeout. It carries the numbers an operator needs to tune
// the pool.
type ExhaustedError struct {
	Timeout time.Duration
	Size    int
	Max     int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pool exhausted: no handle released within %v (size %d, max %d)", e.Timeout, e.Size, e.Max)
}

// Handle is one live browser process, owned by the pool between creation
// and destruction. Callers borrow it between Acquire and Release and must
// not retain it afterward.
type Handle interface {
	ID() string
	IsConnected() bool
	ResetContexts(ctx context.Context) error
	Close(ctx context.Context) error
}

// Factory creates one browser-process handle.
type Factory interface {
	NewHandle(ctx context.Context) (Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Handle, error)

// NewHandle calls f.
func (f FactoryFunc) NewHandle(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// Config controls pool behavior.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string
	// Enabled false bypasses pooling: every Acquire creates a fresh
	// handle and every Release destroys it.
	Enabled        bool
	MinSize        int
	MaxSize        int
	MaxIdleTime    time.Duration
	ReusePages     bool
	AcquireTimeout time.Duration
	Breaker        breaker.Config
}

// DefaultConfig returns the standard pool configuration.
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Enabled:        true,
		MinSize:        0,
		MaxSize:        3,
		MaxIdleTime:    5 * time.Minute,
		ReusePages:     true,
		AcquireTimeout: 30 * time.Second,
		Breaker:        breaker.DefaultConfig(),
	}
}

// Validate rejects unusable sizing.
func (c Config) Validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("pool min size must be >= 0, got %d", c.MinSize)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("pool max size must be >= 1, got %d", c.MaxSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("pool min size %d must be <= max size %d", c.MinSize, c.MaxSize)
	}
	if c.MaxIdleTime < 0 {
		return fmt.Errorf("pool max idle time must be >= 0, got %v", c.MaxIdleTime)
	}
	return c.Breaker.Validate()
}

// Stats counts pool activity since construction.
type Stats struct {
	Created   int
	Reused    int
	Evicted   int
	Exhausted int
}

type pooledHandle struct {
	handle     Handle
	inUse      bool
	createdAt  time.Time
	lastUsedAt time.Time
	usageCount int
}

// Pool owns a bounded set of reusable handles. Safe for concurrent use.
type Pool struct {
	cfg     Config
	clk     clock.Clock
	logger  *zap.Logger
	factory Factory
	brk     *breaker.Breaker

	mu       sync.Mutex
	handles  []*pooledHandle
	creating int
	drained  bool
	stats    Stats

	releaseCh chan struct{}
	stopCh    chan struct{}
	drainCh   chan struct{}
	stopOnce  sync.Once

	maintenanceEvery time.Duration
}

// New validates cfg, builds the pool, and starts its maintenance loop.
func New(cfg Config, factory Factory, clk clock.Clock, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pool config: %w", err)
	}
	if factory == nil {
		return nil, errors.New("pool factory is required")
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:              cfg,
		clk:              clk,
		logger:           logger.With(zap.String("pool", cfg.Name)),
		factory:          factory,
		brk:              breaker.New(cfg.Breaker, clk, logger),
		releaseCh:        make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		drainCh:          make(chan struct{}),
		maintenanceEvery: 30 * time.Second,
	}
	if cfg.Enabled {
		go p.maintenanceLoop()
	}
	return p, nil
}

// Breaker exposes the creation-path circuit breaker.
func (p *Pool) Breaker() *breaker.Breaker {
	return p.brk
}

// Size returns the number of handles currently held.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Stats returns a snapshot of the activity counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Acquire returns an idle handle, creating one when the pool has room.
// At capacity it waits for a release until the acquisition timeout.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	if !p.cfg.Enabled {
		h, err := p.factory.NewHandle(ctx)
		if err != nil {
			return nil, fmt.Errorf("create handle: %w", err)
		}
		return h, nil
	}

	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()

	for {
		h, created, err := p.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if h != nil {
			outcome := "reused"
			if created {
				outcome = "created"
			}
			metrics.ObservePoolAcquisition(p.cfg.Name, outcome)
			metrics.SetPoolHandles(p.cfg.Name, p.Size())
			return h, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.drainCh:
			return nil, ErrDrained
		case <-timeout.C:
			p.mu.Lock()
			p.stats.Exhausted++
			size := len(p.handles)
			p.mu.Unlock()
			metrics.ObservePoolAcquisition(p.cfg.Name, "exhausted")
			return nil, &ExhaustedError{Timeout: p.cfg.AcquireTimeout, Size: size, Max: p.cfg.MaxSize}
		case <-p.releaseCh:
			// A handle came back (or capacity freed up); try again.
		}
	}
}

// tryAcquire returns a handle when one is idle or the pool has room.
// A nil handle with nil error means the caller should wait.
func (p *Pool) tryAcquire(ctx context.Context) (h Handle, created bool, err error) {
	now := p.clk.Now()

	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return nil, false, ErrDrained
	}

	for i := 0; i < len(p.handles); {
		ph := p.handles[i]
		if ph.inUse {
			i++
			continue
		}
		if !ph.handle.IsConnected() {
			// Dead idle handle: evict and keep scanning.
			p.removeLocked(i)
			p.closeAsync(ph.handle)
			continue
		}
		ph.inUse = true
		ph.usageCount++
		ph.lastUsedAt = now
		p.stats.Reused++
		moreIdle := false
		for _, other := range p.handles {
			if other != ph && !other.inUse {
				moreIdle = true
				break
			}
		}
		p.mu.Unlock()
		if moreIdle {
			// The notify channel buffers a single token, so back-to-back
			// releases can collapse into one wakeup. Pass the token on
			// while idle handles remain.
			p.signalRelease()
		}
		return ph.handle, false, nil
	}

	if len(p.handles)+p.creating >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.creating++
	p.mu.Unlock()

	handle, err := breaker.Do(ctx, p.brk, p.factory.NewHandle)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		// Capacity freed up; wake one waiter.
		p.signalRelease()
		metrics.ObservePoolAcquisition(p.cfg.Name, "failed")
		if errors.Is(err, breaker.ErrOpen) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("create handle: %w", err)
	}
	if p.drained {
		p.mu.Unlock()
		p.closeAsync(handle)
		return nil, false, ErrDrained
	}
	ph := &pooledHandle{
		handle:     handle,
		inUse:      true,
		createdAt:  now,
		lastUsedAt: now,
		usageCount: 1,
	}
	p.handles = append(p.handles, ph)
	p.stats.Created++
	p.mu.Unlock()

	p.logger.Debug("handle created", zap.String("handle", handle.ID()))
	return handle, true, nil
}

// Release returns a borrowed handle to the pool. A handle the pool does
// not recognize is closed directly.
func (p *Pool) Release(ctx context.Context, h Handle) {
	if h == nil {
		return
	}
	if !p.cfg.Enabled {
		p.closeHandle(ctx, h)
		return
	}

	p.mu.Lock()
	var found *pooledHandle
	for _, ph := range p.handles {
		if ph.handle == h {
			found = ph
			break
		}
	}
	if found == nil {
		p.mu.Unlock()
		p.closeHandle(ctx, h)
		return
	}
	p.mu.Unlock()

	// The handle stays marked in-use until the reset finishes, so no
	// concurrent Acquire can borrow a tab mid-navigation.
	if p.cfg.ReusePages {
		if err := h.ResetContexts(ctx); err != nil {
			p.logger.Warn("reset contexts failed", zap.String("handle", h.ID()), zap.Error(err))
		}
	}

	p.mu.Lock()
	found.inUse = false
	found.lastUsedAt = p.clk.Now()
	p.mu.Unlock()
	p.signalRelease()
}

// Drain stops maintenance, closes every handle best-effort, and rejects
// subsequent Acquire calls.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return
	}
	p.drained = true
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		close(p.stopCh)
		close(p.drainCh)
	})

	for _, ph := range handles {
		p.closeHandle(ctx, ph.handle)
	}
	metrics.SetPoolHandles(p.cfg.Name, 0)
	p.logger.Info("pool drained", zap.Int("closed", len(handles)))
}

func (p *Pool) maintenanceLoop() {
	ticker := time.NewTicker(p.maintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.maintain(context.Background())
		}
	}
}

// maintain evicts idle handles past MaxIdleTime (never dropping below
// MinSize) and tops the pool back up to MinSize.
func (p *Pool) maintain(ctx context.Context) {
	now := p.clk.Now()

	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return
	}
	var evict []Handle
	if p.cfg.MaxIdleTime > 0 {
		for i := 0; i < len(p.handles); {
			ph := p.handles[i]
			if ph.inUse || now.Sub(ph.lastUsedAt) < p.cfg.MaxIdleTime || len(p.handles) <= p.cfg.MinSize {
				i++
				continue
			}
			p.removeLocked(i)
			evict = append(evict, ph.handle)
		}
	}
	missing := p.cfg.MinSize - len(p.handles) - p.creating
	if missing > 0 {
		p.creating += missing
	}
	p.mu.Unlock()

	for _, h := range evict {
		p.logger.Debug("evicting idle handle", zap.String("handle", h.ID()))
		p.closeHandle(ctx, h)
	}

	for i := 0; i < missing; i++ {
		handle, err := breaker.Do(ctx, p.brk, p.factory.NewHandle)
		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			p.logger.Warn("min size top-up failed", zap.Error(err))
			continue
		}
		if p.drained {
			p.mu.Unlock()
			p.closeAsync(handle)
			continue
		}
		now := p.clk.Now()
		p.handles = append(p.handles, &pooledHandle{
			handle:     handle,
			createdAt:  now,
			lastUsedAt: now,
		})
		p.stats.Created++
		p.mu.Unlock()
		p.signalRelease()
	}
	metrics.SetPoolHandles(p.cfg.Name, p.Size())
}

func (p *Pool) removeLocked(i int) {
	p.stats.Evicted++
	p.handles = append(p.handles[:i], p.handles[i+1:]...)
}

func (p *Pool) signalRelease() {
	select {
	case p.releaseCh <- struct{}{}:
	default:
	}
}

func (p *Pool) closeHandle(ctx context.Context, h Handle) {
	if err := h.Close(ctx); err != nil {
		p.logger.Warn("close handle failed", zap.String("handle", h.ID()), zap.Error(err))
	}
}

func (p *Pool) closeAsync(h Handle) {
	go p.closeHandle(context.Background(), h)
}
