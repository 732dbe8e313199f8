// Package breaker implements a three-state circuit breaker for guarding
// expensive operations that can fail repeatedly, such as launching a
// browser process.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/clock"
	"github.com/probelab/leetcrawl/internal/metrics"
)

// ErrOpen is returned when the circuit refuses to invoke the wrapped
// operation. Callers can distinguish "your operation failed" from "we
// refused to even try" with errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	// StateClosed lets operations run normally.
	StateClosed State = iota
	// StateOpen fails calls immediately without invoking the operation.
	StateOpen
	// StateHalfOpen lets a bounded number of trial calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls breaker thresholds.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

// DefaultConfig returns the standard breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Validate rejects unusable thresholds.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("breaker success threshold must be >= 1, got %d", c.SuccessThreshold)
	}
	if c.ResetTimeout < 0 {
		return fmt.Errorf("breaker reset timeout must be >= 0, got %v", c.ResetTimeout)
	}
	return nil
}

// Breaker wraps an arbitrary operation with failure isolation. Safe for
// concurrent use.
type Breaker struct {
	mu             sync.Mutex
	cfg            Config
	clk            clock.Clock
	logger         *zap.Logger
	state          State
	failures       int
	successes      int
	trialsInFlight int
	openedAt       time.Time
	onStateChange  func(from, to State)
}

// New creates a closed breaker.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{cfg: cfg, clk: clk, logger: logger, state: StateClosed}
}

// OnStateChange registers a callback fired on every transition. The
// callback runs outside the breaker's lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op under the breaker's policy.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := b.admit()
	if err != nil {
		return zero, err
	}

	result, opErr := op(ctx)
	b.settle(trial, opErr)
	if opErr != nil {
		return zero, opErr
	}
	return result, nil
}

// admit decides whether a call may proceed, returning whether it counts
// as a half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var notify func()
	defer func() {
		b.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.clk.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		notify = b.transitionLocked(StateHalfOpen)
		b.trialsInFlight = 1
		return true, nil
	default: // StateHalfOpen
		if b.successes+b.trialsInFlight >= b.cfg.SuccessThreshold {
			return false, ErrOpen
		}
		b.trialsInFlight++
		return true, nil
	}
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(trial bool, opErr error) {
	b.mu.Lock()
	var notify func()
	defer func() {
		b.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	if trial && b.trialsInFlight > 0 {
		b.trialsInFlight--
	}

	switch b.state {
	case StateClosed:
		if opErr != nil {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.openedAt = b.clk.Now()
				notify = b.transitionLocked(StateOpen)
			}
		} else {
			b.failures = 0
		}
	case StateHalfOpen:
		if opErr != nil {
			// One failed trial sends the circuit straight back open
			// and restarts the reset timer.
			b.successes = 0
			b.trialsInFlight = 0
			b.openedAt = b.clk.Now()
			notify = b.transitionLocked(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.trialsInFlight = 0
			notify = b.transitionLocked(StateClosed)
		}
	}
}

// Reset forces the breaker closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var notify func()
	b.failures = 0
	b.successes = 0
	b.trialsInFlight = 0
	b.openedAt = time.Time{}
	if b.state != StateClosed {
		notify = b.transitionLocked(StateClosed)
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// transitionLocked moves to the new state and returns the deferred
// notification to run once the lock is released.
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	b.state = to
	b.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures),
	)
	metrics.ObserveBreakerTransition(to.String())
	fn := b.onStateChange
	if fn == nil {
		return nil
	}
	return func() { fn(from, to) }
}
