package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probelab/leetcrawl/internal/clock"
)

var errBoom = errors.New("launch failed")

func newTestBreaker(cfg Config) (*Breaker, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return New(cfg, clk, nil), clk
}

func fail(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error { return errBoom })
}

func succeed(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error { return nil })
}

func TestOpensOnExactThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: 30 * time.Second, SuccessThreshold: 2})

	require.Error(t, fail(b))
	require.Equal(t, StateClosed, b.State())
	require.Error(t, fail(b))
	require.Equal(t, StateClosed, b.State())
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: 30 * time.Second, SuccessThreshold: 2})

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.NoError(t, succeed(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.Equal(t, StateClosed, b.State())
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())
}

func TestOpenRejectsWithoutInvoking(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, SuccessThreshold: 1})
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())

	var invoked bool
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	require.False(t, invoked)
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, SuccessThreshold: 2})
	require.Error(t, fail(b))

	clk.Advance(29 * time.Second)
	require.ErrorIs(t, succeed(b), ErrOpen)

	clk.Advance(time.Second)
	require.NoError(t, succeed(b))
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, succeed(b))
	require.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, SuccessThreshold: 2})
	require.Error(t, fail(b))

	clk.Advance(30 * time.Second)
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())

	// The open timer restarted with the failed trial.
	clk.Advance(29 * time.Second)
	require.ErrorIs(t, succeed(b), ErrOpen)
	clk.Advance(time.Second)
	require.NoError(t, succeed(b))
}

func TestResetForcesClosed(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Hour, SuccessThreshold: 2})
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	require.Equal(t, StateClosed, b.State())
	require.NoError(t, succeed(b))
}

func TestStateChangeCallback(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second, SuccessThreshold: 1})

	type change struct{ from, to State }
	var changes []change
	b.OnStateChange(func(from, to State) {
		changes = append(changes, change{from, to})
	})

	require.Error(t, fail(b))
	clk.Advance(30 * time.Second)
	require.NoError(t, succeed(b))

	require.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, changes)
}

func TestDoReturnsValue(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(DefaultConfig())
	got, err := Do(context.Background(), b, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{FailureThreshold: 0, ResetTimeout: time.Second, SuccessThreshold: 1}.Validate())
	require.Error(t, Config{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 0}.Validate())
	require.Error(t, Config{FailureThreshold: 1, ResetTimeout: -time.Second, SuccessThreshold: 1}.Validate())
}
