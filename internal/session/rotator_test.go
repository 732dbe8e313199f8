package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probelab/leetcrawl/internal/clock"
)

func newTestRotator(strategy DistributionStrategy) (*Rotator, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	r := NewRotator(Config{Strategy: strategy, Cooldown: 30 * time.Second}, clk, nil)
	return r, clk
}

func TestRoundRobinCyclesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(RoundRobin)
	r.Register("a")
	r.Register("b")
	r.Register("c")

	var got []string
	for i := 0; i < 7; i++ {
		id, ok := r.SelectSession()
		require.True(t, ok)
		got = append(got, id)
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestRoundRobinSurvivesShrinkingAvailableSet(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(RoundRobin)
	r.Register("a")
	r.Register("b")
	r.Register("c")

	_, _ = r.SelectSession()
	_, _ = r.SelectSession()

	// Cursor sits past the end of the shrunken available set; selection
	// must wrap instead of failing.
	r.SetCooldown("b", time.Minute)
	r.SetCooldown("c", time.Minute)

	id, ok := r.SelectSession()
	require.True(t, ok)
	require.Equal(t, "a", id)
}

func TestSelectSessionNoneAvailable(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(RoundRobin)
	_, ok := r.SelectSession()
	require.False(t, ok)

	r.Register("a")
	r.SetCooldown("a", time.Minute)
	_, ok = r.SelectSession()
	require.False(t, ok)
}

func TestCooldownLazyExpiry(t *testing.T) {
	t.Parallel()

	r, clk := newTestRotator(RoundRobin)
	r.Register("a")
	r.SetCooldown("a", 10*time.Second)

	require.True(t, r.IsOnCooldown("a"))
	require.Equal(t, 10*time.Second, r.CooldownRemaining("a"))

	clk.Advance(10 * time.Second)
	require.False(t, r.IsOnCooldown("a"))
	require.Zero(t, r.CooldownRemaining("a"))

	id, ok := r.SelectSession()
	require.True(t, ok)
	require.Equal(t, "a", id)
}

func TestSetCooldownDefaultDuration(t *testing.T) {
	t.Parallel()

	r, clk := newTestRotator(RoundRobin)
	r.Register("a")
	r.SetCooldown("a", 0)

	clk.Advance(29 * time.Second)
	require.True(t, r.IsOnCooldown("a"))
	clk.Advance(time.Second)
	require.False(t, r.IsOnCooldown("a"))
}

func TestLeastLoadedPicksFewestRequests(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(LeastLoaded)
	r.Register("a")
	r.Register("b")
	r.Register("c")

	r.RecordRequest("a")
	r.RecordRequest("a")
	r.RecordRequest("b")

	id, ok := r.SelectSession()
	require.True(t, ok)
	require.Equal(t, "c", id)
}

func TestLeastLoadedTieBreaksByRegistrationOrder(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(LeastLoaded)
	r.Register("a")
	r.Register("b")

	id, ok := r.SelectSession()
	require.True(t, ok)
	require.Equal(t, "a", id)
}

func TestLeastErrorsPicksLowestErrorRate(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(LeastErrors)
	r.Register("a")
	r.Register("b")

	// a: 2 errors / 4 requests = 0.5, b: 1 error / 4 requests = 0.25
	r.RecordRequest("a")
	r.RecordRequest("a")
	r.RecordError("a")
	r.RecordError("a")
	r.RecordRequest("b")
	r.RecordRequest("b")
	r.RecordRequest("b")
	r.RecordError("b")

	id, ok := r.SelectSession()
	require.True(t, ok)
	require.Equal(t, "b", id)
}

func TestLeastErrorsAllZeroFallsBackToLeastLoaded(t *testing.T) {
	t.Parallel()

	le, _ := newTestRotator(LeastErrors)
	ll, _ := newTestRotator(LeastLoaded)
	for _, r := range []*Rotator{le, ll} {
		r.Register("a")
		r.Register("b")
		r.Register("c")
		r.RecordRequest("a")
		r.RecordRequest("a")
		r.RecordRequest("c")
	}

	wantID, ok := ll.SelectSession()
	require.True(t, ok)

	gotID, ok := le.SelectSession()
	require.True(t, ok)
	require.Equal(t, wantID, gotID)
	require.Equal(t, "b", gotID)
}

func TestRecordErrorKeepsInvariant(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(RoundRobin)
	r.Register("a")
	r.RecordError("a")
	r.RecordError("a")

	infos := r.Sessions()
	require.Len(t, infos, 1)
	require.Equal(t, 2, infos[0].ErrorCount)
	require.LessOrEqual(t, infos[0].ErrorCount, infos[0].RequestCount)
}

func TestUnregisterAndClear(t *testing.T) {
	t.Parallel()

	r, _ := newTestRotator(RoundRobin)
	r.Register("a")
	r.Register("b")
	r.RecordRequest("a")

	r.Unregister("a")
	require.Len(t, r.Sessions(), 1)

	r.RecordRequest("b")
	r.Clear("b")
	infos := r.Sessions()
	require.Equal(t, 0, infos[0].RequestCount)
}
