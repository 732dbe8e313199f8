package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/leetcrawl/internal/clock"
)

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"/problems/two-sum", "/problems/*"},
		{"/problems/two-sum/", "/problems/*"},
		{"/problems/median-of-two-sorted-arrays", "/problems/*"},
		{"/problems/two-sum/description", "/problems/*/description"},
		{"/problems/two-sum/editorial", "/problems/*/editorial"},
		{"/problems/two-sum/solutions", "/problems/*/solutions"},
		{"/problems/two-sum/discuss", "/problems/*/discuss"},
		{"/discuss/topic/12345", "/discuss/topic/*"},
		{"/discuss/topic/12345/some-title", "/discuss/topic/*"},
		{"https://leetcode.com/problems/two-sum", "/problems/*"},
		{"https://leetcode.com/problems/two-sum/description/", "/problems/*/description"},
		{"/company/capital-one", "/company/capital-one"},
		{"/company/capital-one/", "/company/capital-one"},
		{"", "/"},
		{"/", "/"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeEndpoint(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeEndpointIdempotent(t *testing.T) {
	t.Parallel()

	patterns := []string{
		"/problems/*",
		"/problems/*/description",
		"/problems/*/editorial",
		"/problems/*/solutions",
		"/problems/*/discuss",
		"/discuss/topic/*",
		"/company/capital-one",
		"/",
	}
	for _, p := range patterns {
		assert.Equal(t, p, NormalizeEndpoint(p), "pattern %q", p)
	}
}

func TestSharedBucketForSamePattern(t *testing.T) {
	t.Parallel()

	states := NewEndpointStates(clock.NewFake(time.Now()), nil)
	states.RecordSuccess("/problems/two-sum")
	states.RecordSuccess("/problems/valid-anagram")

	st, ok := states.Status("/problems/anything-else")
	require.True(t, ok)
	require.Equal(t, 2, st.HitCount)
	require.Equal(t, "/problems/*", st.Pattern)
}

func TestRateLimitLazyExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	states := NewEndpointStates(clk, nil)

	states.RecordRateLimited("/problems/two-sum", 5*time.Second)
	require.True(t, states.IsRateLimited("/problems/two-sum"))

	clk.Advance(4 * time.Second)
	require.True(t, states.IsRateLimited("/problems/two-sum"))

	clk.Advance(time.Second)
	// Expiry is observed on read with no further recording calls.
	require.False(t, states.IsRateLimited("/problems/two-sum"))
}

func TestRecordSuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	states := NewEndpointStates(clock.NewFake(time.Now()), nil)

	states.RecordRateLimited("/problems/two-sum", 0)
	states.RecordRateLimited("/problems/two-sum", 0)
	states.RecordRateLimited("/problems/two-sum", 0)

	st, ok := states.Status("/problems/two-sum")
	require.True(t, ok)
	require.Equal(t, 3, st.ConsecutiveFailures)

	states.RecordSuccess("/problems/two-sum")
	st, ok = states.Status("/problems/two-sum")
	require.True(t, ok)
	require.Equal(t, 0, st.ConsecutiveFailures)
	require.False(t, st.RateLimited)
}

func TestClearExpiredSweep(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	states := NewEndpointStates(clk, nil)

	states.RecordRateLimited("/problems/a/description", 2*time.Second)
	states.RecordRateLimited("/problems/b/editorial", 10*time.Second)

	clk.Advance(5 * time.Second)
	states.ClearExpired()

	require.False(t, states.IsRateLimited("/problems/a/description"))
	require.True(t, states.IsRateLimited("/problems/b/editorial"))
}

func TestClear(t *testing.T) {
	t.Parallel()

	states := NewEndpointStates(clock.NewFake(time.Now()), nil)
	states.RecordSuccess("/problems/two-sum")

	states.Clear("/problems/other-problem")
	_, ok := states.Status("/problems/two-sum")
	require.False(t, ok)

	states.RecordSuccess("/problems/two-sum")
	states.ClearAll()
	_, ok = states.Status("/problems/two-sum")
	require.False(t, ok)
}
