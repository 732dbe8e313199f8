package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"absent", "", 0, false},
		{"null literal", "null", 0, false},
		{"integer seconds", "30", 30 * time.Second, true},
		{"zero seconds", "0", 0, true},
		{"decimal seconds", "1.5", 1500 * time.Millisecond, true},
		{"negative seconds", "-5", 0, false},
		{"http date in future", now.Add(45 * time.Second).Format(time.RFC1123), 45 * time.Second, true},
		{"http date in past", now.Add(-time.Minute).Format(time.RFC1123), 0, false},
		{"garbage", "soon", 0, false},
		{"not a day prefix", "2025-06-01T12:01:00Z", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseRetryAfter(tc.value, now, 0)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseRetryAfterCap(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got, ok := ParseRetryAfter("3600", now, 0)
	require.True(t, ok)
	require.Equal(t, DefaultMaxRetryAfter, got)

	got, ok = ParseRetryAfter("3600", now, 10*time.Second)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, got)

	date := now.Add(time.Hour).Format(time.RFC1123)
	got, ok = ParseRetryAfter(date, now, 10*time.Second)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, got)
}
