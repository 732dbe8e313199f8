package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// DefaultMaxRetryAfter bounds how long a server-supplied Retry-After hint
// can make us wait, so a stale or hostile header cannot park the crawler.
const DefaultMaxRetryAfter = 120 * time.Second

var dayAbbreviations = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ParseRetryAfter converts a Retry-After header value into a wait duration.
// It accepts delay-seconds (integer or decimal) and RFC 1123 style dates.
// The second return is false when the value is absent, unparseable, or
// represents a past instant. Results are capped at max (DefaultMaxRetryAfter
// when max <= 0).
func ParseRetryAfter(value string, now time.Time, max time.Duration) (time.Duration, bool) {
	if max <= 0 {
		max = DefaultMaxRetryAfter
	}
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "null") {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return capDelay(time.Duration(secs*float64(time.Second)), max), true
	}

	if !startsWithDayAbbreviation(value) {
		return 0, false
	}
	target, err := parseHTTPDate(value)
	if err != nil {
		return 0, false
	}
	delay := target.Sub(now)
	if delay <= 0 {
		return 0, false
	}
	return capDelay(delay, max), true
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}

func startsWithDayAbbreviation(value string) bool {
	for _, day := range dayAbbreviations {
		if strings.HasPrefix(value, day) {
			return true
		}
	}
	return false
}

func parseHTTPDate(value string) (time.Time, error) {
	layouts := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
