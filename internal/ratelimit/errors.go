package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError marks a response where the remote server throttled the
// request. RetryAfter is zero when the server gave no hint.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
	Err        error
}

// NewRateLimitError builds a RateLimitError wrapping cause (may be nil).
func NewRateLimitError(endpoint string, retryAfter time.Duration, cause error) *RateLimitError {
	return &RateLimitError{Endpoint: endpoint, RetryAfter: retryAfter, Err: cause}
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("rate limited on %s", e.Endpoint)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

var rateLimitIndicators = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"429",
}

// IsRateLimitError reports whether err is a recognized rate-limit
// condition: either a *RateLimitError anywhere in the chain, or an error
// message carrying a throttling indicator.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range rateLimitIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// RetryAfterHint extracts the server-supplied wait from err, if any.
func RetryAfterHint(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}
