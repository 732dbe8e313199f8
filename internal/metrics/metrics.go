// Package metrics exposes Prometheus collectors for the scraper core.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rateLimitDelaysSeconds  *prometheus.HistogramVec
	rateLimitHitsTotal      *prometheus.CounterVec
	retriesTotal            *prometheus.CounterVec
	sessionSelectionsTotal  *prometheus.CounterVec
	breakerTransitionsTotal *prometheus.CounterVec
	poolAcquisitionsTotal   *prometheus.CounterVec
	poolHandles             *prometheus.GaugeVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of waits imposed before requests, labeled by endpoint pattern.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"pattern"},
		)

		rateLimitHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_rate_limit_hits_total",
				Help: "Total rate-limit responses observed, labeled by endpoint pattern.",
			},
			[]string{"pattern"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_retries_total",
				Help: "Total retry attempts, labeled by endpoint pattern.",
			},
			[]string{"pattern"},
		)

		sessionSelectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_session_selections_total",
				Help: "Total session selections, labeled by session identifier.",
			},
			[]string{"session"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_breaker_transitions_total",
				Help: "Circuit breaker state transitions, labeled by target state.",
			},
			[]string{"state"},
		)

		poolAcquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pool_acquisitions_total",
				Help: "Browser pool acquisitions, labeled by session and outcome (created, reused, exhausted, failed).",
			},
			[]string{"session", "outcome"},
		)

		poolHandles = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_pool_handles",
				Help: "Current browser handles held per session pool.",
			},
			[]string{"session"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRateLimitDelay records a wait imposed before a request.
func ObserveRateLimitDelay(pattern string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(pattern).Observe(duration.Seconds())
}

// ObserveRateLimitHit counts a throttled response for the pattern.
func ObserveRateLimitHit(pattern string) {
	if rateLimitHitsTotal == nil {
		return
	}
	rateLimitHitsTotal.WithLabelValues(pattern).Inc()
}

// ObserveRetry counts a retry attempt for the pattern.
func ObserveRetry(pattern string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(pattern).Inc()
}

// ObserveSessionSelection counts a rotator pick.
func ObserveSessionSelection(session string) {
	if sessionSelectionsTotal == nil {
		return
	}
	sessionSelectionsTotal.WithLabelValues(session).Inc()
}

// ObserveBreakerTransition counts a circuit breaker state change.
func ObserveBreakerTransition(state string) {
	if breakerTransitionsTotal == nil {
		return
	}
	breakerTransitionsTotal.WithLabelValues(state).Inc()
}

// ObservePoolAcquisition counts a pool acquisition outcome.
func ObservePoolAcquisition(session, outcome string) {
	if poolAcquisitionsTotal == nil {
		return
	}
	poolAcquisitionsTotal.WithLabelValues(session, outcome).Inc()
}

// SetPoolHandles records the current handle count for a session pool.
func SetPoolHandles(session string, n int) {
	if poolHandles == nil {
		return
	}
	poolHandles.WithLabelValues(session).Set(float64(n))
}
