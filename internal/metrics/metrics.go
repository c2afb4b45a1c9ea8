// Package metrics provides Prometheus instrumentation for knolword.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conorfennell/knolword/internal/domain"
)

// Manager owns a private registry and the review and HTTP collectors.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Review metrics
	itemsTracked *prometheus.CounterVec
	itemsShown   prometheus.Counter
	ratings      *prometheus.CounterVec
	failures     *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled             bool
	HTTPDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		HTTPDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a metrics manager. A disabled manager accepts every call
// and records nothing.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}
	m.initReviewMetrics()
	m.initHTTPMetrics(cfg)
	return m
}

func (m *Manager) initReviewMetrics() {
	m.itemsTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knolword_items_tracked_total",
			Help: "Total number of looked-up words, by whether they were new",
		},
		[]string{"created"},
	)
	m.itemsShown = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "knolword_items_shown_total",
			Help: "Total number of items shown for review",
		},
	)
	m.ratings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knolword_ratings_total",
			Help: "Total number of applied ratings",
		},
		[]string{"rating"},
	)
	m.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knolword_review_failures_total",
			Help: "Total number of failed review operations",
		},
		[]string{"op"},
	)

	m.registry.MustRegister(m.itemsTracked, m.itemsShown, m.ratings, m.failures)
}

func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// ObserveTracked counts a tracked word.
func (m *Manager) ObserveTracked(created bool) {
	if !m.enabled {
		return
	}
	m.itemsTracked.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// ObserveShown counts an item handed out for review.
func (m *Manager) ObserveShown() {
	if !m.enabled {
		return
	}
	m.itemsShown.Inc()
}

// ObserveRating counts an applied rating.
func (m *Manager) ObserveRating(r domain.Rating) {
	if !m.enabled {
		return
	}
	m.ratings.WithLabelValues(r.String()).Inc()
}

// ObserveFailure counts a failed review operation.
func (m *Manager) ObserveFailure(op string) {
	if !m.enabled {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}

// RecordHTTPRequest records an HTTP request with method, route pattern and status.
func (m *Manager) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
