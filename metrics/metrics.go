// Package metrics exports authentication and session counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panyam/secrets"
)

var _ secrets.Recorder = (*Collector)(nil)

// Collector implements secrets.Recorder with Prometheus counters
type Collector struct {
	authAttempts *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secrets_auth_attempts_total",
			Help: "Authentication attempts by method and outcome",
		}, []string{"method", "outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secrets_sessions_total",
			Help: "Session lifecycle events",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secrets_http_requests_total",
			Help: "HTTP responses by status code",
		}, []string{"code"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.sessions,
		c.httpRequests,
	)
	return c
}

func (c *Collector) RecordAuth(method, outcome string) {
	c.authAttempts.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordSession(event string) {
	c.sessions.WithLabelValues(event).Inc()
}

func (c *Collector) RecordRequest(code int) {
	c.httpRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
