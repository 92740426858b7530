// Package metrics exposes Prometheus counters for the auth flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultBlocked  = "blocked"
	ResultRotating = "rotating"
	ResultReuse    = "reuse"
	ResultError    = "error"
)

// Metrics holds the collectors on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	reg         *prometheus.Registry
	logins      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	tokenReuse  prometheus.Counter
	revoked     prometheus.Counter
	authzDenied *prometheus.CounterVec
}

// New registers the auth collectors plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forum_auth", Name: "logins_total", Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forum_auth", Name: "refreshes_total", Help: "Refresh token rotations by result.",
		}, []string{"result"}),
		tokenReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forum_auth", Name: "token_reuse_total", Help: "Detected refresh token reuse.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forum_auth", Name: "tokens_revoked_total", Help: "Refresh tokens revoked in bulk.",
		}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forum_auth", Name: "authz_denied_total", Help: "Requests denied by permission checks.",
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		m.logins, m.refreshes, m.tokenReuse, m.revoked, m.authzDenied,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Login counts a login attempt.
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// Refresh counts a rotation attempt.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// TokenReuse counts a reuse detection.
func (m *Metrics) TokenReuse() {
	if m == nil {
		return
	}
	m.tokenReuse.Inc()
}

// Revoked adds n bulk-revoked tokens.
func (m *Metrics) Revoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.Add(float64(n))
}

// AuthzDenied counts a permission denial for a route.
func (m *Metrics) AuthzDenied(route string) {
	if m == nil {
		return
	}
	m.authzDenied.WithLabelValues(route).Inc()
}
