// Package metrics provides Prometheus metrics for request
// authentication.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the authenticator.
type Metrics struct {
	enabled bool

	// Authentication outcomes
	requestsTotal *prometheus.CounterVec

	// Handshake flow
	handshakesTotal *prometheus.CounterVec

	// Token refresh
	refreshesTotal *prometheus.CounterVec

	// JWKS cache
	jwksCacheHitsTotal   prometheus.Counter
	jwksCacheMissesTotal prometheus.Counter
}

// New creates and registers Prometheus metrics on the default registry.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	return NewWith(enabled, nil)
}

// NewWith registers on a specific registerer; a nil registerer falls
// back to the default one.
func NewWith(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m.requestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "clerk_auth_requests_total",
		Help: "Authentication decisions by status and token type",
	}, []string{"status", "token_type"})

	m.handshakesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "clerk_auth_handshakes_total",
		Help: "Handshake redirects issued, by reason",
	}, []string{"reason"})

	m.refreshesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "clerk_auth_token_refreshes_total",
		Help: "Session token refresh attempts by result",
	}, []string{"result"})

	m.jwksCacheHitsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "clerk_jwks_cache_hits_total",
		Help: "JWKS cache hits",
	})

	m.jwksCacheMissesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "clerk_jwks_cache_misses_total",
		Help: "JWKS cache misses",
	})

	return m
}

// RecordDecision records a terminal authentication outcome.
func (m *Metrics) RecordDecision(status, tokenType string) {
	if !m.enabled {
		return
	}
	m.requestsTotal.WithLabelValues(status, tokenType).Inc()
}

// RecordHandshake records a handshake redirect.
func (m *Metrics) RecordHandshake(reason string) {
	if !m.enabled {
		return
	}
	m.handshakesTotal.WithLabelValues(reason).Inc()
}

// RecordRefresh records a session token refresh attempt.
func (m *Metrics) RecordRefresh(result string) {
	if !m.enabled {
		return
	}
	m.refreshesTotal.WithLabelValues(result).Inc()
}

// JWKSCacheHit implements jwks.CacheObserver.
func (m *Metrics) JWKSCacheHit() {
	if !m.enabled {
		return
	}
	m.jwksCacheHitsTotal.Inc()
}

// JWKSCacheMiss implements jwks.CacheObserver.
func (m *Metrics) JWKSCacheMiss() {
	if !m.enabled {
		return
	}
	m.jwksCacheMissesTotal.Inc()
}
