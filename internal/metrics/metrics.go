// Package metrics exposes prometheus instruments for ratedesk.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ratedesk"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	ConfigSaves      *prometheus.CounterVec
	RangeEvaluations *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates and registers every instrument.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConfigSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_saves_total",
			Help:      "Coordinated configuration saves by domain, operation and outcome.",
		}, []string{"domain", "operation", "outcome"}),
		RangeEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "range_evaluations_total",
			Help:      "Range table evaluations by domain and whether a band matched.",
		}, []string{"domain", "matched"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_resolutions_total",
			Help:      "Draft field resolutions by encoding and whether a canonical id was found.",
		}, []string{"encoding", "resolved"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.ConfigSaves,
		m.RangeEvaluations,
		m.Resolutions,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSave counts one coordinated save. A nil receiver is a no-op.
func (m *Metrics) ObserveSave(domain, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ConfigSaves.WithLabelValues(domain, operation, outcome).Inc()
}

// ObserveEvaluation counts one range table lookup.
func (m *Metrics) ObserveEvaluation(domain string, matched bool) {
	if m == nil {
		return
	}
	m.RangeEvaluations.WithLabelValues(domain, strconv.FormatBool(matched)).Inc()
}

// ObserveResolution counts one identity resolution.
func (m *Metrics) ObserveResolution(encoding string, resolved bool) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(encoding, strconv.FormatBool(resolved)).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
