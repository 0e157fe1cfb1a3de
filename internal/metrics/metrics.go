// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	PolicyDecisions *prometheus.CounterVec
	BodyRewrites    *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_policy_decisions_total",
			Help: "Policy decisions by outcome, status code and device class.",
		}, []string{"outcome", "status_code", "device"}),

		BodyRewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_body_rewrites_total",
			Help: "HTML body rewrite attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.PolicyDecisions,
		m.BodyRewrites,
	)

	return m
}

// Body rewrite result labels.
const (
	RewriteApplied         = "rewritten"
	RewriteSkippedEncoding = "skipped_encoding"
	RewriteFailed          = "failed"
)

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// ownRoutes lists the GET routes the proxy answers itself. Every other
// request is mirrored.
var ownRoutes = []string{"/", "/healthz", "/proxy/status"}

// NormalizeRoute returns a bounded path label for Prometheus metrics. Only an
// exact GET match on one of the proxy's own routes or on scrapePath keeps its
// path; everything else, including other methods on those paths, is "mirror".
func NormalizeRoute(method, path, scrapePath string) string {
	if method != http.MethodGet {
		return "mirror"
	}
	if scrapePath != "" && path == scrapePath {
		return scrapePath
	}
	for _, route := range ownRoutes {
		if path == route {
			return route
		}
	}
	return "mirror"
}
