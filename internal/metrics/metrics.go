// Package metrics provides Prometheus metrics for the dispatcher and its backends.
package metrics

import (
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP/JSON backend (recorded by echo middleware).
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Dispatcher, one series per backend kind.
	InFlight         *prometheus.GaugeVec
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// gRPC backend (recorded by the unary interceptor).
	RPCHandled  *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	pathPrefixes []string
}

// Option customizes a Metrics instance.
type Option func(*Metrics)

// WithScrapePath sets the path the metrics endpoint is served on so it gets
// its own path label. Empty leaves the default in place.
func WithScrapePath(path string) Option {
	return func(m *Metrics) {
		if path != "" {
			m.pathPrefixes[len(m.pathPrefixes)-1] = path
		}
	}
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New(opts ...Option) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_echo_http_requests_total",
			Help: "Total requests handled by the HTTP/JSON backend.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hybrid_echo_http_request_duration_seconds",
			Help:    "HTTP/JSON backend request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybrid_echo_requests_in_flight",
			Help: "Requests currently being processed, by backend.",
		}, []string{"backend"}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_echo_dispatch_total",
			Help: "Total dispatched requests by backend and outcome.",
		}, []string{"backend", "outcome"}),

		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hybrid_echo_dispatch_duration_seconds",
			Help:    "Time from classification to the end of the response, by backend.",
			Buckets: defaultBuckets,
		}, []string{"backend"}),

		RPCHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_echo_grpc_handled_total",
			Help: "Total unary RPCs completed by method and status code.",
		}, []string{"method", "code"}),

		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hybrid_echo_grpc_handling_seconds",
			Help:    "Unary RPC handling latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		pathPrefixes: append(slices.Clone(routePrefixes), DefaultScrapePath),
	}
	for _, opt := range opts {
		opt(m)
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.InFlight,
		m.DispatchTotal,
		m.DispatchDuration,
		m.RPCHandled,
		m.RPCDuration,
	)

	return m
}

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

// DefaultScrapePath is the metrics endpoint path used when none is configured.
const DefaultScrapePath = "/metrics"

// routePrefixes lists the fixed path label values (bounded cardinality).
var routePrefixes = []string{"/echo", "/healthz", "/status"}

// PathLabel returns a bounded path label for Prometheus metrics. The
// configured scrape path is one of the known values.
func (m *Metrics) PathLabel(path string) string {
	for _, prefix := range m.pathPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

// knownServices lists the gRPC services whose method names are used verbatim.
var knownServices = []string{"/examples.Echo/", "/grpc.health.v1.Health/"}

// NormalizeRPCMethod returns a bounded full-method label for Prometheus metrics.
func NormalizeRPCMethod(fullMethod string) string {
	for _, svc := range knownServices {
		if strings.HasPrefix(fullMethod, svc) {
			return fullMethod
		}
	}
	return "other"
}
