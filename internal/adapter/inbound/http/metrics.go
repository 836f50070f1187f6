package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the gateway records.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	HookDenialsTotal  *prometheus.CounterVec
	RegistryToolCount prometheus.Gauge
	UpstreamsUp       prometheus.Gauge
	RefreshFailures   prometheus.Counter
}

// NewMetrics creates and registers every metric under the "mcpgateway"
// namespace with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgateway",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled, excluding /metrics, /healthz and /readyz.",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpgateway",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgateway",
				Name:      "tool_calls_total",
				Help:      "Total execute_tool invocations, by domain and outcome.",
			},
			[]string{"domain", "outcome"}, // outcome=ok/upstream_error/denied
		),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpgateway",
				Name:      "tool_call_duration_seconds",
				Help:      "Upstream tool call duration in seconds, by domain.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"domain"},
		),
		HookDenialsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgateway",
				Name:      "hook_denials_total",
				Help:      "Total before_execute denials, by denial code.",
			},
			[]string{"code"},
		),
		RegistryToolCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgateway",
				Name:      "registry_tools",
				Help:      "Current number of tools in the flat registry index.",
			},
		),
		UpstreamsUp: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgateway",
				Name:      "upstreams_up",
				Help:      "Current number of domains with an open discovery connection.",
			},
		),
		RefreshFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgateway",
				Name:      "refresh_failures_total",
				Help:      "Total number of per-domain refresh failures in the background refresh loop.",
			},
		),
	}
}
