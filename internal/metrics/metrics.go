// Package metrics provides Prometheus metrics for hostbot.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostbot"

// Metrics holds all collectors. A nil *Metrics is not valid; callers that
// run without metrics keep a nil pointer and skip recording.
type Metrics struct {
	registry *prometheus.Registry

	// Provisioning
	ProvisionAttempts  prometheus.Counter
	ProvisionOutcomes  *prometheus.CounterVec
	ProvisionDuration  prometheus.Histogram
	ProvisionOrphans   prometheus.Counter
	ProvisionInFlight  prometheus.Gauge
	GateRejections     *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter
	PanelRequestTiming *prometheus.HistogramVec

	// Reconciler
	ReconcileOrphans     prometheus.Gauge
	ReconcileMissing     prometheus.Gauge
	ReconcileLastRunTime prometheus.Gauge
	ReconcileRuns        *prometheus.CounterVec

	// HTTP API
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProvisionAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "attempts_total",
			Help:      "Credential generation attempts made by the provisioning retry loop.",
		}),
		ProvisionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "outcomes_total",
			Help:      "Provisioning runs by outcome code (ok on success).",
		}, []string{"code"}),
		ProvisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "duration_seconds",
			Help:      "Wall time of a provisioning run.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		ProvisionOrphans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "orphans_total",
			Help:      "Remote servers created without a local record.",
		}),
		ProvisionInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "in_flight",
			Help:      "Provisioning runs currently executing.",
		}),
		GateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eligibility",
			Name:      "rejections_total",
			Help:      "Provisioning requests refused by the eligibility gate, by reason.",
		}, []string{"reason"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the anti-spam limiter.",
		}),
		PanelRequestTiming: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "panel",
			Name:      "request_duration_seconds",
			Help:      "Hosting panel API call latency by operation and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		ReconcileOrphans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "orphan_servers",
			Help:      "Remote servers without a local record found by the last run.",
		}),
		ReconcileMissing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "missing_servers",
			Help:      "Local accounts whose remote server was missing in the last run.",
		}),
		ReconcileLastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed reconciliation.",
		}),
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status.",
		}, []string{"route", "status"}),
	}
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordProvision records the outcome of one provisioning run.
func (m *Metrics) RecordProvision(code string, seconds float64, attempts int) {
	if code == "" {
		code = "ok"
	}
	m.ProvisionOutcomes.WithLabelValues(code).Inc()
	m.ProvisionDuration.Observe(seconds)
	m.ProvisionAttempts.Add(float64(attempts))
}

// RecordPanelRequest records the latency of one panel API call.
// A status of 0 means the request failed before a response arrived.
func (m *Metrics) RecordPanelRequest(operation string, status int, seconds float64) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.PanelRequestTiming.WithLabelValues(operation, label).Observe(seconds)
}

// RecordReconcile records the outcome of one reconciliation run.
func (m *Metrics) RecordReconcile(orphans, missing int, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.ReconcileRuns.WithLabelValues(result).Inc()
	m.ReconcileOrphans.Set(float64(orphans))
	m.ReconcileMissing.Set(float64(missing))
	m.ReconcileLastRunTime.SetToCurrentTime()
}
