// Package metrics exposes Prometheus collectors for document generation,
// workflow dispatch and admin actions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

const (
	MetricDocumentGenerations    = "docflow_document_generations_total"
	MetricDocumentGenerationTime = "docflow_document_generation_duration_seconds"
	MetricWorkflowDispatches     = "docflow_workflow_dispatches_total"
	MetricTriggerTransitions     = "docflow_trigger_transitions_total"
	MetricAdminActions           = "docflow_admin_actions_total"
	MetricAuditWriteFailures     = "docflow_audit_write_failures_total"
	MetricActivePollers          = "docflow_active_pollers"
	MetricHTTPRequestsTotal      = "docflow_http_requests_total"
	MetricHTTPRequestDuration    = "docflow_http_request_duration_seconds"
)

// Metrics implements port.Metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	dispatches         *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	adminActions       *prometheus.CounterVec
	auditFailures      prometheus.Counter
	activePollers      prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDocumentGenerations,
				Help: "Document generations by type and outcome (success or failed stage)",
			},
			[]string{"document_type", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricDocumentGenerationTime,
				Help:    "Time from render start to record insert",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"document_type"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWorkflowDispatches,
				Help: "Workflow engine dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTriggerTransitions,
				Help: "Persisted workflow trigger status changes by target status",
			},
			[]string{"status"},
		),
		adminActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAdminActions,
				Help: "Admin actions by action and whether they were suppressed as duplicates",
			},
			[]string{"action", "duplicate"},
		),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditWriteFailures,
			Help: "Audit entries that could not be written after the action was performed",
		}),
		activePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricActivePollers,
			Help: "Triggers currently being polled by this instance",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.generations,
		m.generationDuration,
		m.dispatches,
		m.transitions,
		m.adminActions,
		m.auditFailures,
		m.activePollers,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveGeneration(documentType, outcome string, d time.Duration) {
	m.generations.WithLabelValues(documentType, outcome).Inc()
	if outcome == "success" {
		m.generationDuration.WithLabelValues(documentType).Observe(d.Seconds())
	}
}

func (m *Metrics) IncDispatch(outcome string) {
	m.dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTriggerTransition(toStatus string) {
	m.transitions.WithLabelValues(toStatus).Inc()
}

func (m *Metrics) IncAdminAction(action string, duplicate bool) {
	m.adminActions.WithLabelValues(action, strconv.FormatBool(duplicate)).Inc()
}

func (m *Metrics) IncAuditWriteFailure() {
	m.auditFailures.Inc()
}

func (m *Metrics) SetActivePollers(n int) {
	m.activePollers.Set(float64(n))
}

// ObserveHTTPRequest records one served request. path should be the route
// template, not the raw URL.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

var _ port.Metrics = (*Metrics)(nil)
