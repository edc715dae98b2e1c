// Package metrics exposes Prometheus instruments for the intake pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

const namespace = "vat_intake"

// PipelineMetrics records document outcomes, external calls and HTTP traffic
type PipelineMetrics struct {
	registry *prometheus.Registry

	processTotal     *prometheus.CounterVec
	processDuration  *prometheus.HistogramVec
	processInFlight  prometheus.Gauge
	duplicatesTotal  prometheus.Counter
	complianceTotal  *prometheus.CounterVec
	confidence       *prometheus.HistogramVec
	externalTotal    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewPipelineMetrics creates the instruments on a private registry
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	m := &PipelineMetrics{
		registry: registry,
		processTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "documents_processed_total",
				Help:      "Processed documents by extraction strategy and review decision.",
			},
			[]string{"strategy", "review"},
		),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "process_duration_seconds",
				Help:      "Document processing duration in seconds by status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		processInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "documents_in_flight",
				Help:      "Number of documents being processed.",
			},
		),
		duplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "duplicates_flagged_total",
				Help:      "Documents flagged as duplicates of an earlier upload.",
			},
		),
		complianceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "compliance",
				Name:      "reports_total",
				Help:      "Compliance reports by level.",
			},
			[]string{"level"},
		),
		confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "extraction",
				Name:      "confidence",
				Help:      "Aggregated extraction confidence by strategy.",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 0.95},
			},
			[]string{"strategy"},
		),
		externalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "calls_total",
				Help:      "External extraction calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		externalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "external",
				Name:      "call_duration_seconds",
				Help:      "External extraction call duration in seconds.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.processTotal, m.processDuration, m.processInFlight, m.duplicatesTotal,
		m.complianceTotal, m.confidence, m.externalTotal, m.externalDuration,
		m.requestTotal, m.requestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartDocument marks a document as in flight
func (m *PipelineMetrics) StartDocument() {
	m.processInFlight.Inc()
}

// FinishDocument records the outcome of one document. result is nil on error.
func (m *PipelineMetrics) FinishDocument(result *entity.ProcessingResult, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.processDuration.WithLabelValues(status).Observe(duration.Seconds())
	if result == nil {
		return
	}

	review := result.Review.Decision
	if review == "" {
		review = "none"
	}
	m.processTotal.WithLabelValues(result.Extraction.StrategyUsed, review).Inc()
	m.complianceTotal.WithLabelValues(string(result.Compliance.ComplianceLevel)).Inc()
	m.confidence.WithLabelValues(result.Extraction.StrategyUsed).Observe(result.Extraction.Confidence)
	if result.Duplicate.IsDuplicate {
		m.duplicatesTotal.Inc()
	}
}

// ObserveExternalCall records one guarded external extraction call
func (m *PipelineMetrics) ObserveExternalCall(provider, outcome string, elapsed time.Duration) {
	m.externalTotal.WithLabelValues(provider, outcome).Inc()
	m.externalDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveHTTPRequest records one served request
func (m *PipelineMetrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
