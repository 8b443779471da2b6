// Package metrics provides Prometheus metrics collection for formkeeper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for formkeeper.
// All recording methods are safe to call on a nil *Collector.
type Collector struct {
	// Validation metrics
	ValidationsTotal     *prometheus.CounterVec
	ValidationDuration   *prometheus.HistogramVec
	ValidationsDiscarded *prometheus.CounterVec

	// Submission metrics
	SubmitsTotal *prometheus.CounterVec

	// Expression metrics
	ExpressionErrors *prometheus.CounterVec

	// Form metrics
	ActiveForms prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Schema metrics
	SchemaReloads      prometheus.Counter
	SchemaReloadErrors prometheus.Counter
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		ValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "validations_total",
				Help:      "Total number of validations by scope and result",
			},
			[]string{"scope", "result"},
		),
		ValidationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "formkeeper",
				Name:      "validation_duration_seconds",
				Help:      "Validation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"scope"},
		),
		ValidationsDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "validations_discarded_total",
				Help:      "Validation results discarded because a newer validation was issued",
			},
			[]string{"scope"},
		),
		SubmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "submits_total",
				Help:      "Total number of form submissions by result",
			},
			[]string{"result"},
		),
		ExpressionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "expression_errors_total",
				Help:      "Expression compile and evaluation errors",
			},
			[]string{"stage"},
		),
		ActiveForms: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "formkeeper",
				Name:      "active_forms",
				Help:      "Number of live form controllers",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "formkeeper",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		SchemaReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "schema_reloads_total",
				Help:      "Total number of schema registry reloads",
			},
		),
		SchemaReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "formkeeper",
				Name:      "schema_reload_errors_total",
				Help:      "Total number of failed schema registry reloads",
			},
		),
	}
}

// RecordValidation records a completed validation.
func (c *Collector) RecordValidation(scope string, valid bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.ValidationsTotal.WithLabelValues(scope, result).Inc()
	c.ValidationDuration.WithLabelValues(scope).Observe(d.Seconds())
}

// RecordValidationError records a validator that returned an error.
func (c *Collector) RecordValidationError(scope string) {
	if c == nil {
		return
	}
	c.ValidationsTotal.WithLabelValues(scope, "error").Inc()
}

// RecordDiscarded records a stale validation result that was dropped.
func (c *Collector) RecordDiscarded(scope string) {
	if c == nil {
		return
	}
	c.ValidationsDiscarded.WithLabelValues(scope).Inc()
}

// RecordSubmit records a submission outcome: success, error or invalid.
func (c *Collector) RecordSubmit(result string) {
	if c == nil {
		return
	}
	c.SubmitsTotal.WithLabelValues(result).Inc()
}

// RecordExpressionError records a failed compile or run.
func (c *Collector) RecordExpressionError(stage string) {
	if c == nil {
		return
	}
	c.ExpressionErrors.WithLabelValues(stage).Inc()
}

// FormOpened increments the active form gauge.
func (c *Collector) FormOpened() {
	if c == nil {
		return
	}
	c.ActiveForms.Inc()
}

// FormClosed decrements the active form gauge.
func (c *Collector) FormClosed() {
	if c == nil {
		return
	}
	c.ActiveForms.Dec()
}

// RecordRequest records a handled HTTP request.
func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordSchemaReload records a registry reload attempt.
func (c *Collector) RecordSchemaReload(err error) {
	if c == nil {
		return
	}
	c.SchemaReloads.Inc()
	if err != nil {
		c.SchemaReloadErrors.Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
