// Package telemetry exposes Prometheus metrics for ingest runs and the
// lookup service.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "include_ingest"

// Metrics holds every collector on a private registry.
type Metrics struct {
	RowsRead             *prometheus.CounterVec
	RowsSkipped          *prometheus.CounterVec
	RowsEmitted          *prometheus.CounterVec
	CodesRegistered      *prometheus.CounterVec
	RegistrationFailures *prometheus.CounterVec
	UnmatchedLabels      prometheus.Counter
	StudyRuns            *prometheus.CounterVec
	StudyDuration        prometheus.Histogram
	PublishedObjects     prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RowsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_read_total",
		Help:      "Input rows read by table",
	}, []string{"study", "table"})

	m.RowsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_skipped_total",
		Help:      "Input rows skipped as malformed by table",
	}, []string{"study", "table"})

	m.RowsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_emitted_total",
		Help:      "Output rows written by table",
	}, []string{"study", "table"})

	m.CodesRegistered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "codes_registered_total",
		Help:      "Ontology codes registered by system",
	}, []string{"system"})

	m.RegistrationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_registration_failures_total",
		Help:      "Rejected code registrations by system and reason",
	}, []string{"system", "reason"}) // reason: "duplicate", "missing"

	m.UnmatchedLabels = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unmatched_labels_total",
		Help:      "Condition labels without a crosswalk match",
	})

	m.StudyRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "study_runs_total",
		Help:      "Study runs by outcome",
	}, []string{"status"})

	m.StudyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "study_duration_seconds",
		Help:      "Wall time of a study run",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	m.PublishedObjects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "published_objects_total",
		Help:      "Output files uploaded to the blob store",
	})

	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.RowsRead,
		m.RowsSkipped,
		m.RowsEmitted,
		m.CodesRegistered,
		m.RegistrationFailures,
		m.UnmatchedLabels,
		m.StudyRuns,
		m.StudyDuration,
		m.PublishedObjects,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStudy records the outcome and wall time of a study run.
func (m *Metrics) ObserveStudy(status string, started time.Time) {
	m.StudyRuns.WithLabelValues(status).Inc()
	m.StudyDuration.Observe(time.Since(started).Seconds())
}

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler returns an Echo handler that serves metrics in Prometheus
// text exposition format at /metrics.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
