// Package observability provides Prometheus metrics for the aggregator,
// the payment gate and the HTTP layer.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "token_data_aggregator"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Source adapter metrics
	SourceFetchDuration *prometheus.HistogramVec
	SourceFetchTotal    *prometheus.CounterVec

	// Aggregation metrics
	AggregationsTotal   prometheus.Counter
	AggregationDuration prometheus.Histogram
	SourcesSucceeded    prometheus.Histogram

	// Payment metrics
	GateDecisions  *prometheus.CounterVec
	ReplayStoreLen prometheus.GaugeFunc

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	reg      prometheus.Registerer
	ns       string
}

// NewMetrics registers every metric on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		SourceFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Source adapter fetch latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"source"}),
		SourceFetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_total",
			Help:      "Source adapter fetches by outcome",
		}, []string{"source", "outcome"}),

		AggregationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "aggregations_total",
			Help:      "Total number of completed aggregations",
		}),
		AggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "duration_seconds",
			Help:      "End-to-end aggregation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SourcesSucceeded: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "sources_succeeded",
			Help:      "Number of available sources per aggregation",
			Buckets:   []float64{0, 1, 2, 3, 4},
		}),

		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "gate_decisions_total",
			Help:      "Payment gate decisions by outcome",
		}, []string{"outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		gatherer: reg,
		reg:      reg,
		ns:       namespace,
	}
}

// RecordSourceFetch records one adapter call.
func (m *Metrics) RecordSourceFetch(source string, available bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "unavailable"
	if available {
		outcome = "available"
	}
	m.SourceFetchDuration.WithLabelValues(source).Observe(d.Seconds())
	m.SourceFetchTotal.WithLabelValues(source, outcome).Inc()
}

// RecordAggregation records one finished aggregation.
func (m *Metrics) RecordAggregation(succeeded int, d time.Duration) {
	if m == nil {
		return
	}
	m.AggregationsTotal.Inc()
	m.AggregationDuration.Observe(d.Seconds())
	m.SourcesSucceeded.Observe(float64(succeeded))
}

// RecordGateDecision counts a payment gate outcome.
func (m *Metrics) RecordGateDecision(outcome string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackReplayStore exposes the replay store size as a gauge. It may be called
// once per Metrics.
func (m *Metrics) TrackReplayStore(size func() int) {
	if m == nil || m.ReplayStoreLen != nil {
		return
	}
	m.ReplayStoreLen = promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.ns,
		Subsystem: "payment",
		Name:      "replay_store_entries",
		Help:      "Payment references currently held in the replay window",
	}, func() float64 { return float64(size()) })
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
