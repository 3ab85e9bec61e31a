// Package observability holds the service-wide Prometheus collectors. A
// Metrics value is built against a Registerer and handed to the components
// that report through it; a nil *Metrics is a valid no-op.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	outboundTotal   *prometheus.CounterVec
	outboundLatency *prometheus.HistogramVec
	batchItems      *prometheus.CounterVec
	validations     *prometheus.CounterVec
	queryLatency    *prometheus.HistogramVec
	queryResults    *prometheus.HistogramVec
	storeOps        *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	cacheResults    *prometheus.CounterVec
	imports         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_requests_total",
			Help: "Outbound source requests by client and outcome.",
		}, []string{"client", "outcome"}),
		outboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbound_request_duration_seconds",
			Help:    "Duration of outbound request attempts.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		}, []string{"client"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_items_total",
			Help: "Items processed by batch runs by outcome.",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geometry_validations_total",
			Help: "Geometry validation results.",
		}, []string{"result"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "Spatial-temporal query duration by kind.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		queryResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_results",
			Help:    "Number of features or cells returned per query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"kind"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Store operations by backend, op and result.",
		}, []string{"backend", "op", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"backend", "op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route", "status"}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Query cache results by outcome.",
		}, []string{"outcome"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imports_total",
			Help: "Import runs by source and result.",
		}, []string{"source", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.outboundTotal, m.outboundLatency,
			m.batchItems, m.validations,
			m.queryLatency, m.queryResults,
			m.storeOps, m.storeLatency,
			m.httpRequests, m.httpDuration,
			m.cacheResults, m.imports,
		)
	}
	return m
}

func (m *Metrics) ObserveOutbound(client, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(client, outcome).Inc()
	m.outboundLatency.WithLabelValues(client).Observe(seconds)
}

func (m *Metrics) ObserveBatchItem(outcome string) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveValidation(valid bool) {
	if m == nil {
		return
	}
	r := "invalid"
	if valid {
		r = "valid"
	}
	m.validations.WithLabelValues(r).Inc()
}

func (m *Metrics) ObserveQuery(kind string, results int, seconds float64) {
	if m == nil {
		return
	}
	m.queryLatency.WithLabelValues(kind).Observe(seconds)
	m.queryResults.WithLabelValues(kind).Observe(float64(results))
}

func (m *Metrics) ObserveStoreOp(backend, op string, err error, seconds float64) {
	if m == nil {
		return
	}
	r := "ok"
	if err != nil {
		r = "error"
	}
	m.storeOps.WithLabelValues(backend, op, r).Inc()
	m.storeLatency.WithLabelValues(backend, op).Observe(seconds)
}

func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	st := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, st).Inc()
	m.httpDuration.WithLabelValues(method, route, st).Observe(seconds)
}

// ObserveCache records "hit", "miss" or "error".
func (m *Metrics) ObserveCache(outcome string) {
	if m == nil {
		return
	}
	m.cacheResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveImport(source string, err error) {
	if m == nil {
		return
	}
	r := "ok"
	if err != nil {
		r = "error"
	}
	m.imports.WithLabelValues(source, r).Inc()
}
