package redisstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redis_op_total",
				Help: "Redis operations by op and result.",
			},
			[]string{"op", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redis_operation_duration_seconds",
				Help:    "Latency of Redis operations.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"op"},
		),
	}
	if r != nil {
		r.MustRegister(m.ops, m.latency)
	}
	return m
}

func (m *metricSet) observe(op string, err error, start time.Time) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	m.ops.WithLabelValues(op, res).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
