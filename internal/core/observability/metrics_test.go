package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RegisterAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOutbound("events", "ok", 0.01)
	m.ObserveOutbound("events", "status_5xx", 0.02)
	m.ObserveBatchItem("succeeded")
	m.ObserveBatchItem("failed")
	m.ObserveBatchItem("failed")
	m.ObserveStoreOp("redis", "create", errors.New("x"), 0.001)
	m.ObserveHTTP("GET", "/v1/grid", 200, 0.003)
	m.ObserveCache("hit")
	m.ObserveImport("climate", nil)

	if got := testutil.ToFloat64(m.batchItems.WithLabelValues("failed")); got != 2 {
		t.Fatalf("batch failed=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.outboundTotal.WithLabelValues("events", "status_5xx")); got != 1 {
		t.Fatalf("outbound 5xx=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.storeOps.WithLabelValues("redis", "create", "error")); got != 1 {
		t.Fatalf("store error=%v want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "http_requests_total", "cache_results_total", "imports_total"); err != nil || n != 3 {
		t.Fatalf("gathered=%d err=%v", n, err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOutbound("x", "ok", 1)
	m.ObserveQuery("bbox", 3, 0.1)
	m.ObserveValidation(false)
}

func TestMetrics_UnregisteredWhenNilRegisterer(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.ObserveCache("miss")
	b.ObserveCache("miss")
}
