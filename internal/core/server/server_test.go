package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/geotemporal/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal/internal/metrics"
	"github.com/mohammed-shakir/geotemporal/internal/query"
	"github.com/mohammed-shakir/geotemporal/internal/store/memstore"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewHandler_Routes(t *testing.T) {
	p := metrics.Init(metrics.Config{Enabled: true})
	m := observability.New(p.Registerer())
	h := NewHandler(discard(), Deps{
		Query:   query.New(memstore.New(), query.WithObserver(m)),
		Metrics: p.Handler(),
		HTTP:    m,
	})

	for path, want := range map[string]int{
		"/healthz":                       http.StatusOK,
		"/readyz":                        http.StatusOK,
		"/v1/features/bbox?bbox=0,0,1,1": http.StatusOK,
		"/v1/features/bbox":              http.StatusBadRequest,
		"/nope":                          http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s: status=%d want %d", path, rr.Code, want)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, name := range []string{"app_build_info", "http_requests_total", "query_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output lacks %s", name)
		}
	}
	if n, err := testutil.GatherAndCount(p.Gatherer(), "http_requests_total"); err != nil || n == 0 {
		t.Fatalf("http_requests_total series=%d err=%v", n, err)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	h := NewHandler(discard(), Deps{Query: query.New(memstore.New())})
	go func() { done <- Run(ctx, addr, discard(), h) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
