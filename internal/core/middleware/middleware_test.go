package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type httpObs struct {
	route  string
	status int
}

func (o *httpObs) ObserveHTTP(_, route string, status int, _ float64) {
	o.route, o.status = route, status
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	obs := &httpObs{}
	r := chi.NewRouter()
	r.Use(Metrics(obs))
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/items/42", nil))
	if obs.route != "/v1/items/{id}" || obs.status != http.StatusTeapot {
		t.Fatalf("observed route=%q status=%d", obs.route, obs.status)
	}
}

func TestLogging_SetsRequestID(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc" {
		t.Fatalf("request id=%q want abc", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRecover_Returns500(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(l)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
}
