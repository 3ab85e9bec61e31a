package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geotemporal/internal/core/health"
	middleware "github.com/mohammed-shakir/geotemporal/internal/core/middleware"
	"github.com/mohammed-shakir/geotemporal/internal/core/router"
)

type Deps struct {
	Query router.QueryService
	// Metrics serves the Prometheus registry at MetricsPath.
	Metrics     http.Handler
	MetricsPath string
	// HTTP, if set, records every request.
	HTTP      middleware.HTTPObserver
	Readiness http.HandlerFunc
}

// NewHandler builds the query API router.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	if d.HTTP != nil {
		r.Use(middleware.Metrics(d.HTTP))
	}
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if d.Readiness != nil {
		r.Get("/readyz", d.Readiness)
	} else {
		r.Get("/readyz", health.Readiness(0, nil))
	}
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, d.Metrics)
	}
	router.Mount(r, d.Query, logger)
	return r
}

// Run serves h on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
