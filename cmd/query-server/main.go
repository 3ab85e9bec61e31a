package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/geotemporal/internal/app"
	"github.com/mohammed-shakir/geotemporal/internal/core/config"
	"github.com/mohammed-shakir/geotemporal/internal/core/health"
	"github.com/mohammed-shakir/geotemporal/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal/internal/core/server"
	"github.com/mohammed-shakir/geotemporal/internal/logger"
	h3mapper "github.com/mohammed-shakir/geotemporal/internal/mapper/h3"
	"github.com/mohammed-shakir/geotemporal/internal/metrics"
	"github.com/mohammed-shakir/geotemporal/internal/query"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	// a missing .env is fine
	_ = godotenv.Load()
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "geotemporal",
		Component: "query-server",
	}, os.Stdout)
	log := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: true,
		Build:   metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
	})
	m := observability.New(p.Registerer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting query server",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.StoreDriver,
		"cache", cfg.QueryCacheEnabled,
		"change_events", cfg.ChangeEvents.Driver)

	b, err := app.Open(ctx, cfg, log, p.Registerer(), m)
	if err != nil {
		log.Error("backend setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("backend close", "err", err)
		}
	}()

	opts := []query.Option{
		query.WithObserver(m),
		query.WithLogger(log),
		query.WithHexMapper(h3mapper.New()),
		query.WithMaxGridCells(cfg.MaxGridCells),
	}
	if b.Cache != nil {
		opts = append(opts, query.WithCache(b.Cache))
	}
	if b.Admission != nil {
		opts = append(opts, query.WithAdmission(b.Admission))
	}
	engine := query.New(b.Store, opts...)

	runner := b.Runner(cfg, log, p.Registerer())
	if err := runner.Start(ctx); err != nil {
		log.Error("change event runner failed to start", "err", err)
		return 1
	}
	defer runner.Stop()

	var rr health.ReadinessReporter
	if cfg.ChangeEvents.Enabled && cfg.ChangeEvents.Driver == "kafka" && b.Cache != nil {
		rr = runner
	}

	h := server.NewHandler(log, server.Deps{
		Query:       engine,
		Metrics:     p.Handler(),
		MetricsPath: p.Path(),
		HTTP:        m,
		Readiness:   health.Readiness(0, rr, b.Checks...),
	})
	if err := server.Run(ctx, cfg.Addr, log, h); err != nil {
		log.Error("server exited with error", "err", err)
		return 1
	}
	log.Info("server stopped")
	return 0
}
