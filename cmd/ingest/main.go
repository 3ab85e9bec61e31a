package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/app"
	"github.com/mohammed-shakir/geotemporal/internal/core/config"
	"github.com/mohammed-shakir/geotemporal/internal/core/httpclient"
	"github.com/mohammed-shakir/geotemporal/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/geometry/crs"
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/ingest/sources"
	"github.com/mohammed-shakir/geotemporal/internal/logger"
	"github.com/mohammed-shakir/geotemporal/internal/metrics"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
)

var Version = "dev"

// exit codes
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitPartial = 3
)

type options struct {
	Source string
	Params ingest.Params
}

// optFlag collects repeated -opt key=value flags.
type optFlag map[string]string

func (o optFlag) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o optFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	o[k] = strings.TrimSpace(v)
	return nil
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	source := fs.String("source", "", "source name ("+strings.Join(sources.Registry().Names(), "|")+")")
	layer := fs.String("layer", "", "target layer id")
	bbox := fs.String("bbox", "", "minLon,minLat,maxLon,maxLat")
	from := fs.String("from", "", "start date YYYY-MM-DD")
	to := fs.String("to", "", "end date YYYY-MM-DD")
	limit := fs.Int("limit", 0, "maximum records, 0 for all")
	endpoint := fs.String("endpoint", "", "override the configured source endpoint")
	opts := optFlag{}
	fs.Var(opts, "opt", "source option key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o := options{
		Source: strings.TrimSpace(*source),
		Params: ingest.Params{
			LayerID:  strings.TrimSpace(*layer),
			Endpoint: strings.TrimSpace(*endpoint),
			Limit:    *limit,
			Options:  opts,
		},
	}
	if o.Source == "" {
		return options{}, errors.New("-source is required")
	}
	if *bbox != "" {
		b, err := parseBound(*bbox)
		if err != nil {
			return options{}, err
		}
		o.Params.Bbox = &b
	}
	for _, d := range []struct {
		flag string
		val  string
		dst  **feature.Date
	}{{"from", *from, &o.Params.From}, {"to", *to, &o.Params.To}} {
		if d.val == "" {
			continue
		}
		v, err := feature.ParseDate(d.val)
		if err != nil {
			return options{}, fmt.Errorf("-%s: %w", d.flag, err)
		}
		*d.dst = &v
	}
	return o, nil
}

func parseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("-bbox: want 4 numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("-bbox: %w", err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()
	o, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintln(stderr, "ingest:", err)
		return exitUsage
	}
	cfg := config.FromEnv()
	if !crs.NewRegistry().IsGeodetic(cfg.TargetCRS) {
		_, _ = fmt.Fprintf(stderr, "ingest: TARGET_CRS %q is not a lon/lat system; stored features must be geodetic\n", cfg.TargetCRS)
		return exitUsage
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "geotemporal",
		Component: "ingest",
	}, stderr)
	log := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version}})
	m := observability.New(p.Registerer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc := cfg.Sources[o.Source]
	src, err := sources.Registry().New(o.Source, ingest.SourceConfig{
		Endpoint: sc.Endpoint,
		APIKey:   sc.APIKey,
		Options:  sc.Options,
	}, log)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "ingest:", err)
		return exitUsage
	}

	client, err := ratelimit.New(ratelimit.Config{
		Name:              o.Source,
		RequestsPerSecond: sc.RequestsPerSecond,
		RequestsPerMinute: sc.RequestsPerMinute,
		RequestsPerHour:   sc.RequestsPerHour,
		MaxRetries:        cfg.HTTPMaxRetries,
		Timeout:           cfg.HTTPTimeout,
		BackoffBase:       cfg.HTTPBackoff,
	}, httpclient.NewOutbound(), ratelimit.WithLogger(log), ratelimit.WithObserver(m))
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "ingest:", err)
		return exitUsage
	}

	b, err := app.Open(ctx, cfg, log, p.Registerer(), m)
	if err != nil {
		log.Error("backend setup failed", "err", err)
		return exitFailed
	}
	defer func() { _ = b.Close() }()

	notifier, closeNotifier, err := b.Notifier(cfg, log)
	if err != nil {
		log.Error("change notifier setup failed", "err", err)
		return exitFailed
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			log.Warn("change notifier close", "err", err)
		}
	}()

	pipe := ingest.NewPipeline(ingest.PipelineConfig{
		TargetCRS:   cfg.TargetCRS,
		Tolerance:   cfg.SimplifyTolerance,
		HighQuality: cfg.SimplifyHighQuality,
	}, crs.NewTransformer(nil), log).WithObserver(m)

	imOpts := []ingest.Option{
		ingest.WithLogger(log),
		ingest.WithObserver(m),
		ingest.WithPipeline(pipe),
		ingest.WithGuard(ingest.NewGuard()),
	}
	if notifier != nil {
		imOpts = append(imOpts, ingest.WithNotifier(notifier))
	}
	im := ingest.NewImporter(src, client, b.Store, ingest.Config{
		BatchSize:              cfg.BatchSize,
		Concurrency:            cfg.Concurrency,
		MaxRetries:             cfg.MaxRetries,
		RetryDelay:             cfg.RetryDelay,
		FallbackOnNetworkError: cfg.FallbackOnNetworkError,
	}, imOpts...)

	res, err := im.Import(ctx, o.Params)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidParams) {
			_, _ = fmt.Fprintln(stderr, "ingest:", err)
			return exitUsage
		}
		log.Error("import failed", "source", o.Source, "err", err)
		return exitFailed
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Error("write result", "err", err)
		return exitFailed
	}
	if res.Stats.Failed > 0 {
		return exitPartial
	}
	return exitOK
}
