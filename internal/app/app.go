// Package app wires configuration into the store, cache and change-event
// components shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/geotemporal/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotemporal/internal/cache/resultcache"
	"github.com/mohammed-shakir/geotemporal/internal/changes"
	"github.com/mohammed-shakir/geotemporal/internal/core/config"
	"github.com/mohammed-shakir/geotemporal/internal/core/health"
	"github.com/mohammed-shakir/geotemporal/internal/core/observability"
	"github.com/mohammed-shakir/geotemporal/internal/hotness"
	"github.com/mohammed-shakir/geotemporal/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/invalidation"
	h3mapper "github.com/mohammed-shakir/geotemporal/internal/mapper/h3"
	"github.com/mohammed-shakir/geotemporal/internal/store"
	"github.com/mohammed-shakir/geotemporal/internal/store/memstore"
	"github.com/mohammed-shakir/geotemporal/internal/store/postgis"
	"github.com/mohammed-shakir/geotemporal/internal/store/redisgeo"
	kinv "github.com/mohammed-shakir/geotemporal/pkg/invalidation/kafka"
)

const (
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	StorePostGIS = "postgis"
)

var ErrUnknownStore = errors.New("unknown store driver")

// Backends holds the opened store and, when configured, the Redis client
// and query result cache.
type Backends struct {
	Store  store.Store
	Redis  *redisstore.Client
	Cache  *resultcache.Cache
	Checks []health.Check

	// Admission is nil when every query result is cached.
	Admission *hotness.Admission

	closers []func() error
}

// RedisOptions maps the REDIS_* settings onto client options. Zero values
// are skipped.
func RedisOptions(cfg config.Config) []redisstore.Option {
	var opts []redisstore.Option
	if cfg.RedisDB > 0 {
		opts = append(opts, redisstore.WithDB(cfg.RedisDB))
	}
	if cfg.RedisPoolSize > 0 {
		opts = append(opts, redisstore.WithPoolSize(cfg.RedisPoolSize))
	}
	if cfg.RedisMinIdleConns > 0 {
		opts = append(opts, redisstore.WithMinIdleConns(cfg.RedisMinIdleConns))
	}
	if cfg.RedisDialTimeout > 0 {
		opts = append(opts, redisstore.WithDialTimeout(cfg.RedisDialTimeout))
	}
	if cfg.RedisReadTimeout > 0 {
		opts = append(opts, redisstore.WithReadTimeout(cfg.RedisReadTimeout))
	}
	if cfg.RedisWriteTimeout > 0 {
		opts = append(opts, redisstore.WithWriteTimeout(cfg.RedisWriteTimeout))
	}
	return opts
}

// Open connects the configured store. The result cache needs Redis; when
// Redis is unreachable and the store does not depend on it, queries run
// uncached.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer, m *observability.Metrics) (*Backends, error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Backends{}

	connectRedis := func() error {
		if b.Redis != nil {
			return nil
		}
		cli, err := redisstore.New(ctx, cfg.RedisAddr, append(RedisOptions(cfg), redisstore.WithRegisterer(reg))...)
		if err != nil {
			return err
		}
		b.Redis = cli
		b.closers = append(b.closers, cli.Close)
		b.Checks = append(b.Checks, health.Check{Name: "redis", Fn: cli.Ping})
		return nil
	}

	var st store.Store
	switch cfg.StoreDriver {
	case StoreMemory, "":
		st = memstore.New()
	case StoreRedis:
		if err := connectRedis(); err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		st = redisgeo.New(b.Redis, h3mapper.New(), redisgeo.Config{Res: cfg.H3Res}, log)
	case StorePostGIS:
		pg, err := postgis.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgis store: %w", err)
		}
		b.closers = append(b.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("postgis schema: %w", err)
		}
		b.Checks = append(b.Checks, health.Check{Name: "postgres", Fn: pg.Ping})
		st = pg
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStore, cfg.StoreDriver)
	}
	if m != nil {
		st = store.Instrument(st, cfg.StoreDriver, m)
	}
	b.Store = st

	if cfg.QueryCacheEnabled {
		if err := connectRedis(); err != nil {
			log.WarnContext(ctx, "query cache disabled: redis unreachable", "addr", cfg.RedisAddr, "err", err)
		} else {
			b.Cache = resultcache.New(b.Redis,
				resultcache.WithTTL(cfg.QueryCacheTTL),
				resultcache.WithMemoSize(cfg.QueryCacheMemo),
				resultcache.WithOpTimeout(cfg.CacheOpTimeout),
				resultcache.WithLogger(log),
			)
			b.Admission = hotness.NewAdmission(
				expdecay.New(cfg.HotnessHalfLife, expdecay.WithMaxKeys(cfg.HotnessMaxKeys)),
				cfg.QueryCacheMinHits,
			)
		}
	}
	return b, nil
}

// Notifier returns the change notifier the importer reports to, or nil
// when change events are off. The returned close func flushes it.
func (b *Backends) Notifier(cfg config.Config, log *slog.Logger) (ingest.ChangeNotifier, func() error, error) {
	nop := func() error { return nil }
	if !cfg.ChangeEvents.Enabled {
		return nil, nop, nil
	}
	switch kinv.Driver(cfg.ChangeEvents.Driver) {
	case kinv.DriverKafka:
		p, err := changes.NewPublisher(kinv.Split(cfg.ChangeEvents.Brokers), cfg.ChangeEvents.Topic, 1024, log)
		if err != nil {
			return nil, nop, err
		}
		return p, p.Close, nil
	case kinv.DriverDirect:
		if b.Cache == nil {
			return nil, nop, nil
		}
		return invalidation.NewDirect(b.Cache), nop, nil
	}
	return nil, nop, nil
}

// Runner builds the change event consumer for the query server. It is a
// no-op unless the kafka driver is enabled and a cache is open.
func (b *Backends) Runner(cfg config.Config, log *slog.Logger, reg prometheus.Registerer) *kinv.Runner {
	ce := cfg.ChangeEvents
	enabled := ce.Enabled && b.Cache != nil
	var bumper invalidation.Bumper
	if b.Cache != nil {
		bumper = b.Cache
	}
	return kinv.New(kinv.NewConfig(enabled, ce.Driver, ce.Brokers, ce.Topic, ce.GroupID), bumper,
		kinv.Options{Logger: log, Register: reg})
}

func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
