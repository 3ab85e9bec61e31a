// Package ingest pulls records from external sources, normalizes them into
// features and writes them to a store in retrying batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/geotemporal/internal/batch"
	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/logger"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

type Config struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	// FallbackOnNetworkError degrades to fallback records instead of
	// returning the *ratelimit.NetworkError.
	FallbackOnNetworkError bool
}

type Result struct {
	JobID    string             `json:"jobId"`
	Source   string             `json:"source"`
	LayerID  string             `json:"layerId"`
	Features []*feature.Feature `json:"-"`
	Stats    batch.Stats        `json:"stats"`
	Degraded bool               `json:"degraded"`
	Reason   string             `json:"reason,omitempty"`
}

// ChangeNotifier hears about every feature the importer persists.
type ChangeNotifier interface {
	FeatureCreated(ctx context.Context, f *feature.Feature) error
}

// Observer is implemented by observability.Metrics.
type Observer interface {
	batch.Observer
	ValidationObserver
	ObserveImport(source string, err error)
}

type Importer struct {
	src      Source
	fetch    Fetcher
	st       store.Store
	cfg      Config
	pipe     *Pipeline
	notifier ChangeNotifier
	guard    *Guard
	obs      Observer
	log      *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

type Option func(*Importer)

func WithLogger(l *slog.Logger) Option { return func(im *Importer) { im.log = l } }

func WithNotifier(n ChangeNotifier) Option { return func(im *Importer) { im.notifier = n } }

func WithGuard(g *Guard) Option { return func(im *Importer) { im.guard = g } }

func WithObserver(o Observer) Option { return func(im *Importer) { im.obs = o } }

func WithPipeline(p *Pipeline) Option { return func(im *Importer) { im.pipe = p } }

// WithSleep replaces the retry delay, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(im *Importer) { im.sleep = fn }
}

func NewImporter(src Source, fetch Fetcher, st store.Store, cfg Config, opts ...Option) *Importer {
	im := &Importer{
		src:   src,
		fetch: fetch,
		st:    st,
		cfg:   cfg,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(im)
	}
	if im.pipe == nil {
		im.pipe = NewPipeline(PipelineConfig{}, nil, im.log)
	}
	if im.obs != nil {
		im.pipe.WithObserver(im.obs)
	}
	return im
}

func (im *Importer) Source() string { return im.src.Name() }

type job struct {
	idx int
	rec RawRecord
}

func (j job) ItemID() string { return j.rec.Ref }

// Import runs one import. Parameter errors are returned before any network
// call. Per-record failures are reported in Result.Stats, not as an error.
func (im *Importer) Import(ctx context.Context, p Params) (res *Result, err error) {
	name := im.src.Name()
	defer func() {
		if im.obs != nil {
			im.obs.ObserveImport(name, err)
		}
	}()

	if err := p.check(); err != nil {
		return nil, err
	}
	if err := im.src.Validate(p); err != nil {
		var ipe *InvalidParamsError
		if !errors.As(err, &ipe) {
			err = &InvalidParamsError{Reason: err.Error()}
		}
		return nil, err
	}

	if im.guard != nil {
		release, err := im.guard.Acquire(name + "/" + p.LayerID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	res = &Result{JobID: uuid.NewString(), Source: name, LayerID: p.LayerID}
	ctx = logger.WithJob(logger.WithSource(ctx, name), res.JobID)
	im.log.InfoContext(ctx, "import started", "layer", p.LayerID)

	recs, err := im.src.Fetch(ctx, im.fetch, p)
	if err != nil {
		var ne *ratelimit.NetworkError
		switch {
		case errors.Is(err, ErrSourceUnavailable),
			im.cfg.FallbackOnNetworkError && errors.As(err, &ne):
			im.log.WarnContext(ctx, "source unavailable, using fallback records", "err", err)
			res.Degraded = true
			res.Reason = err.Error()
			recs = im.src.Fallback(p)
		default:
			return nil, fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	if p.Limit > 0 && len(recs) > p.Limit {
		recs = recs[:p.Limit]
	}

	jobs := make([]job, len(recs))
	for i, r := range recs {
		jobs[i] = job{idx: i, rec: r}
	}
	created := make([]*feature.Feature, len(recs))

	opts := []batch.Option[job]{batch.WithLogger[job](im.log)}
	if im.obs != nil {
		opts = append(opts, batch.WithObserver[job](im.obs))
	}
	rp := batch.NewRetry(
		batch.Config{BatchSize: im.cfg.BatchSize, Concurrency: im.cfg.Concurrency},
		batch.RetryConfig{MaxRetries: im.cfg.MaxRetries, RetryDelay: im.cfg.RetryDelay},
		opts...,
	)
	if im.sleep != nil {
		rp.WithSleep(im.sleep)
	}

	res.Stats = rp.Process(ctx, jobs, func(ctx context.Context, j job) error {
		f, err := im.prepare(j.rec, p)
		if err != nil {
			return batch.Permanent(err)
		}
		out, err := im.st.Create(ctx, f)
		if err != nil {
			if errors.Is(err, feature.ErrInvalidInterval) || errors.Is(err, feature.ErrMissingGeometry) ||
				errors.Is(err, feature.ErrUnsupportedType) {
				return batch.Permanent(err)
			}
			return err
		}
		created[j.idx] = out
		if im.notifier != nil {
			// the feature is stored; a lost notification must not re-run the item
			if nerr := im.notifier.FeatureCreated(ctx, out); nerr != nil {
				im.log.WarnContext(ctx, "change notification failed", "id", out.ID, "err", nerr)
			}
		}
		return nil
	})

	res.Features = make([]*feature.Feature, 0, res.Stats.Succeeded)
	for _, f := range created {
		if f != nil {
			res.Features = append(res.Features, f)
		}
	}
	im.log.InfoContext(ctx, "import finished",
		"succeeded", res.Stats.Succeeded, "failed", res.Stats.Failed,
		"batches", res.Stats.Batches, "degraded", res.Degraded,
		"duration", res.Stats.Duration())
	return res, nil
}

func (im *Importer) prepare(r RawRecord, p Params) (*feature.Feature, error) {
	f, err := im.src.Convert(r, p)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("convert: %w", feature.ErrMissingGeometry)
	}
	if f.LayerID == "" {
		f.LayerID = p.LayerID
	}
	if err := f.CheckInterval(); err != nil {
		return nil, err
	}
	return im.pipe.Normalize(f, r.CRS, im.src.Name(), r.Ref)
}
