package store

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
)

// Observer receives one call per store operation.
type Observer interface {
	ObserveStoreOp(backend, op string, err error, seconds float64)
}

type instrumented struct {
	next    Store
	backend string
	obs     Observer
}

// Instrument reports the latency and outcome of every call on s to obs.
func Instrument(s Store, backend string, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &instrumented{next: s, backend: backend, obs: obs}
}

func (i *instrumented) done(op string, start time.Time, err error) {
	i.obs.ObserveStoreOp(i.backend, op, err, time.Since(start).Seconds())
}

func (i *instrumented) Create(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	start := time.Now()
	out, err := i.next.Create(ctx, f)
	i.done("create", start, err)
	return out, err
}

func (i *instrumented) Get(ctx context.Context, id string) (*feature.Feature, error) {
	start := time.Now()
	out, err := i.next.Get(ctx, id)
	i.done("get", start, err)
	return out, err
}

func (i *instrumented) FindInBbox(ctx context.Context, b orb.Bound, f Filters) ([]*feature.Feature, error) {
	start := time.Now()
	out, err := i.next.FindInBbox(ctx, b, f)
	i.done("find_bbox", start, err)
	return out, err
}

func (i *instrumented) FindNearPoint(ctx context.Context, p orb.Point, meters float64, f Filters) ([]*feature.Feature, error) {
	start := time.Now()
	out, err := i.next.FindNearPoint(ctx, p, meters, f)
	i.done("find_near", start, err)
	return out, err
}

func (i *instrumented) FindInPolygon(ctx context.Context, poly orb.Polygon, f Filters) ([]*feature.Feature, error) {
	start := time.Now()
	out, err := i.next.FindInPolygon(ctx, poly, f)
	i.done("find_polygon", start, err)
	return out, err
}

func (i *instrumented) Count(ctx context.Context, f Filters) (int, error) {
	start := time.Now()
	n, err := i.next.Count(ctx, f)
	i.done("count", start, err)
	return n, err
}
