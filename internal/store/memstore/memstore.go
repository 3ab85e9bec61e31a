// Package memstore keeps features in process memory. It backs tests and the
// single-node development setup.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/spatial"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*feature.Feature
	newID func() string
}

func New() *Store {
	return &Store{
		byID:  make(map[string]*feature.Feature),
		newID: uuid.NewString,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Create(_ context.Context, f *feature.Feature) (*feature.Feature, error) {
	out, err := store.Prepare(f, s.newID())
	if err != nil {
		return nil, store.Wrap("create", err)
	}
	s.mu.Lock()
	s.byID[out.ID] = out
	s.order = append(s.order, out.ID)
	s.mu.Unlock()
	return out.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, store.Wrap("get", store.ErrNotFound)
	}
	return f.Clone(), nil
}

func (s *Store) FindInBbox(ctx context.Context, b orb.Bound, flt store.Filters) ([]*feature.Feature, error) {
	return s.scan(ctx, flt, func(f *feature.Feature) bool {
		return spatial.IntersectsBound(f.Geometry, b)
	})
}

func (s *Store) FindNearPoint(ctx context.Context, p orb.Point, meters float64, flt store.Filters) ([]*feature.Feature, error) {
	env := spatial.RadiusBound(p, meters)
	return s.scan(ctx, flt, func(f *feature.Feature) bool {
		return f.Geometry.Bound().Intersects(env) && spatial.DistanceTo(p, f.Geometry) <= meters
	})
}

func (s *Store) FindInPolygon(ctx context.Context, poly orb.Polygon, flt store.Filters) ([]*feature.Feature, error) {
	return s.scan(ctx, flt, func(f *feature.Feature) bool {
		return spatial.Within(f.Geometry, poly)
	})
}

func (s *Store) Count(_ context.Context, flt store.Filters) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.order {
		if flt.Match(s.byID[id]) {
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored features regardless of filters.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) scan(ctx context.Context, flt store.Filters, keep func(*feature.Feature) bool) ([]*feature.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*feature.Feature, 0)
	for i, id := range s.order {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, store.Wrap("scan", err)
			}
		}
		f := s.byID[id]
		if flt.Match(f) && keep(f) {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}
