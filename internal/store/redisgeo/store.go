// Package redisgeo stores features in Redis and indexes them by the H3 cells
// that cover their geometry. Reads union the cell sets of the query shape,
// fetch the candidates with MGET and apply the exact predicate in process.
package redisgeo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/geotemporal/internal/cache/keys"
	"github.com/mohammed-shakir/geotemporal/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/mapper"
	"github.com/mohammed-shakir/geotemporal/internal/spatial"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

const (
	DefaultRes      = 7
	DefaultMaxCells = 4096
	mgetChunk       = 500
)

type Config struct {
	// Res is the H3 resolution of the cell index.
	Res int
	// MaxCells caps the covering of one feature or query shape. Larger
	// features go to the oversize set; larger queries scan the layer.
	MaxCells int
}

type Store struct {
	cli    *redisstore.Client
	mapper mapper.Interface
	cfg    Config
	log    *slog.Logger
}

func New(cli *redisstore.Client, m mapper.Interface, cfg Config, log *slog.Logger) *Store {
	if cfg.Res <= 0 {
		cfg.Res = DefaultRes
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = DefaultMaxCells
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{cli: cli, mapper: m, cfg: cfg, log: log}
}

var _ store.Store = (*Store)(nil)

// Create writes the feature body and every index entry in one MULTI/EXEC.
func (s *Store) Create(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	out, err := store.Prepare(f, uuid.NewString())
	if err != nil {
		return nil, store.Wrap("create", err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, store.Wrap("create", fmt.Errorf("encode feature: %w", err))
	}
	cells, ok, err := s.mapper.Cover(out.Geometry, s.cfg.Res, s.cfg.MaxCells)
	if err != nil {
		return nil, store.Wrap("create", fmt.Errorf("cover geometry: %w", err))
	}
	if !ok {
		s.log.Debug("feature indexed as oversize", "id", out.ID, "layer", out.LayerID)
	}

	err = s.cli.Tx(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keys.FeatureKey(out.ID), body, 0)
		p.SAdd(ctx, keys.LayerSet(""), out.ID)
		if out.LayerID != "" {
			p.SAdd(ctx, keys.LayerSet(out.LayerID), out.ID)
		}
		if !ok {
			p.SAdd(ctx, keys.OversizeSet(s.cfg.Res), out.ID)
			return nil
		}
		for _, c := range cells {
			p.SAdd(ctx, keys.CellSet(s.cfg.Res, c), out.ID)
		}
		return nil
	})
	if err != nil {
		return nil, store.Wrap("create", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*feature.Feature, error) {
	raw, ok, err := s.cli.Get(ctx, keys.FeatureKey(id))
	if err != nil {
		return nil, store.Wrap("get", err)
	}
	if !ok {
		return nil, store.Wrap("get", store.ErrNotFound)
	}
	var f feature.Feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, store.Wrap("get", fmt.Errorf("decode feature %s: %w", id, err))
	}
	return &f, nil
}

func (s *Store) FindInBbox(ctx context.Context, b orb.Bound, flt store.Filters) ([]*feature.Feature, error) {
	ids, err := s.candidates(ctx, b, flt)
	if err != nil {
		return nil, store.Wrap("find_bbox", err)
	}
	out, err := s.load(ctx, ids, flt, func(f *feature.Feature) bool {
		return spatial.IntersectsBound(f.Geometry, b)
	})
	return out, store.Wrap("find_bbox", err)
}

func (s *Store) FindNearPoint(ctx context.Context, p orb.Point, meters float64, flt store.Filters) ([]*feature.Feature, error) {
	env := spatial.RadiusBound(p, meters)
	ids, err := s.candidates(ctx, env, flt)
	if err != nil {
		return nil, store.Wrap("find_near", err)
	}
	out, err := s.load(ctx, ids, flt, func(f *feature.Feature) bool {
		return f.Geometry.Bound().Intersects(env) && spatial.DistanceTo(p, f.Geometry) <= meters
	})
	return out, store.Wrap("find_near", err)
}

func (s *Store) FindInPolygon(ctx context.Context, poly orb.Polygon, flt store.Filters) ([]*feature.Feature, error) {
	ids, err := s.candidates(ctx, poly, flt)
	if err != nil {
		return nil, store.Wrap("find_polygon", err)
	}
	out, err := s.load(ctx, ids, flt, func(f *feature.Feature) bool {
		return spatial.Within(f.Geometry, poly)
	})
	return out, store.Wrap("find_polygon", err)
}

func (s *Store) Count(ctx context.Context, flt store.Filters) (int, error) {
	ids, err := s.cli.SMembers(ctx, keys.LayerSet(flt.LayerID))
	if err != nil {
		return 0, store.Wrap("count", err)
	}
	if flt.GeometryType == "" && flt.Year == nil {
		return len(ids), nil
	}
	fs, err := s.load(ctx, ids, flt, func(*feature.Feature) bool { return true })
	if err != nil {
		return 0, store.Wrap("count", err)
	}
	return len(fs), nil
}

// candidates unions the cell sets covering shape with the oversize set. A
// shape whose covering is too large falls back to the whole layer.
func (s *Store) candidates(ctx context.Context, shape orb.Geometry, flt store.Filters) ([]string, error) {
	cells, ok, err := s.mapper.Cover(shape, s.cfg.Res, s.cfg.MaxCells)
	if err != nil {
		return nil, fmt.Errorf("cover query: %w", err)
	}
	if !ok {
		s.log.Debug("query covering too large, scanning layer", "layer", flt.LayerID)
		return s.cli.SMembers(ctx, keys.LayerSet(flt.LayerID))
	}
	setKeys := make([]string, 0, len(cells)+1)
	setKeys = append(setKeys, keys.OversizeSet(s.cfg.Res))
	for _, c := range cells {
		setKeys = append(setKeys, keys.CellSet(s.cfg.Res, c))
	}
	return s.cli.SUnion(ctx, setKeys...)
}

func (s *Store) load(ctx context.Context, ids []string, flt store.Filters, keep func(*feature.Feature) bool) ([]*feature.Feature, error) {
	out := make([]*feature.Feature, 0)
	for lo := 0; lo < len(ids); lo += mgetChunk {
		hi := min(lo+mgetChunk, len(ids))
		ks := make([]string, hi-lo)
		for i, id := range ids[lo:hi] {
			ks[i] = keys.FeatureKey(id)
		}
		raw, err := s.cli.MGet(ctx, ks)
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			b, ok := raw[k]
			if !ok {
				continue
			}
			var f feature.Feature
			if err := json.Unmarshal(b, &f); err != nil {
				s.log.Warn("skipping undecodable feature", "key", k, "err", err)
				continue
			}
			if flt.Match(&f) && keep(&f) {
				out = append(out, &f)
			}
		}
	}
	return out, nil
}
