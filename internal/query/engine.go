package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/mapper"
	"github.com/mohammed-shakir/geotemporal/internal/spatial"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

const (
	KindBbox    = "bbox"
	KindRadius  = "radius"
	KindPolygon = "polygon"
	KindGrid    = "grid"
	KindHexGrid = "hexgrid"

	DefaultMaxGridCells = 10000
)

// Cache stores encoded results. Key is resolved once per query, before the
// store is read, so a result computed across an invalidation is filed under
// the generation that was current when it started.
type Cache interface {
	Key(ctx context.Context, layer, kind, params string) (string, error)
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, v any) error
}

// Admission decides on a miss whether the computed result is stored.
// *hotness.Admission implements it.
type Admission interface {
	Admit(id string) bool
}

type Observer interface {
	ObserveQuery(kind string, results int, seconds float64)
	ObserveCache(outcome string)
}

type Engine struct {
	st       store.Store
	cache    Cache
	admit    Admission
	obs      Observer
	log      *slog.Logger
	hex      mapper.Interface
	maxCells int
	now      func() time.Time
}

type Option func(*Engine)

func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithAdmission stores only results the policy admits. Without it every
// miss is stored.
func WithAdmission(a Admission) Option { return func(e *Engine) { e.admit = a } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithHexMapper enables HexGrid.
func WithHexMapper(m mapper.Interface) Option { return func(e *Engine) { e.hex = m } }

// WithMaxGridCells caps how many cells a grid query may span. Zero disables
// the cap.
func WithMaxGridCells(n int) Option { return func(e *Engine) { e.maxCells = n } }

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		st:       st,
		log:      slog.Default(),
		maxCells: DefaultMaxGridCells,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// cached runs compute unless a cached result for (kind, params) exists.
// Cache failures are logged and never fail the query.
func cached[R any](ctx context.Context, e *Engine, layer, kind, params string, compute func() (R, error), count func(R) int, mark func(*R)) (R, error) {
	start := e.now()
	var out R
	var key string
	if e.cache != nil {
		var err error
		if key, err = e.cache.Key(ctx, layer, kind, params); err != nil {
			e.log.Warn("result cache key failed", "kind", kind, "err", err)
			e.observeCache("error")
		}
	}
	if key != "" {
		hit, err := e.cache.Get(ctx, key, &out)
		switch {
		case err != nil:
			e.log.Warn("result cache read failed", "kind", kind, "err", err)
			e.observeCache("error")
		case hit:
			e.observeCache("hit")
			mark(&out)
			e.observe(kind, count(out), start)
			return out, nil
		default:
			e.observeCache("miss")
		}
	}
	out, err := compute()
	if err != nil {
		return out, err
	}
	switch {
	case key == "":
	case e.admit != nil && !e.admit.Admit(layer+"|"+kind+"|"+params):
		e.observeCache("bypass")
	default:
		if err := e.cache.Put(ctx, key, out); err != nil {
			e.log.Warn("result cache write failed", "kind", kind, "err", err)
		}
	}
	e.observe(kind, count(out), start)
	return out, nil
}

func (e *Engine) observe(kind string, n int, start time.Time) {
	if e.obs != nil {
		e.obs.ObserveQuery(kind, n, e.now().Sub(start).Seconds())
	}
}

func (e *Engine) observeCache(outcome string) {
	if e.obs != nil {
		e.obs.ObserveCache(outcome)
	}
}

func featureCount(r FeatureResult) int { return r.Meta.Count }
func markFeatures(r *FeatureResult)    { r.Meta.Cached = true }
func gridCount(r GridResult) int       { return r.Meta.Count }
func markGrid(r *GridResult)           { r.Meta.Cached = true }
func hexCount(r HexGridResult) int     { return r.Meta.Count }
func markHex(r *HexGridResult)         { r.Meta.Cached = true }

func featureResult(kind, params string, f store.Filters, fs []*feature.Feature) FeatureResult {
	if fs == nil {
		fs = []*feature.Feature{}
	}
	return FeatureResult{
		Features: fs,
		Meta:     Meta{Kind: kind, Query: params, Filters: applied(f), Count: len(fs)},
	}
}

// Bbox returns features intersecting the envelope and valid in the filtered
// year.
func (e *Engine) Bbox(ctx context.Context, q BboxQuery) (FeatureResult, error) {
	if err := q.validate(); err != nil {
		return FeatureResult{}, err
	}
	params := q.params()
	return cached(ctx, e, q.Filters.LayerID, KindBbox, params, func() (FeatureResult, error) {
		fs, err := e.st.FindInBbox(ctx, q.Bound, q.Filters)
		if err != nil {
			return FeatureResult{}, err
		}
		return featureResult(KindBbox, params, q.Filters, fs), nil
	}, featureCount, markFeatures)
}

// Radius returns features within Meters of Center, nearest first, with the
// geodesic distance of each.
func (e *Engine) Radius(ctx context.Context, q RadiusQuery) (FeatureResult, error) {
	if err := q.validate(); err != nil {
		return FeatureResult{}, err
	}
	params := q.params()
	return cached(ctx, e, q.Filters.LayerID, KindRadius, params, func() (FeatureResult, error) {
		fs, err := e.st.FindNearPoint(ctx, q.Center, q.Meters, q.Filters)
		if err != nil {
			return FeatureResult{}, err
		}
		type hit struct {
			f *feature.Feature
			d float64
		}
		hits := make([]hit, len(fs))
		for i, f := range fs {
			hits[i] = hit{f: f, d: spatial.DistanceTo(q.Center, f.Geometry)}
		}
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].d != hits[j].d {
				return hits[i].d < hits[j].d
			}
			return hits[i].f.ID < hits[j].f.ID
		})
		res := featureResult(KindRadius, params, q.Filters, nil)
		res.Features = make([]*feature.Feature, len(hits))
		res.Distances = make([]float64, len(hits))
		for i, h := range hits {
			res.Features[i] = h.f
			res.Distances[i] = math.Round(h.d*100) / 100
		}
		res.Meta.Count = len(hits)
		return res, nil
	}, featureCount, markFeatures)
}

// Polygon returns features lying entirely within the query polygon.
func (e *Engine) Polygon(ctx context.Context, q PolygonQuery) (FeatureResult, error) {
	if err := q.validate(); err != nil {
		return FeatureResult{}, err
	}
	params := q.params()
	return cached(ctx, e, q.Filters.LayerID, KindPolygon, params, func() (FeatureResult, error) {
		fs, err := e.st.FindInPolygon(ctx, q.Polygon, q.Filters)
		if err != nil {
			return FeatureResult{}, err
		}
		return featureResult(KindPolygon, params, q.Filters, fs), nil
	}, featureCount, markFeatures)
}

func gridDims(b orb.Bound, size float64) (cols, rows int) {
	// the epsilon keeps an exact multiple from producing an empty extra column
	cols = int(math.Ceil((b.Max[0]-b.Min[0])/size - 1e-9))
	rows = int(math.Ceil((b.Max[1]-b.Min[1])/size - 1e-9))
	return max(cols, 1), max(rows, 1)
}

func cellBound(b orb.Bound, size float64, x, y int) orb.Bound {
	minX := b.Min[0] + float64(x)*size
	minY := b.Min[1] + float64(y)*size
	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{math.Min(minX+size, b.Max[0]), math.Min(minY+size, b.Max[1])},
	}
}

// Grid partitions the bbox into square cells of CellSize degrees and counts
// the features intersecting each one. Empty cells are omitted; cells are
// ordered by row then column.
func (e *Engine) Grid(ctx context.Context, q GridQuery) (GridResult, error) {
	if err := q.validate(e.maxCells); err != nil {
		return GridResult{}, err
	}
	params := q.params()
	return cached(ctx, e, q.Filters.LayerID, KindGrid, params, func() (GridResult, error) {
		fs, err := e.st.FindInBbox(ctx, q.Bound, q.Filters)
		if err != nil {
			return GridResult{}, err
		}
		cols, rows := gridDims(q.Bound, q.CellSize)
		counts := make(map[[2]int]int)
		for i, f := range fs {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return GridResult{}, err
				}
			}
			fb := f.Geometry.Bound()
			x0 := clampIndex(int(math.Floor((fb.Min[0]-q.Bound.Min[0])/q.CellSize)), cols)
			x1 := clampIndex(int(math.Floor((fb.Max[0]-q.Bound.Min[0])/q.CellSize)), cols)
			y0 := clampIndex(int(math.Floor((fb.Min[1]-q.Bound.Min[1])/q.CellSize)), rows)
			y1 := clampIndex(int(math.Floor((fb.Max[1]-q.Bound.Min[1])/q.CellSize)), rows)
			for y := y0; y <= y1; y++ {
				for x := x0; x <= x1; x++ {
					if spatial.IntersectsBound(f.Geometry, cellBound(q.Bound, q.CellSize, x, y)) {
						counts[[2]int{x, y}]++
					}
				}
			}
		}

		cells := make([]Cell, 0, len(counts))
		for k, n := range counts {
			cells = append(cells, Cell{
				X:        k[0],
				Y:        k[1],
				Count:    n,
				Geometry: cellBound(q.Bound, q.CellSize, k[0], k[1]).ToPolygon(),
			})
		}
		sort.Slice(cells, func(i, j int) bool {
			if cells[i].Y != cells[j].Y {
				return cells[i].Y < cells[j].Y
			}
			return cells[i].X < cells[j].X
		})
		return GridResult{
			Cells: cells,
			Meta:  Meta{Kind: KindGrid, Query: params, Filters: applied(q.Filters), Count: len(cells)},
		}, nil
	}, gridCount, markGrid)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// HexGrid counts features per H3 cell of resolution Res. A feature is
// assigned to the cell holding the centre of its envelope.
func (e *Engine) HexGrid(ctx context.Context, q HexGridQuery) (HexGridResult, error) {
	if e.hex == nil {
		return HexGridResult{}, fmt.Errorf("%w: hex grid is not enabled", ErrInvalidQuery)
	}
	if err := q.validate(); err != nil {
		return HexGridResult{}, err
	}
	params := q.params()
	return cached(ctx, e, q.Filters.LayerID, KindHexGrid, params, func() (HexGridResult, error) {
		fs, err := e.st.FindInBbox(ctx, q.Bound, q.Filters)
		if err != nil {
			return HexGridResult{}, err
		}
		counts := make(map[string]int)
		for _, f := range fs {
			c, err := e.hex.CellOf(anchor(f.Geometry), q.Res)
			if err != nil {
				return HexGridResult{}, err
			}
			counts[c]++
		}
		cells := make([]HexCell, 0, len(counts))
		for c, n := range counts {
			poly, err := e.hex.Boundary(c)
			if err != nil {
				return HexGridResult{}, err
			}
			cells = append(cells, HexCell{Cell: c, Count: n, Geometry: poly})
		}
		sort.Slice(cells, func(i, j int) bool { return cells[i].Cell < cells[j].Cell })
		return HexGridResult{
			Cells: cells,
			Meta:  Meta{Kind: KindHexGrid, Query: params, Filters: applied(q.Filters), Count: len(cells)},
		}, nil
	}, hexCount, markHex)
}

func anchor(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	return g.Bound().Center()
}
