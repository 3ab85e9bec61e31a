// Package query evaluates bbox, radius, polygon and grid queries against a
// feature store, applying the validity-interval filter on every path.
package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

var ErrInvalidQuery = errors.New("invalid query")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

type BboxQuery struct {
	Bound   orb.Bound
	Filters store.Filters
}

type RadiusQuery struct {
	Center  orb.Point
	Meters  float64
	Filters store.Filters
}

type PolygonQuery struct {
	Polygon orb.Polygon
	Filters store.Filters
}

type GridQuery struct {
	Bound    orb.Bound
	CellSize float64 // degrees
	Filters  store.Filters
}

type HexGridQuery struct {
	Bound   orb.Bound
	Res     int
	Filters store.Filters
}

// AppliedFilters echoes the filters a result was computed with.
type AppliedFilters struct {
	LayerID      string `json:"layerId,omitempty"`
	GeometryType string `json:"geometryType,omitempty"`
	Year         *int   `json:"year,omitempty"`
	Date         string `json:"date,omitempty"`
}

func applied(f store.Filters) AppliedFilters {
	a := AppliedFilters{LayerID: f.LayerID, GeometryType: string(f.GeometryType), Year: f.Year}
	if d, ok := f.Date(); ok {
		a.Date = d.String()
	}
	return a
}

type Meta struct {
	Kind    string         `json:"kind"`
	Query   string         `json:"query"`
	Filters AppliedFilters `json:"filters"`
	Count   int            `json:"count"`
	Cached  bool           `json:"cached,omitempty"`
}

type FeatureResult struct {
	Features []*feature.Feature `json:"features"`
	// Distances is set for radius queries, aligned with Features, in meters.
	Distances []float64 `json:"distances,omitempty"`
	Meta      Meta      `json:"meta"`
}

type Cell struct {
	X        int         `json:"x"`
	Y        int         `json:"y"`
	Count    int         `json:"count"`
	Geometry orb.Polygon `json:"geometry"`
}

type GridResult struct {
	Cells []Cell `json:"cells"`
	Meta  Meta   `json:"meta"`
}

type HexCell struct {
	Cell     string      `json:"cell"`
	Count    int         `json:"count"`
	Geometry orb.Polygon `json:"geometry"`
}

type HexGridResult struct {
	Cells []HexCell `json:"cells"`
	Meta  Meta      `json:"meta"`
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func checkPoint(p orb.Point) error {
	if !finite(p[0], p[1]) {
		return invalid("coordinate is not a number")
	}
	if p[0] < -180 || p[0] > 180 {
		return invalid("longitude %g out of range", p[0])
	}
	if p[1] < -90 || p[1] > 90 {
		return invalid("latitude %g out of range", p[1])
	}
	return nil
}

func checkBound(b orb.Bound) error {
	if err := checkPoint(b.Min); err != nil {
		return err
	}
	if err := checkPoint(b.Max); err != nil {
		return err
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return invalid("bbox min exceeds max")
	}
	return nil
}

func checkFilters(f store.Filters) error {
	if f.GeometryType != "" {
		if _, err := feature.ParseGeometryType(string(f.GeometryType)); err != nil {
			return invalid("geometry type %q", f.GeometryType)
		}
	}
	if f.Year != nil && (*f.Year < 1 || *f.Year > 9999) {
		return invalid("year %d out of range", *f.Year)
	}
	return nil
}

func (q BboxQuery) validate() error {
	if err := checkBound(q.Bound); err != nil {
		return err
	}
	return checkFilters(q.Filters)
}

func (q RadiusQuery) validate() error {
	if err := checkPoint(q.Center); err != nil {
		return err
	}
	if !finite(q.Meters) || q.Meters <= 0 {
		return invalid("radius must be positive")
	}
	return checkFilters(q.Filters)
}

func (q PolygonQuery) validate() error {
	if len(q.Polygon) == 0 {
		return invalid("polygon has no rings")
	}
	for i, r := range q.Polygon {
		if len(r) < 4 {
			return invalid("ring %d has fewer than 4 points", i)
		}
		if !r[0].Equal(r[len(r)-1]) {
			return invalid("ring %d is not closed", i)
		}
		for _, p := range r {
			if err := checkPoint(p); err != nil {
				return err
			}
		}
	}
	return checkFilters(q.Filters)
}

func (q GridQuery) validate(maxCells int) error {
	if err := checkBound(q.Bound); err != nil {
		return err
	}
	if !finite(q.CellSize) || q.CellSize <= 0 {
		return invalid("cell size must be positive")
	}
	if q.Bound.Max[0] == q.Bound.Min[0] || q.Bound.Max[1] == q.Bound.Min[1] {
		return invalid("grid bbox has no area")
	}
	cols, rows := gridDims(q.Bound, q.CellSize)
	if maxCells > 0 && cols*rows > maxCells {
		return invalid("grid of %dx%d cells exceeds limit %d", cols, rows, maxCells)
	}
	return checkFilters(q.Filters)
}

func (q HexGridQuery) validate() error {
	if err := checkBound(q.Bound); err != nil {
		return err
	}
	if q.Res < 0 || q.Res > 15 {
		return invalid("h3 resolution %d out of range", q.Res)
	}
	return checkFilters(q.Filters)
}

func filterParams(f store.Filters) string {
	var b strings.Builder
	if f.LayerID != "" {
		b.WriteString(" layer=" + f.LayerID)
	}
	if f.GeometryType != "" {
		b.WriteString(" type=" + string(f.GeometryType))
	}
	if f.Year != nil {
		b.WriteString(" year=" + strconv.Itoa(*f.Year))
	}
	return b.String()
}

func g(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func boundParams(b orb.Bound) string {
	return "[" + g(b.Min[0]) + "," + g(b.Min[1]) + "," + g(b.Max[0]) + "," + g(b.Max[1]) + "]"
}

func (q BboxQuery) params() string { return "bbox=" + boundParams(q.Bound) + filterParams(q.Filters) }

func (q RadiusQuery) params() string {
	return "center=[" + g(q.Center[0]) + "," + g(q.Center[1]) + "] r=" + g(q.Meters) + filterParams(q.Filters)
}

func (q PolygonQuery) params() string {
	var b strings.Builder
	b.WriteString("polygon=")
	for i, r := range q.Polygon {
		if i > 0 {
			b.WriteByte('|')
		}
		for j, p := range r {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(g(p[0]) + " " + g(p[1]))
		}
	}
	return b.String() + filterParams(q.Filters)
}

func (q GridQuery) params() string {
	return "bbox=" + boundParams(q.Bound) + " size=" + g(q.CellSize) + filterParams(q.Filters)
}

func (q HexGridQuery) params() string {
	return "bbox=" + boundParams(q.Bound) + " res=" + strconv.Itoa(q.Res) + filterParams(q.Filters)
}
