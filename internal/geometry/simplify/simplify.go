// Package simplify reduces line and ring vertex counts with Douglas-Peucker
// while refusing any reduction that would break ring topology.
package simplify

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	orbsimplify "github.com/paulmach/orb/simplify"

	"github.com/mohammed-shakir/geotemporal/internal/geometry"
)

var ErrTolerance = errors.New("tolerance must be a finite, non-negative number")

type Result struct {
	Geometry     orb.Geometry `json:"-"`
	PointsBefore int          `json:"pointsBefore"`
	PointsAfter  int          `json:"pointsAfter"`
	// Ratio is the fraction of points removed, 0 when nothing changed.
	Ratio float64 `json:"ratio"`
	// Reverted counts rings or lines kept at full detail because the reduced
	// version was not simple.
	Reverted int `json:"reverted"`
}

type Simplifier struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Simplifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simplifier{log: logger}
}

type reducer interface {
	LineString(orb.LineString) orb.LineString
}

// Simplify removes duplicate points and then reduces every line and ring.
// Tolerance is in the geometry's own units. highQuality runs Douglas-Peucker
// alone; otherwise a radial distance pass thins the input first. Points and
// multipoints are returned unchanged. The input is never modified.
func (s *Simplifier) Simplify(g orb.Geometry, tolerance float64, highQuality bool) (Result, error) {
	if math.IsNaN(tolerance) || math.IsInf(tolerance, 0) || tolerance < 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrTolerance, tolerance)
	}
	if g == nil {
		return Result{}, errors.New("simplify: nil geometry")
	}
	before := geometry.PointCount(g)

	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return Result{Geometry: orb.Clone(g), PointsBefore: before, PointsAfter: before}, nil
	}

	deduped, _ := geometry.Dedupe(g)
	r := &run{tol: tolerance, hq: highQuality}
	out, err := r.geometry(deduped)
	if err != nil {
		return Result{}, err
	}

	after := geometry.PointCount(out)
	res := Result{Geometry: out, PointsBefore: before, PointsAfter: after, Reverted: r.reverted}
	if before > 0 {
		res.Ratio = 1 - float64(after)/float64(before)
	}
	s.log.Debug("geometry simplified",
		"type", g.GeoJSONType(),
		"points_before", before,
		"points_after", after,
		"ratio", res.Ratio,
		"reverted", r.reverted)
	return res, nil
}

type run struct {
	tol      float64
	hq       bool
	reverted int
}

func (r *run) reduce(ls orb.LineString) orb.LineString {
	if r.tol == 0 || len(ls) <= 2 {
		return ls.Clone()
	}
	var steps []reducer
	if !r.hq {
		steps = append(steps, orbsimplify.Radial(planar.Distance, r.tol))
	}
	steps = append(steps, orbsimplify.DouglasPeucker(r.tol))

	out := ls.Clone()
	for _, s := range steps {
		out = s.LineString(out)
	}
	return out
}

func (r *run) geometry(g orb.Geometry) (orb.Geometry, error) {
	switch t := g.(type) {
	case orb.LineString:
		return r.line(t), nil
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = r.line(ls)
		}
		return out, nil
	case orb.Ring:
		return r.ring(t), nil
	case orb.Polygon:
		return r.polygon(t), nil
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = r.polygon(p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("simplify: unsupported geometry %s", g.GeoJSONType())
	}
}

func (r *run) line(ls orb.LineString) orb.LineString {
	out := r.reduce(ls)
	if len(out) < 2 || len(geometry.LineCrossings(out)) > len(geometry.LineCrossings(ls)) {
		r.reverted++
		return ls.Clone()
	}
	return out
}

func (r *run) ring(ring orb.Ring) orb.Ring {
	out := orb.Ring(r.reduce(orb.LineString(ring)))
	if len(out) < 4 || !geometry.IsClosed(out) || (geometry.IsSimple(ring) && !geometry.IsSimple(out)) {
		r.reverted++
		return ring.Clone()
	}
	return out
}

// polygon keeps the whole polygon at full detail if reduced rings start
// touching each other.
func (r *run) polygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		out[i] = r.ring(ring)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if geometry.RingsCross(out[i], out[j]) && !geometry.RingsCross(p[i], p[j]) {
				r.reverted++
				return p.Clone()
			}
		}
	}
	return out
}
