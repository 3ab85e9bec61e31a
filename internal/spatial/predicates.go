package spatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/geotemporal/internal/geometry"
)

// PolygonContainsPoint is true for points inside the shell and outside every
// hole. Boundary points count as inside.
func PolygonContainsPoint(p orb.Polygon, pt orb.Point) bool {
	if len(p) == 0 || len(p[0]) == 0 {
		return false
	}
	return planar.PolygonContains(p, pt)
}

func boundRing(b orb.Bound) orb.Ring {
	return orb.Ring{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
		{b.Min[0], b.Min[1]},
	}
}

// IntersectsBound reports whether g shares at least one point with b.
func IntersectsBound(g orb.Geometry, b orb.Bound) bool {
	if g == nil || !g.Bound().Intersects(b) {
		return false
	}
	switch t := g.(type) {
	case orb.Point:
		return b.Contains(t)
	case orb.MultiPoint:
		for _, p := range t {
			if b.Contains(p) {
				return true
			}
		}
		return false
	case orb.LineString:
		return lineIntersectsBound(t, b)
	case orb.MultiLineString:
		for _, ls := range t {
			if lineIntersectsBound(ls, b) {
				return true
			}
		}
		return false
	case orb.Polygon:
		return polygonIntersectsBound(t, b)
	case orb.MultiPolygon:
		for _, p := range t {
			if polygonIntersectsBound(p, b) {
				return true
			}
		}
		return false
	}
	return false
}

func lineIntersectsBound(ls orb.LineString, b orb.Bound) bool {
	for _, p := range ls {
		if b.Contains(p) {
			return true
		}
	}
	edges := boundRing(b)
	for i := 0; i+1 < len(ls); i++ {
		for j := 0; j+1 < len(edges); j++ {
			if _, ok := geometry.SegmentIntersection(ls[i], ls[i+1], edges[j], edges[j+1]); ok {
				return true
			}
		}
	}
	return false
}

func polygonIntersectsBound(p orb.Polygon, b orb.Bound) bool {
	if len(p) == 0 || len(p[0]) == 0 {
		return false
	}
	for _, r := range p {
		if lineIntersectsBound(orb.LineString(r), b) {
			return true
		}
	}
	// envelope entirely inside the polygon and not inside a hole
	return planar.PolygonContains(p, b.Center())
}

// Within reports whether g lies entirely inside poly: every vertex is inside,
// no edge of g crosses an edge of poly, and no hole of poly sits inside a
// polygon of g. Cost is O(V·E) for V vertices of g and E edges of poly.
func Within(g orb.Geometry, poly orb.Polygon) bool {
	if g == nil || len(poly) == 0 || len(poly[0]) < 4 {
		return false
	}
	if !poly.Bound().Contains(g.Bound().Min) || !poly.Bound().Contains(g.Bound().Max) {
		return false
	}
	inside := true
	geometry.ForEachPoint(g, func(p orb.Point) bool {
		inside = planar.PolygonContains(poly, p)
		return inside
	})
	if !inside {
		return false
	}

	switch t := g.(type) {
	case orb.Point, orb.MultiPoint:
		return true
	case orb.LineString:
		return !edgesCross(t, poly)
	case orb.MultiLineString:
		for _, ls := range t {
			if edgesCross(ls, poly) {
				return false
			}
		}
		return true
	case orb.Polygon:
		return polygonWithin(t, poly)
	case orb.MultiPolygon:
		for _, p := range t {
			if !polygonWithin(p, poly) {
				return false
			}
		}
		return true
	}
	return false
}

func polygonWithin(p, outer orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	if edgesCross(orb.LineString(p[0]), outer) {
		return false
	}
	for _, hole := range outer[1:] {
		if len(hole) > 0 && planar.PolygonContains(p, hole[0]) {
			return false
		}
	}
	return true
}

// edgesCross reports a proper crossing between ls and any ring of poly.
// Touching the boundary is allowed.
func edgesCross(ls orb.LineString, poly orb.Polygon) bool {
	for i := 0; i+1 < len(ls); i++ {
		a1, a2 := ls[i], ls[i+1]
		for _, r := range poly {
			for j := 0; j+1 < len(r); j++ {
				if properCross(a1, a2, r[j], r[j+1]) {
					return true
				}
			}
		}
		// a segment whose endpoints are inside can still leave through a
		// concave notch; probe its midpoint
		mid := orb.Point{(a1[0] + a2[0]) / 2, (a1[1] + a2[1]) / 2}
		if !planar.PolygonContains(poly, mid) {
			return true
		}
	}
	return false
}

func properCross(a1, a2, b1, b2 orb.Point) bool {
	d1 := sign(cross(b1, b2, a1))
	d2 := sign(cross(b1, b2, a2))
	d3 := sign(cross(a1, a2, b1))
	d4 := sign(cross(a1, a2, b2))
	return d1*d2 < 0 && d3*d4 < 0
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func sign(v float64) int {
	switch {
	case v > 1e-12:
		return 1
	case v < -1e-12:
		return -1
	}
	return 0
}
