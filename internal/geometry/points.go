package geometry

import "github.com/paulmach/orb"

// ForEachPoint visits every coordinate in g; returning false stops the walk.
func ForEachPoint(g orb.Geometry, fn func(orb.Point) bool) {
	walk(g, fn)
}

func walk(g orb.Geometry, fn func(orb.Point) bool) bool {
	switch t := g.(type) {
	case orb.Point:
		return fn(t)
	case orb.MultiPoint:
		for _, p := range t {
			if !fn(p) {
				return false
			}
		}
	case orb.LineString:
		for _, p := range t {
			if !fn(p) {
				return false
			}
		}
	case orb.Ring:
		for _, p := range t {
			if !fn(p) {
				return false
			}
		}
	case orb.MultiLineString:
		for _, ls := range t {
			if !walk(ls, fn) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range t {
			if !walk(r, fn) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, p := range t {
			if !walk(p, fn) {
				return false
			}
		}
	case orb.Collection:
		for _, c := range t {
			if !walk(c, fn) {
				return false
			}
		}
	}
	return true
}

// PointCount is the number of stored coordinates, closing vertices included.
func PointCount(g orb.Geometry) int {
	n := 0
	ForEachPoint(g, func(orb.Point) bool {
		n++
		return true
	})
	return n
}

// DedupeLine drops consecutive repeated vertices.
func DedupeLine(ls orb.LineString) (orb.LineString, int) {
	if len(ls) == 0 {
		return orb.LineString{}, 0
	}
	out := make(orb.LineString, 0, len(ls))
	out = append(out, ls[0])
	for _, p := range ls[1:] {
		if p.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out, len(ls) - len(out)
}

// DedupeRing drops consecutive repeated vertices and keeps the ring closed.
func DedupeRing(r orb.Ring) (orb.Ring, int) {
	ls, removed := DedupeLine(orb.LineString(r))
	out := orb.Ring(ls)
	if len(out) > 0 && !IsClosed(out) && len(r) > 0 && IsClosed(r) {
		out = append(out, out[0])
		removed--
	}
	return out, removed
}

// Dedupe returns a copy of g without consecutive duplicate coordinates and the
// number of coordinates removed. Point geometries are returned as-is.
func Dedupe(g orb.Geometry) (orb.Geometry, int) {
	switch t := g.(type) {
	case orb.LineString:
		return DedupeLine(t)
	case orb.Ring:
		return DedupeRing(t)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		total := 0
		for i, ls := range t {
			var n int
			out[i], n = DedupeLine(ls)
			total += n
		}
		return out, total
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		total := 0
		for i, r := range t {
			var n int
			out[i], n = DedupeRing(r)
			total += n
		}
		return out, total
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		total := 0
		for i, p := range t {
			d, n := Dedupe(p)
			out[i] = d.(orb.Polygon)
			total += n
		}
		return out, total
	case nil:
		return nil, 0
	default:
		return orb.Clone(g), 0
	}
}

// DuplicateCount counts consecutive repeats without copying.
func DuplicateCount(g orb.Geometry) int {
	count := func(ps []orb.Point) int {
		n := 0
		for i := 1; i < len(ps); i++ {
			if ps[i].Equal(ps[i-1]) {
				n++
			}
		}
		return n
	}
	switch t := g.(type) {
	case orb.LineString:
		return count(t)
	case orb.Ring:
		return count(t)
	case orb.MultiLineString:
		n := 0
		for _, ls := range t {
			n += count(ls)
		}
		return n
	case orb.Polygon:
		n := 0
		for _, r := range t {
			n += count(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range t {
			n += DuplicateCount(p)
		}
		return n
	}
	return 0
}
