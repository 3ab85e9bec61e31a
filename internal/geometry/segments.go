// Package geometry holds the planar primitives shared by validation,
// cleaning and simplification.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
)

const eps = 1e-12

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func orientation(o, a, b orb.Point) int {
	v := cross(o, a, b)
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	default:
		return 0
	}
}

func onSegment(p, a, b orb.Point) bool {
	return math.Min(a[0], b[0])-eps <= p[0] && p[0] <= math.Max(a[0], b[0])+eps &&
		math.Min(a[1], b[1])-eps <= p[1] && p[1] <= math.Max(a[1], b[1])+eps
}

// SegmentIntersection returns a point shared by segments a1a2 and b1b2.
// Collinear overlaps report the first overlapping endpoint.
func SegmentIntersection(a1, a2, b1, b2 orb.Point) (orb.Point, bool) {
	o1 := orientation(a1, a2, b1)
	o2 := orientation(a1, a2, b2)
	o3 := orientation(b1, b2, a1)
	o4 := orientation(b1, b2, a2)

	if o1 != o2 && o3 != o4 && o1 != 0 && o2 != 0 && o3 != 0 && o4 != 0 {
		d := (a2[0]-a1[0])*(b2[1]-b1[1]) - (a2[1]-a1[1])*(b2[0]-b1[0])
		t := ((b1[0]-a1[0])*(b2[1]-b1[1]) - (b1[1]-a1[1])*(b2[0]-b1[0])) / d
		return orb.Point{a1[0] + t*(a2[0]-a1[0]), a1[1] + t*(a2[1]-a1[1])}, true
	}

	switch {
	case o1 == 0 && onSegment(b1, a1, a2):
		return b1, true
	case o2 == 0 && onSegment(b2, a1, a2):
		return b2, true
	case o3 == 0 && onSegment(a1, b1, b2):
		return a1, true
	case o4 == 0 && onSegment(a2, b1, b2):
		return a2, true
	}
	return orb.Point{}, false
}

// Crossing is one self-intersection of a ring: segment I (vertices I, I+1)
// meets segment J.
type Crossing struct {
	I, J int
	At   orb.Point
}

// RingCrossings finds all pairwise intersections between non-adjacent
// segments of a closed ring. The ring must not contain consecutive
// duplicates, otherwise zero-length segments report spurious touches.
func RingCrossings(r orb.Ring) []Crossing {
	n := len(r) - 1 // segment count of a closed ring
	if n < 3 {
		return nil
	}
	var out []Crossing
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue // neighbours share a vertex
			}
			if p, ok := SegmentIntersection(r[i], r[i+1], r[j], r[j+1]); ok {
				out = append(out, Crossing{I: i, J: j, At: p})
			}
		}
	}
	return out
}

// IsSimple reports whether the ring has no self-intersections.
func IsSimple(r orb.Ring) bool {
	return len(RingCrossings(r)) == 0
}

// RingsCross reports whether any segment of a meets any segment of b.
func RingsCross(a, b orb.Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if _, ok := SegmentIntersection(a[i], a[i+1], b[j], b[j+1]); ok {
				return true
			}
		}
	}
	return false
}

// LineCrossings finds intersections between non-adjacent segments of an open line.
func LineCrossings(ls orb.LineString) []Crossing {
	n := len(ls) - 1
	var out []Crossing
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if p, ok := SegmentIntersection(ls[i], ls[i+1], ls[j], ls[j+1]); ok {
				out = append(out, Crossing{I: i, J: j, At: p})
			}
		}
	}
	return out
}

// IsClosed reports whether the first and last vertex coincide.
func IsClosed(r orb.Ring) bool {
	return len(r) > 0 && r[0].Equal(r[len(r)-1])
}
