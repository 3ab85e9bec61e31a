package spatial

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func square(x0, y0, x1, y1 float64) orb.Ring {
	return orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}

func TestGeodesicDistance_Equator(t *testing.T) {
	d := GeodesicDistance(orb.Point{0, 0}, orb.Point{1, 0})
	if math.Abs(d-111319.49) > 0.5 {
		t.Fatalf("1 degree at equator = %.2f m", d)
	}
	if GeodesicDistance(orb.Point{10, 10}, orb.Point{10, 10}) != 0 {
		t.Fatalf("same point should be 0")
	}
}

func TestGeodesicDistance_Meridian(t *testing.T) {
	d := GeodesicDistance(orb.Point{0, 0}, orb.Point{0, 1})
	if math.Abs(d-110574.39) > 1 {
		t.Fatalf("1 degree of latitude = %.2f m", d)
	}
}

func TestDistanceTo_InsidePolygonIsZero(t *testing.T) {
	poly := orb.Polygon{square(0, 0, 2, 2)}
	if d := DistanceTo(orb.Point{1, 1}, poly); d != 0 {
		t.Fatalf("inside distance = %v", d)
	}
	d := DistanceTo(orb.Point{3, 1}, poly)
	want := GeodesicDistance(orb.Point{3, 1}, orb.Point{2, 1})
	if math.Abs(d-want) > 50 {
		t.Fatalf("outside distance = %v want ~%v", d, want)
	}
}

func TestDistanceTo_Line(t *testing.T) {
	ls := orb.LineString{{0, -1}, {0, 1}}
	d := DistanceTo(orb.Point{1, 0}, ls)
	want := GeodesicDistance(orb.Point{1, 0}, orb.Point{0, 0})
	if math.Abs(d-want) > 1 {
		t.Fatalf("line distance = %v want %v", d, want)
	}
}

func TestPolygonContainsPoint_Hole(t *testing.T) {
	poly := orb.Polygon{square(0, 0, 10, 10), square(4, 4, 6, 6)}
	if !PolygonContainsPoint(poly, orb.Point{1, 1}) {
		t.Fatalf("shell point not contained")
	}
	if PolygonContainsPoint(poly, orb.Point{5, 5}) {
		t.Fatalf("hole point contained")
	}
}

func TestIntersectsBound(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	cases := []struct {
		name string
		g    orb.Geometry
		want bool
	}{
		{"point inside", orb.Point{0.5, 0.5}, true},
		{"point outside", orb.Point{2, 2}, false},
		{"line crossing", orb.LineString{{-1, 0.5}, {2, 0.5}}, true},
		{"line diagonal miss", orb.LineString{{1.5, -1}, {3, 0.5}}, false},
		{"polygon covering", orb.Polygon{square(-5, -5, 5, 5)}, true},
		{"polygon with hole around bound", orb.Polygon{square(-5, -5, 5, 5), square(-1, -1, 2, 2)}, false},
	}
	for _, tc := range cases {
		if got := IntersectsBound(tc.g, b); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestWithin(t *testing.T) {
	area := orb.Polygon{square(0, 0, 10, 10)}
	if !Within(orb.Point{5, 5}, area) {
		t.Fatalf("point should be within")
	}
	if !Within(orb.Polygon{square(1, 1, 3, 3)}, area) {
		t.Fatalf("small square should be within")
	}
	if Within(orb.Polygon{square(8, 8, 12, 12)}, area) {
		t.Fatalf("overlapping square should not be within")
	}
	if Within(orb.LineString{{1, 1}, {11, 1}}, area) {
		t.Fatalf("line leaving the area should not be within")
	}

	// U shape: both endpoints inside but the segment crosses the notch
	u := orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {10, 10}, {7, 10}, {7, 3}, {3, 3}, {3, 10}, {0, 10}, {0, 0}}}
	if Within(orb.LineString{{1, 8}, {9, 8}}, u) {
		t.Fatalf("segment over the notch should not be within")
	}

	holed := orb.Polygon{square(0, 0, 10, 10), square(4, 4, 6, 6)}
	if Within(orb.Polygon{square(2, 2, 8, 8)}, holed) {
		t.Fatalf("polygon covering a hole should not be within")
	}
}

func TestRadiusBound_WidensAtPole(t *testing.T) {
	b := RadiusBound(orb.Point{0, 89.9}, 50_000)
	if b.Min[0] != -180 || b.Max[0] != 180 || b.Max[1] != 90 {
		t.Fatalf("bound near pole = %+v", b)
	}
	b = RadiusBound(orb.Point{10, 10}, 1000)
	if !b.Contains(orb.Point{10, 10}) || b.Max[0]-b.Min[0] > 0.1 {
		t.Fatalf("bound = %+v", b)
	}
}
