package h3mapper

import (
	"reflect"
	"slices"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var stockholm = orb.Bound{Min: orb.Point{17.95, 59.30}, Max: orb.Point{18.15, 59.40}}

func TestBound_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	cells, err := m.CellsForBound(stockholm, 8)
	if err != nil {
		t.Fatalf("CellsForBound err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bbox")
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}
}

func TestPolygon_SubsetOfBoundAndDeterministic(t *testing.T) {
	m := New()
	poly := orb.Polygon{orb.Ring{{18.00, 59.32}, {18.12, 59.32}, {18.12, 59.38}, {18.00, 59.38}, {18.00, 59.32}}}
	res := 9
	cp, err := m.CellsForPolygon(poly, res)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	cb, err := m.CellsForBound(stockholm, res)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if len(cp) == 0 || len(cp) > len(cb) {
		t.Fatalf("polygon cells=%d bbox cells=%d", len(cp), len(cb))
	}
	cp2, _ := m.CellsForPolygon(poly, res)
	if !reflect.DeepEqual(cp, cp2) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestBounds_InvalidResolutionAndDegeneratePolygon(t *testing.T) {
	m := New()
	bb := orb.Bound{Min: orb.Point{11, 55}, Max: orb.Point{12, 56}}
	if _, err := m.CellsForBound(bb, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForBound(bb, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellsForPolygon(orb.Polygon{orb.Ring{}}, 8); err == nil {
		t.Fatalf("expected error for degenerate polygon")
	}
}

func TestCover_IncludesEveryVertexCell(t *testing.T) {
	m := New()
	line := orb.LineString{{18.00, 59.30}, {18.01, 59.31}, {18.05, 59.305}}
	cells, ok, err := m.Cover(line, 9, 10_000)
	if err != nil || !ok {
		t.Fatalf("Cover ok=%v err=%v", ok, err)
	}
	for _, p := range line {
		c, err := m.CellOf(p, 9)
		if err != nil {
			t.Fatalf("CellOf: %v", err)
		}
		if !contains(cells, c) {
			t.Fatalf("cover missing vertex cell %s", c)
		}
	}
}

func TestCover_StraightLineIndexedAlongItsLength(t *testing.T) {
	m := New()
	cases := map[string]orb.Geometry{
		"horizontal": orb.LineString{{0, 10}, {1, 10}},
		"vertical":   orb.LineString{{5, 40}, {5, 41}},
		"sliver":     orb.Polygon{orb.Ring{{0, 20}, {1, 20}, {1, 20.0001}, {0, 20.0001}, {0, 20}}},
	}
	for name, g := range cases {
		cells, ok, err := m.Cover(g, 7, 4096)
		if err != nil || !ok {
			t.Fatalf("%s: Cover ok=%v err=%v", name, ok, err)
		}
		b := g.Bound()
		for i := 0; i <= 100; i++ {
			f := float64(i) / 100
			p := orb.Point{b.Min[0] + f*(b.Max[0]-b.Min[0]), b.Min[1] + f*(b.Max[1]-b.Min[1])}
			c, err := m.CellOf(p, 7)
			if err != nil {
				t.Fatalf("CellOf: %v", err)
			}
			if !contains(cells, c) {
				t.Fatalf("%s: cover missing cell %s at %v", name, c, p)
			}
		}
	}
}

func TestCover_LongLineOverLimit(t *testing.T) {
	m := New()
	_, ok, err := m.Cover(orb.LineString{{-100, 0}, {100, 0}}, 9, 5000)
	if err != nil || ok {
		t.Fatalf("expected oversize; ok=%v err=%v", ok, err)
	}
}

func TestCover_PointGetsDisk(t *testing.T) {
	m := New()
	cells, ok, err := m.Cover(orb.Point{18.07, 59.33}, 7, 100)
	if err != nil || !ok || len(cells) != 7 {
		t.Fatalf("cells=%d ok=%v err=%v", len(cells), ok, err)
	}
}

func TestCover_OverLimit(t *testing.T) {
	m := New()
	world := orb.Polygon{orb.Ring{{-170, -80}, {170, -80}, {170, 80}, {-170, 80}, {-170, -80}}}
	_, ok, err := m.Cover(world, 9, 5000)
	if err != nil || ok {
		t.Fatalf("expected oversize; ok=%v err=%v", ok, err)
	}
}

func TestBoundary_ContainsCellCentre(t *testing.T) {
	m := New()
	p := orb.Point{18.0686, 59.3293}
	c, err := m.CellOf(p, 8)
	if err != nil {
		t.Fatalf("CellOf: %v", err)
	}
	poly, err := m.Boundary(c)
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	if !planar.PolygonContains(poly, p) {
		t.Fatalf("boundary of %s does not contain its source point", c)
	}
	if _, err := m.Boundary("not-a-cell"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}

func contains(xs []string, v string) bool {
	return slices.Contains(xs, v)
}
