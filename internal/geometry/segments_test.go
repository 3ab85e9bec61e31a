package geometry

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestSegmentIntersection_Crossing(t *testing.T) {
	p, ok := SegmentIntersection(orb.Point{0, 0}, orb.Point{2, 2}, orb.Point{0, 2}, orb.Point{2, 0})
	if !ok {
		t.Fatalf("expected crossing")
	}
	if !p.Equal(orb.Point{1, 1}) {
		t.Fatalf("at=%v want [1 1]", p)
	}
}

func TestSegmentIntersection_ParallelDisjoint(t *testing.T) {
	if _, ok := SegmentIntersection(orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{0, 1}, orb.Point{1, 1}); ok {
		t.Fatalf("parallel segments must not intersect")
	}
}

func TestSegmentIntersection_CollinearOverlap(t *testing.T) {
	p, ok := SegmentIntersection(orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{1, 0}, orb.Point{3, 0})
	if !ok {
		t.Fatalf("expected overlap")
	}
	if !p.Equal(orb.Point{1, 0}) {
		t.Fatalf("at=%v want [1 0]", p)
	}
}

func TestRingCrossings_Bowtie(t *testing.T) {
	bowtie := orb.Ring{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}
	cs := RingCrossings(bowtie)
	if len(cs) != 1 {
		t.Fatalf("crossings=%d want 1 (%+v)", len(cs), cs)
	}
	if cs[0].I != 0 || cs[0].J != 2 || !cs[0].At.Equal(orb.Point{1, 1}) {
		t.Fatalf("unexpected crossing %+v", cs[0])
	}
}

func TestRingCrossings_SquareIsSimple(t *testing.T) {
	sq := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	if !IsSimple(sq) {
		t.Fatalf("square reported as self-intersecting: %+v", RingCrossings(sq))
	}
}

func TestRingCrossings_FindsNonAdjacentTouch(t *testing.T) {
	// figure-eight sharing vertex (1,1) through two non-adjacent segments
	r := orb.Ring{{0, 0}, {1, 1}, {2, 0}, {2, 2}, {1, 1}, {0, 2}, {0, 0}}
	if IsSimple(r) {
		t.Fatalf("touching ring must not be simple")
	}
}

func TestDedupeRing_KeepsClosure(t *testing.T) {
	r := orb.Ring{{0, 0}, {0, 0}, {1, 0}, {1, 1}, {1, 1}, {0, 1}, {0, 0}}
	out, removed := DedupeRing(r)
	if removed != 2 {
		t.Fatalf("removed=%d want 2", removed)
	}
	if len(out) != 5 || !IsClosed(out) {
		t.Fatalf("unexpected ring %v", out)
	}
	if len(r) != 7 {
		t.Fatalf("input mutated")
	}
}

func TestPointCount_AndDuplicateCount(t *testing.T) {
	mp := orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		{{{5, 5}, {5, 5}, {6, 5}, {6, 6}, {5, 5}}},
	}
	if n := PointCount(mp); n != 9 {
		t.Fatalf("PointCount=%d want 9", n)
	}
	if n := DuplicateCount(mp); n != 1 {
		t.Fatalf("DuplicateCount=%d want 1", n)
	}
}
