package crs

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/geometry"
)

func coords(g orb.Geometry) []orb.Point {
	var out []orb.Point
	geometry.ForEachPoint(g, func(p orb.Point) bool {
		out = append(out, p)
		return true
	})
	return out
}

func TestTransform_RoundTripWithinTolerance(t *testing.T) {
	tr := NewTransformer(nil)
	in := orb.MultiPolygon{
		{{{-122.42, 37.77}, {-122.40, 37.77}, {-122.40, 37.79}, {-122.42, 37.79}, {-122.42, 37.77}}},
		{{{18.06, 59.33}, {18.08, 59.33}, {18.08, 59.35}, {18.06, 59.33}}},
	}

	merc, err := tr.Geometry(in, WGS84, WebMercator)
	if err != nil {
		t.Fatalf("to mercator: %v", err)
	}
	back, err := tr.Geometry(merc, WebMercator, WGS84)
	if err != nil {
		t.Fatalf("to wgs84: %v", err)
	}

	want, got := coords(in), coords(back)
	if len(want) != len(got) {
		t.Fatalf("point count changed %d -> %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(want[i][0]-got[i][0]) > 1e-6 || math.Abs(want[i][1]-got[i][1]) > 1e-6 {
			t.Fatalf("point %d drifted: %v -> %v", i, want[i], got[i])
		}
	}
	if mp := coords(merc); math.Abs(mp[0][0]) < 1e6 {
		t.Fatalf("expected projected meters, got %v", mp[0])
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	tr := NewTransformer(nil)
	in := orb.LineString{{10, 10}, {11, 11}}
	if _, err := tr.Geometry(in, WGS84, WebMercator); err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	if !in[0].Equal(orb.Point{10, 10}) {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestTransform_UnknownCRS(t *testing.T) {
	tr := NewTransformer(nil)
	_, err := tr.Geometry(orb.Point{0, 0}, WGS84, "EPSG:27700")
	if !errors.Is(err, ErrUnknownCRS) {
		t.Fatalf("want ErrUnknownCRS, got %v", err)
	}
	var ue *UnknownCRSError
	if !errors.As(err, &ue) || ue.Code != "EPSG:27700" {
		t.Fatalf("want code in error, got %v", err)
	}
}

func TestTransform_CollectionRewritesTagAndKeepsProperties(t *testing.T) {
	tr := NewTransformer(nil)
	f, err := feature.New("roads", orb.Point{1, 2}, feature.Properties{"kind": feature.String("bridge")})
	if err != nil {
		t.Fatalf("feature.New: %v", err)
	}
	c := feature.NewCollection(WGS84, f)

	out, err := tr.Transform(c, "epsg:4326", "EPSG:900913")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	oc := out.(*feature.Collection)
	if oc.CRS != WebMercator || oc.Features[0].CRS != WebMercator {
		t.Fatalf("crs tag not rewritten: %s / %s", oc.CRS, oc.Features[0].CRS)
	}
	if v, _ := oc.Features[0].Properties.GetString("kind"); v != "bridge" {
		t.Fatalf("properties lost: %v", oc.Features[0].Properties)
	}
	if c.CRS != WGS84 || !c.Features[0].Geometry.(orb.Point).Equal(orb.Point{1, 2}) {
		t.Fatalf("input collection mutated")
	}
}

func TestTransform_CollectionKeepsNilEntries(t *testing.T) {
	tr := NewTransformer(nil)
	f, err := feature.New("roads", orb.Point{1, 2}, nil)
	if err != nil {
		t.Fatalf("feature.New: %v", err)
	}
	c := &feature.Collection{CRS: WGS84, Features: []*feature.Feature{nil, f}}

	oc, err := tr.Collection(c, WGS84, WebMercator)
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if len(oc.Features) != 2 || oc.Features[0] != nil {
		t.Fatalf("nil entry not kept in place: %+v", oc.Features)
	}
	if oc.Features[1].CRS != WebMercator {
		t.Fatalf("crs=%s", oc.Features[1].CRS)
	}
}

func TestRegistry_RegisterCustom(t *testing.T) {
	reg := NewRegistry()
	shift := Projection{
		Code:      "LOCAL:SHIFT",
		ToWGS84:   func(p orb.Point) orb.Point { return orb.Point{p[0] - 100, p[1] - 100} },
		FromWGS84: func(p orb.Point) orb.Point { return orb.Point{p[0] + 100, p[1] + 100} },
	}
	if err := reg.Register(shift); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tr := NewTransformer(reg)
	g, err := tr.Geometry(orb.Point{1, 1}, WGS84, "local:shift")
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	if !g.(orb.Point).Equal(orb.Point{101, 101}) {
		t.Fatalf("got %v", g)
	}
	if err := reg.Register(Projection{Code: "BROKEN"}); err == nil {
		t.Fatalf("projection without functions must be rejected")
	}
}
