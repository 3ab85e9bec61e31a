package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_BBoxHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: OpDelete, Layer: "places", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := Event{Version: 1, Op: OpInsert, Layer: "places", TS: mustTS()}
	cases := map[string]func(e *Event){
		"version":  func(e *Event) { e.Version = 2 },
		"op":       func(e *Event) { e.Op = "upsert" },
		"layer":    func(e *Event) { e.Layer = " " },
		"ts":       func(e *Event) { e.TS = time.Time{} },
		"srid":     func(e *Event) { e.BBox = &BBox{X1: 0, Y1: 0, X2: 1, Y2: 1, SRID: "EPSG:3857"} },
		"inverted": func(e *Event) { e.BBox = &BBox{X1: 12, Y1: 55, X2: 11, Y2: 56, SRID: "EPSG:4326"} },
		"range":    func(e *Event) { e.BBox = &BBox{X1: 0, Y1: 0, X2: 181, Y2: 1, SRID: "EPSG:4326"} },
	}
	for name, mut := range cases {
		ev := base
		mut(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestFromFeature_PointGivesDegenerateBox(t *testing.T) {
	f, err := feature.New("stations", orb.Point{18, 59}, feature.Properties{"source": feature.String("climate")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ID = "f1"
	ev := FromFeature(OpInsert, f, mustTS())
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ev.BBox.X1 != 18 || ev.BBox.X2 != 18 || ev.Source != "climate" || ev.FeatureID != "f1" {
		t.Fatalf("event=%+v bbox=%+v", ev, ev.BBox)
	}
}

type bumps struct {
	layers []string
	err    error
}

func (b *bumps) Bump(_ context.Context, layers ...string) error {
	b.layers = append(b.layers, layers...)
	return b.err
}

func TestDirect_BumpsLayer(t *testing.T) {
	b := &bumps{}
	d := NewDirect(b)
	f, _ := feature.New("roads", orb.LineString{{0, 0}, {1, 1}}, nil)
	if err := d.FeatureCreated(context.Background(), f); err != nil {
		t.Fatalf("FeatureCreated: %v", err)
	}
	if len(b.layers) != 1 || b.layers[0] != "roads" {
		t.Fatalf("bumped=%v", b.layers)
	}

	b.err = errors.New("redis down")
	if err := d.FeatureCreated(context.Background(), f); err == nil {
		t.Fatalf("expected bump error to surface")
	}
}

func TestFromFeature_ProjectedFeatureHasNoBox(t *testing.T) {
	f, err := feature.New("stations", orb.Point{2003750, 8254738}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.CRS = "EPSG:3857"
	ev := FromFeature(OpInsert, f, mustTS())
	if ev.BBox != nil {
		t.Fatalf("bbox=%+v want none", ev.BBox)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
