// Package invalidation defines the feature change event that ingestion
// emits and the query cache consumes.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

type Event struct {
	Version   int       `json:"version"`
	Op        string    `json:"op"`
	Layer     string    `json:"layer"`
	TS        time.Time `json:"ts"`
	FeatureID string    `json:"feature_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	BBox      *BBox     `json:"bbox,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

// FromFeature describes f with its envelope. Point features produce a
// degenerate box. Features outside EPSG:4326 carry no box, so consumers
// fall back to a layer-wide bump.
func FromFeature(op string, f *feature.Feature, now time.Time) Event {
	ev := Event{Version: 1, Op: op, Layer: f.LayerID, TS: now.UTC(), FeatureID: f.ID}
	if s, ok := f.Properties.GetString("source"); ok {
		ev.Source = s
	}
	if f.Geometry != nil && (f.CRS == "" || f.CRS == feature.DefaultCRS) {
		b := f.Geometry.Bound()
		ev.BBox = &BBox{X1: b.Min[0], Y1: b.Min[1], X2: b.Max[0], Y2: b.Max[1], SRID: "EPSG:4326"}
	}
	return ev
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return nil
	}
	bb := *e.BBox
	if bb.SRID != "EPSG:4326" {
		return fmt.Errorf("bbox.srid must be EPSG:4326")
	}
	for _, v := range []float64{bb.X1, bb.Y1, bb.X2, bb.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox must be finite")
		}
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if bb.X2 < bb.X1 || bb.Y2 < bb.Y1 {
		return fmt.Errorf("bbox must satisfy x2>=x1 and y2>=y1")
	}
	return nil
}

// Bumper advances the query-cache generation of layers. It is implemented
// by resultcache.Cache.
type Bumper interface {
	Bump(ctx context.Context, layers ...string) error
}

// Direct invalidates in-process on every created feature, for deployments
// without a broker.
type Direct struct {
	b Bumper
}

func NewDirect(b Bumper) *Direct { return &Direct{b: b} }

func (d *Direct) FeatureCreated(ctx context.Context, f *feature.Feature) error {
	if f == nil || f.LayerID == "" {
		return errors.New("invalidation: feature without layer")
	}
	return d.b.Bump(ctx, f.LayerID)
}
