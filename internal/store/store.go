// Package store defines the persistence contract the importer writes to and
// the query engine reads from.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
)

var ErrNotFound = errors.New("feature not found")

// Filters narrows every read path. Nil/empty fields are unconstrained.
type Filters struct {
	LayerID      string
	GeometryType feature.GeometryType
	Year         *int
}

// Date converts Year to January 1st of that year.
func (f Filters) Date() (feature.Date, bool) {
	if f.Year == nil {
		return feature.Date{}, false
	}
	return feature.YearStart(*f.Year), true
}

// Match applies the attribute and validity-interval filters to ft.
func (f Filters) Match(ft *feature.Feature) bool {
	if ft == nil {
		return false
	}
	if f.LayerID != "" && ft.LayerID != f.LayerID {
		return false
	}
	if f.GeometryType != "" && ft.GeometryType != f.GeometryType {
		return false
	}
	if d, ok := f.Date(); ok && !ft.ValidAt(d) {
		return false
	}
	return true
}

// Store is implemented by the in-memory, Redis and PostGIS backends.
// A feature returned by Create is visible to every subsequent read.
type Store interface {
	Create(ctx context.Context, f *feature.Feature) (*feature.Feature, error)
	Get(ctx context.Context, id string) (*feature.Feature, error)
	FindInBbox(ctx context.Context, b orb.Bound, f Filters) ([]*feature.Feature, error)
	// FindNearPoint returns features whose nearest point lies within meters
	// of p, measured on the WGS84 ellipsoid.
	FindNearPoint(ctx context.Context, p orb.Point, meters float64, f Filters) ([]*feature.Feature, error)
	FindInPolygon(ctx context.Context, poly orb.Polygon, f Filters) ([]*feature.Feature, error)
	Count(ctx context.Context, f Filters) (int, error)
}

// Error wraps a backend failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Prepare validates f and returns a clone ready to persist under id.
func Prepare(f *feature.Feature, id string) (*feature.Feature, error) {
	if f == nil {
		return nil, feature.ErrMissingGeometry
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	out := f.Clone()
	out.ID = id
	if out.GeometryType == "" {
		out.GeometryType, _ = feature.TypeOf(out.Geometry)
	}
	if out.CRS == "" {
		out.CRS = feature.DefaultCRS
	}
	return out, nil
}
