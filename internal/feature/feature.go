// Package feature defines the normalized geographic entity produced by
// ingestion and served by queries.
package feature

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const DefaultCRS = "EPSG:4326"

var (
	ErrInvalidInterval = errors.New("validTo precedes validFrom")
	ErrMissingGeometry = errors.New("missing geometry")
	ErrUnsupportedType = errors.New("unsupported geometry type")
)

type GeometryType string

const (
	TypePoint        GeometryType = "point"
	TypeMultiPoint   GeometryType = "multipoint"
	TypeLine         GeometryType = "line"
	TypeMultiLine    GeometryType = "multiline"
	TypePolygon      GeometryType = "polygon"
	TypeMultiPolygon GeometryType = "multipolygon"
)

func ParseGeometryType(s string) (GeometryType, error) {
	switch t := GeometryType(s); t {
	case TypePoint, TypeMultiPoint, TypeLine, TypeMultiLine, TypePolygon, TypeMultiPolygon:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// TypeOf maps an orb geometry onto the feature geometry vocabulary.
func TypeOf(g orb.Geometry) (GeometryType, error) {
	switch g.(type) {
	case orb.Point:
		return TypePoint, nil
	case orb.MultiPoint:
		return TypeMultiPoint, nil
	case orb.LineString:
		return TypeLine, nil
	case orb.MultiLineString:
		return TypeMultiLine, nil
	case orb.Polygon:
		return TypePolygon, nil
	case orb.MultiPolygon:
		return TypeMultiPolygon, nil
	case nil:
		return "", ErrMissingGeometry
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, g.GeoJSONType())
	}
}

type Feature struct {
	ID           string
	LayerID      string
	Name         string
	GeometryType GeometryType
	Geometry     orb.Geometry
	Properties   Properties
	ValidFrom    *Date
	ValidTo      *Date
	CRS          string
}

// New builds a feature and derives its geometry type.
func New(layerID string, g orb.Geometry, props Properties) (*Feature, error) {
	gt, err := TypeOf(g)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = Properties{}
	}
	return &Feature{
		LayerID:      layerID,
		GeometryType: gt,
		Geometry:     g,
		Properties:   props,
		CRS:          DefaultCRS,
	}, nil
}

// CheckInterval rejects an inverted validity interval.
func (f *Feature) CheckInterval() error {
	if f.ValidFrom != nil && f.ValidTo != nil && f.ValidTo.Before(*f.ValidFrom) {
		return fmt.Errorf("%w: %s < %s", ErrInvalidInterval, f.ValidTo, f.ValidFrom)
	}
	return nil
}

// Check is run by stores before a feature is written.
func (f *Feature) Check() error {
	if f.Geometry == nil {
		return ErrMissingGeometry
	}
	gt, err := TypeOf(f.Geometry)
	if err != nil {
		return err
	}
	if f.GeometryType != "" && f.GeometryType != gt {
		return fmt.Errorf("geometry type %q does not match geometry %s", f.GeometryType, f.Geometry.GeoJSONType())
	}
	return f.CheckInterval()
}

// ValidAt reports whether d falls within [ValidFrom, ValidTo]; unset bounds are open.
func (f *Feature) ValidAt(d Date) bool {
	if f.ValidFrom != nil && f.ValidFrom.After(d) {
		return false
	}
	if f.ValidTo != nil && f.ValidTo.Before(d) {
		return false
	}
	return true
}

// Clone deep-copies the feature including its geometry.
func (f *Feature) Clone() *Feature {
	cp := *f
	if f.Geometry != nil {
		cp.Geometry = orb.Clone(f.Geometry)
	}
	cp.Properties = f.Properties.Clone()
	if f.ValidFrom != nil {
		cp.ValidFrom = f.ValidFrom.Ptr()
	}
	if f.ValidTo != nil {
		cp.ValidTo = f.ValidTo.Ptr()
	}
	return &cp
}

func (f *Feature) ItemID() string {
	if f == nil {
		return ""
	}
	return f.ID
}

func (f *Feature) ItemName() string {
	if f == nil {
		return ""
	}
	return f.Name
}

// GeoJSON converts to an orb geojson feature; the feature fields ride along
// as properties so nothing is lost.
func (f *Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	if f.ID != "" {
		gf.ID = f.ID
	}
	gf.Properties = f.Properties.Map()
	if f.Name != "" {
		gf.Properties["name"] = f.Name
	}
	gf.Properties["layerId"] = f.LayerID
	if f.ValidFrom != nil {
		gf.Properties["validFrom"] = f.ValidFrom.String()
	}
	if f.ValidTo != nil {
		gf.Properties["validTo"] = f.ValidTo.String()
	}
	return gf
}

type wireFeature struct {
	Type         string            `json:"type"`
	ID           string            `json:"id,omitempty"`
	LayerID      string            `json:"layerId"`
	Name         string            `json:"name,omitempty"`
	GeometryType GeometryType      `json:"geometryType"`
	Geometry     *geojson.Geometry `json:"geometry"`
	Properties   Properties        `json:"properties"`
	ValidFrom    *Date             `json:"validFrom,omitempty"`
	ValidTo      *Date             `json:"validTo,omitempty"`
	CRS          string            `json:"crs,omitempty"`
}

func (f Feature) MarshalJSON() ([]byte, error) {
	w := wireFeature{
		Type:         "Feature",
		ID:           f.ID,
		LayerID:      f.LayerID,
		Name:         f.Name,
		GeometryType: f.GeometryType,
		Properties:   f.Properties,
		ValidFrom:    f.ValidFrom,
		ValidTo:      f.ValidTo,
		CRS:          f.CRS,
	}
	if f.Geometry != nil {
		w.Geometry = geojson.NewGeometry(f.Geometry)
	}
	if w.Properties == nil {
		w.Properties = Properties{}
	}
	return json.Marshal(w)
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	var w wireFeature
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = Feature{
		ID:           w.ID,
		LayerID:      w.LayerID,
		Name:         w.Name,
		GeometryType: w.GeometryType,
		Properties:   w.Properties,
		ValidFrom:    w.ValidFrom,
		ValidTo:      w.ValidTo,
		CRS:          w.CRS,
	}
	if w.Geometry != nil {
		f.Geometry = w.Geometry.Geometry()
		if f.GeometryType == "" {
			gt, err := TypeOf(f.Geometry)
			if err != nil {
				return err
			}
			f.GeometryType = gt
		}
	}
	if f.Properties == nil {
		f.Properties = Properties{}
	}
	return nil
}

// Collection is an ordered set of features sharing one CRS tag.
type Collection struct {
	CRS      string     `json:"crs,omitempty"`
	Features []*Feature `json:"features"`
}

func NewCollection(crs string, fs ...*Feature) *Collection {
	if crs == "" {
		crs = DefaultCRS
	}
	return &Collection{CRS: crs, Features: fs}
}

func (c *Collection) Clone() *Collection {
	out := &Collection{CRS: c.CRS, Features: make([]*Feature, len(c.Features))}
	for i, f := range c.Features {
		if f != nil {
			out.Features[i] = f.Clone()
		}
	}
	return out
}

// GeoJSON renders a FeatureCollection.
func (c *Collection) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range c.Features {
		fc.Append(f.GeoJSON())
	}
	return fc
}
