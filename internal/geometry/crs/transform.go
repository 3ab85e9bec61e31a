package crs

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
)

type Transformer struct {
	reg *Registry
}

func NewTransformer(reg *Registry) *Transformer {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Transformer{reg: reg}
}

func (t *Transformer) Registry() *Registry { return t.reg }

func (t *Transformer) projection(from, to string) (orb.Projection, error) {
	src, err := t.reg.Lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := t.reg.Lookup(to)
	if err != nil {
		return nil, err
	}
	if src.Code == dst.Code {
		return identity, nil
	}
	return func(p orb.Point) orb.Point {
		return dst.FromWGS84(src.ToWGS84(p))
	}, nil
}

// Geometry returns a reprojected deep copy of g.
func (t *Transformer) Geometry(g orb.Geometry, from, to string) (orb.Geometry, error) {
	proj, err := t.projection(from, to)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, nil
	}
	return project.Geometry(orb.Clone(g), proj), nil
}

// Feature returns a reprojected copy of f tagged with to.
func (t *Transformer) Feature(f *feature.Feature, from, to string) (*feature.Feature, error) {
	proj, err := t.projection(from, to)
	if err != nil {
		return nil, err
	}
	out := f.Clone()
	if out.Geometry != nil {
		out.Geometry = project.Geometry(out.Geometry, proj)
	}
	out.CRS = canonical(t.reg, to)
	return out, nil
}

// Collection returns a reprojected copy of every feature in c.
func (t *Transformer) Collection(c *feature.Collection, from, to string) (*feature.Collection, error) {
	proj, err := t.projection(from, to)
	if err != nil {
		return nil, err
	}
	code := canonical(t.reg, to)
	out := c.Clone()
	out.CRS = code
	for _, f := range out.Features {
		if f == nil {
			continue
		}
		if f.Geometry != nil {
			f.Geometry = project.Geometry(f.Geometry, proj)
		}
		f.CRS = code
	}
	return out, nil
}

// Transform dispatches on the structure type: collection, feature or bare
// geometry. The input is never modified.
func (t *Transformer) Transform(v any, from, to string) (any, error) {
	switch x := v.(type) {
	case *feature.Collection:
		return t.Collection(x, from, to)
	case *feature.Feature:
		return t.Feature(x, from, to)
	case orb.Geometry:
		return t.Geometry(x, from, to)
	default:
		return nil, fmt.Errorf("crs: cannot transform %T", v)
	}
}

func canonical(reg *Registry, code string) string {
	if p, err := reg.Lookup(code); err == nil {
		return p.Code
	}
	return code
}
