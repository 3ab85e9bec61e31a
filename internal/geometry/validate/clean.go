package validate

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/geometry"
)

const maxSplitDepth = 8

type CleanReport struct {
	DuplicatesRemoved int      `json:"duplicatesRemoved"`
	PolygonsSplit     int      `json:"polygonsSplit"`
	Warnings          []string `json:"warnings,omitempty"`
}

func (r *CleanReport) add(o CleanReport) {
	r.DuplicatesRemoved += o.DuplicatesRemoved
	r.PolygonsSplit += o.PolygonsSplit
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// Clean returns a repaired copy of f. Consecutive duplicate points are
// removed and self-intersecting polygon rings are split at the crossing.
// A polygon that splits into several parts stays one feature and becomes a
// multipolygon; if splitting cannot produce simple rings the geometry is kept
// as deduplicated and a warning is recorded.
func (v *Validator) Clean(f *feature.Feature) (*feature.Feature, CleanReport) {
	var rep CleanReport
	out := f.Clone()
	if out.Geometry == nil {
		return out, rep
	}

	g, removed := geometry.Dedupe(out.Geometry)
	rep.DuplicatesRemoved = removed

	switch t := g.(type) {
	case orb.Polygon:
		parts, ok := splitPolygon(t)
		switch {
		case !ok:
			rep.Warnings = append(rep.Warnings, "self-intersecting polygon could not be split; kept as is")
		case len(parts) == 1:
			g = parts[0]
		default:
			rep.PolygonsSplit++
			g = parts
		}
	case orb.MultiPolygon:
		var all orb.MultiPolygon
		for i, p := range t {
			parts, ok := splitPolygon(p)
			if !ok {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("part %d could not be split; kept as is", i))
				all = append(all, p)
				continue
			}
			if len(parts) > 1 {
				rep.PolygonsSplit++
			}
			all = append(all, parts...)
		}
		g = all
	}

	out.Geometry = g
	if gt, err := feature.TypeOf(g); err == nil {
		out.GeometryType = gt
	}
	if rep.DuplicatesRemoved > 0 || rep.PolygonsSplit > 0 {
		v.log.Debug("geometry cleaned",
			"duplicates_removed", rep.DuplicatesRemoved,
			"polygons_split", rep.PolygonsSplit)
	}
	return out, rep
}

// CleanCollection cleans every feature and aggregates the reports.
func (v *Validator) CleanCollection(c *feature.Collection) (*feature.Collection, CleanReport) {
	var rep CleanReport
	out := &feature.Collection{CRS: c.CRS, Features: make([]*feature.Feature, 0, len(c.Features))}
	for _, f := range c.Features {
		if f == nil {
			continue
		}
		cf, r := v.Clean(f)
		rep.add(r)
		out.Features = append(out.Features, cf)
	}
	return out, rep
}

// splitPolygon turns one polygon into simple polygons. ok is false when the
// rings cannot be made simple.
func splitPolygon(p orb.Polygon) (orb.MultiPolygon, bool) {
	if len(p) == 0 {
		return nil, false
	}
	shells, ok := splitRing(p[0], 0)
	if !ok || len(shells) == 0 {
		return nil, false
	}
	var holes []orb.Ring
	for _, h := range p[1:] {
		hs, ok := splitRing(h, 0)
		if !ok {
			return nil, false
		}
		holes = append(holes, hs...)
	}

	out := make(orb.MultiPolygon, len(shells))
	for i, s := range shells {
		out[i] = orb.Polygon{s}
	}
	for _, h := range holes {
		owner := 0
		for i, s := range shells {
			if planar.RingContains(s, h[0]) {
				owner = i
				break
			}
		}
		out[owner] = append(out[owner], h)
	}
	return out, true
}

// splitRing cuts r at its first crossing P into P..v[j] and v[0..i],P,v[j+1..]
// and recurses until every piece is simple. Degenerate pieces are dropped.
func splitRing(r orb.Ring, depth int) ([]orb.Ring, bool) {
	r, _ = geometry.DedupeRing(r)
	if len(r) < 4 || planar.Area(r) == 0 {
		return nil, true
	}
	cs := geometry.RingCrossings(r)
	if len(cs) == 0 {
		return []orb.Ring{r}, true
	}
	if depth >= maxSplitDepth {
		return nil, false
	}

	c := cs[0]
	a := make(orb.Ring, 0, c.J-c.I+2)
	a = append(a, c.At)
	a = append(a, r[c.I+1:c.J+1]...)
	a = append(a, c.At)

	b := make(orb.Ring, 0, len(r)-(c.J-c.I)+1)
	b = append(b, r[:c.I+1]...)
	b = append(b, c.At)
	b = append(b, r[c.J+1:]...)

	var out []orb.Ring
	for _, piece := range []orb.Ring{a, b} {
		rs, ok := splitRing(piece, depth+1)
		if !ok {
			return nil, false
		}
		out = append(out, rs...)
	}
	return out, true
}
