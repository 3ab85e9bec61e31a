// Package validate checks normalized features for structural and geometric
// problems and offers a best-effort repair pass.
package validate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/geometry"
)

var ErrInvalid = errors.New("geometry validation failed")

type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err turns an invalid result into a *ValidationError.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Problems: append([]string(nil), r.Errors...)}
}

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

type Validator struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{log: logger}
}

type entry struct {
	geom     orb.Geometry
	from, to *feature.Date
}

type report struct {
	errs  []string
	warns []string
}

func (r *report) errorf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func (r *report) warnf(format string, args ...any) {
	r.warns = append(r.warns, fmt.Sprintf(format, args...))
}

// Validate accepts features and feature collections, either the normalized
// types from package feature or orb geojson values. The input is only read.
func (v *Validator) Validate(in any) Result {
	var rep report
	entries, crs, ok := flatten(in, &rep)
	if ok {
		geodetic := crs == "" || crs == feature.DefaultCRS || crs == "CRS:84"
		if !geodetic {
			rep.warnf("coordinate range check skipped for projected crs %s", crs)
		}
		for i, e := range entries {
			v.check(i, e, geodetic, &rep)
		}
	}
	res := Result{
		Valid:    len(rep.errs) == 0,
		Errors:   rep.errs,
		Warnings: rep.warns,
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	if !res.Valid {
		v.log.Debug("validation failed", "errors", len(res.Errors), "warnings", len(res.Warnings))
	}
	return res
}

func flatten(in any, rep *report) ([]entry, string, bool) {
	switch t := in.(type) {
	case *feature.Feature:
		if t == nil {
			rep.errorf("input is a nil feature")
			return nil, "", false
		}
		return []entry{fromFeature(t)}, t.CRS, true
	case feature.Feature:
		return []entry{fromFeature(&t)}, t.CRS, true
	case []*feature.Feature:
		return fromFeatures(t), "", true
	case *feature.Collection:
		if t == nil {
			rep.errorf("input is a nil feature collection")
			return nil, "", false
		}
		return fromFeatures(t.Features), t.CRS, true
	case *geojson.Feature:
		if t == nil {
			rep.errorf("input is a nil feature")
			return nil, "", false
		}
		return []entry{{geom: t.Geometry}}, "", true
	case *geojson.FeatureCollection:
		if t == nil {
			rep.errorf("input is a nil feature collection")
			return nil, "", false
		}
		out := make([]entry, len(t.Features))
		for i, f := range t.Features {
			if f != nil {
				out[i] = entry{geom: f.Geometry}
			}
		}
		return out, "", true
	default:
		rep.errorf("input must be a feature or feature collection, got %T", in)
		return nil, "", false
	}
}

func fromFeature(f *feature.Feature) entry {
	return entry{geom: f.Geometry, from: f.ValidFrom, to: f.ValidTo}
}

func fromFeatures(fs []*feature.Feature) []entry {
	out := make([]entry, len(fs))
	for i, f := range fs {
		if f == nil {
			continue
		}
		out[i] = fromFeature(f)
	}
	return out
}

func (v *Validator) check(idx int, e entry, geodetic bool, rep *report) {
	if e.geom == nil {
		rep.errorf("feature %d: missing geometry", idx)
		return
	}
	if e.from != nil && e.to != nil && e.to.Before(*e.from) {
		rep.errorf("feature %d: validTo %s precedes validFrom %s", idx, e.to, e.from)
	}
	if _, err := feature.TypeOf(e.geom); err != nil {
		rep.errorf("feature %d: %v", idx, err)
		return
	}

	geometry.ForEachPoint(e.geom, func(p orb.Point) bool {
		checkCoord(idx, p, geodetic, rep)
		return true
	})

	if n := geometry.DuplicateCount(e.geom); n > 0 {
		rep.warnf("feature %d: %d duplicate consecutive point(s)", idx, n)
	}

	switch g := e.geom.(type) {
	case orb.LineString:
		checkLine(idx, -1, g, rep)
	case orb.MultiLineString:
		for i, ls := range g {
			checkLine(idx, i, ls, rep)
		}
	case orb.Polygon:
		checkPolygon(idx, -1, g, rep)
	case orb.MultiPolygon:
		for i, p := range g {
			checkPolygon(idx, i, p, rep)
		}
	case orb.MultiPoint:
		if len(g) == 0 {
			rep.errorf("feature %d: empty multipoint", idx)
		}
	}
}

func checkCoord(idx int, p orb.Point, geodetic bool, rep *report) {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
		rep.errorf("feature %d: non-finite coordinate [%g, %g]", idx, p[0], p[1])
		return
	}
	if !geodetic {
		return
	}
	if p[0] < -180 || p[0] > 180 {
		rep.errorf("feature %d: longitude out of range at [%g, %g]", idx, p[0], p[1])
	}
	if p[1] < -90 || p[1] > 90 {
		rep.errorf("feature %d: latitude out of range at [%g, %g]", idx, p[0], p[1])
	}
}

func part(i int) string {
	if i < 0 {
		return ""
	}
	return fmt.Sprintf(" part %d", i)
}

func checkLine(idx, p int, ls orb.LineString, rep *report) {
	d, _ := geometry.DedupeLine(ls)
	if len(d) < 2 {
		rep.errorf("feature %d%s: line needs at least 2 distinct points", idx, part(p))
	}
}

func checkPolygon(idx, p int, poly orb.Polygon, rep *report) {
	if len(poly) == 0 {
		rep.errorf("feature %d%s: polygon has no rings", idx, part(p))
		return
	}
	for ri, r := range poly {
		if !geometry.IsClosed(r) {
			rep.errorf("feature %d%s ring %d: ring is not closed", idx, part(p), ri)
			continue
		}
		d, _ := geometry.DedupeRing(r)
		if len(d) < 4 {
			rep.errorf("feature %d%s ring %d: ring needs at least 4 points", idx, part(p), ri)
			continue
		}
		for _, c := range geometry.RingCrossings(d) {
			rep.errorf("feature %d%s ring %d: self-intersection at [%g, %g]", idx, part(p), ri, c.At[0], c.At[1])
		}
	}
}
