package router

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

// maxBody caps POSTed polygon documents.
const maxBody = 1 << 20

// badRequest marks a malformed parameter.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func bad(format string, args ...any) error {
	return badRequest{fmt.Errorf(format, args...)}
}

func isBadRequest(err error) bool {
	var br badRequest
	return errors.As(err, &br)
}

// parseBBOX accepts "minLon,minLat,maxLon,maxLat" with an optional trailing
// EPSG:4326.
func parseBBOX(raw string) (orb.Bound, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return orb.Bound{}, bad("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return orb.Bound{}, bad("invalid bbox: expected minLon,minLat,maxLon,maxLat[,EPSG:4326]")
	}
	if len(parts) == 5 {
		if srid := strings.ToUpper(strings.TrimSpace(parts[4])); srid != "EPSG:4326" {
			return orb.Bound{}, bad("invalid bbox: only EPSG:4326 is supported (got %q)", srid)
		}
	}
	var v [4]float64
	for i := range v {
		f, err := parseFloat(parts[i])
		if err != nil {
			return orb.Bound{}, bad("invalid bbox: value %d: %v", i+1, err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}

func requiredFloat(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, bad("missing required parameter: %s", name)
	}
	f, err := parseFloat(raw)
	if err != nil {
		return 0, bad("invalid %s: %v", name, err)
	}
	return f, nil
}

// parseFilters reads layer, type and year.
func parseFilters(r *http.Request) (store.Filters, error) {
	q := r.URL.Query()
	f := store.Filters{LayerID: strings.TrimSpace(q.Get("layer"))}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		gt, err := feature.ParseGeometryType(raw)
		if err != nil {
			return store.Filters{}, bad("invalid type: %v", err)
		}
		f.GeometryType = gt
	}
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			return store.Filters{}, bad("invalid year: %q", raw)
		}
		f.Year = &y
	}
	return f, nil
}

// parsePolygon reads a GeoJSON Polygon geometry from the polygon parameter
// or, for POST, the request body.
func parsePolygon(r *http.Request) (orb.Polygon, error) {
	var raw []byte
	if r.Method == http.MethodPost {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return nil, bad("read body: %v", err)
		}
		if len(b) > maxBody {
			return nil, bad("polygon document exceeds %d bytes", maxBody)
		}
		raw = b
	} else {
		raw = []byte(strings.TrimSpace(r.URL.Query().Get("polygon")))
	}
	if len(raw) == 0 {
		return nil, bad("missing required parameter: polygon")
	}

	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		// accept a Feature wrapping the polygon
		f, ferr := geojson.UnmarshalFeature(raw)
		if ferr != nil || f.Geometry == nil {
			return nil, bad("invalid polygon: %v", err)
		}
		g = geojson.NewGeometry(f.Geometry)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return nil, bad(`invalid polygon: GeoJSON type must be "Polygon" (got %q)`, g.Type)
	}
	return poly, nil
}
