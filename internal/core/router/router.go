// Package router exposes the spatial-temporal query engine over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotemporal/internal/query"
)

// QueryService is satisfied by *query.Engine.
type QueryService interface {
	Bbox(ctx context.Context, q query.BboxQuery) (query.FeatureResult, error)
	Radius(ctx context.Context, q query.RadiusQuery) (query.FeatureResult, error)
	Polygon(ctx context.Context, q query.PolygonQuery) (query.FeatureResult, error)
	Grid(ctx context.Context, q query.GridQuery) (query.GridResult, error)
	HexGrid(ctx context.Context, q query.HexGridQuery) (query.HexGridResult, error)
}

type handler struct {
	svc QueryService
	log *slog.Logger
}

// Mount registers the /v1 query routes on r.
func Mount(r chi.Router, svc QueryService, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{svc: svc, log: log}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/features/bbox", h.bbox)
		r.Get("/features/radius", h.radius)
		r.Get("/features/polygon", h.polygon)
		r.Post("/features/polygon", h.polygon)
		r.Get("/grid", h.grid)
		r.Get("/hexgrid", h.hexgrid)
	})
}

func (h *handler) bbox(w http.ResponseWriter, r *http.Request) {
	b, err := parseBBOX(r.URL.Query().Get("bbox"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flt, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Bbox(r.Context(), query.BboxQuery{Bound: b, Filters: flt})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.features(w, r, res)
}

func (h *handler) radius(w http.ResponseWriter, r *http.Request) {
	lon, err := requiredFloat(r, "lon")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lat, err := requiredFloat(r, "lat")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	meters, err := requiredFloat(r, "radius")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flt, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Radius(r.Context(), query.RadiusQuery{Center: orb.Point{lon, lat}, Meters: meters, Filters: flt})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.features(w, r, res)
}

func (h *handler) polygon(w http.ResponseWriter, r *http.Request) {
	poly, err := parsePolygon(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flt, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Polygon(r.Context(), query.PolygonQuery{Polygon: poly, Filters: flt})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.features(w, r, res)
}

func (h *handler) grid(w http.ResponseWriter, r *http.Request) {
	b, err := parseBBOX(r.URL.Query().Get("bbox"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	size, err := requiredFloat(r, "size")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flt, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Grid(r.Context(), query.GridQuery{Bound: b, CellSize: size, Filters: flt})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !wantGeoJSON(r) {
		h.write(w, r, res)
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, c := range res.Cells {
		gf := geojson.NewFeature(c.Geometry)
		gf.Properties["x"] = c.X
		gf.Properties["y"] = c.Y
		gf.Properties["count"] = c.Count
		fc.Append(gf)
	}
	fc.ExtraMembers = geojson.Properties{"meta": res.Meta}
	h.write(w, r, fc)
}

func (h *handler) hexgrid(w http.ResponseWriter, r *http.Request) {
	b, err := parseBBOX(r.URL.Query().Get("bbox"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res := 7
	if raw := strings.TrimSpace(r.URL.Query().Get("res")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, bad("invalid res: %q", raw))
			return
		}
		res = n
	}
	flt, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.HexGrid(r.Context(), query.HexGridQuery{Bound: b, Res: res, Filters: flt})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !wantGeoJSON(r) {
		h.write(w, r, out)
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, c := range out.Cells {
		gf := geojson.NewFeature(c.Geometry)
		gf.ID = c.Cell
		gf.Properties["cell"] = c.Cell
		gf.Properties["count"] = c.Count
		fc.Append(gf)
	}
	fc.ExtraMembers = geojson.Properties{"meta": out.Meta}
	h.write(w, r, fc)
}

// features renders a FeatureCollection with the result metadata as a
// foreign member. Radius results carry distance_m per feature.
func (h *handler) features(w http.ResponseWriter, r *http.Request, res query.FeatureResult) {
	if !wantGeoJSON(r) {
		h.write(w, r, res)
		return
	}
	fc := geojson.NewFeatureCollection()
	for i, f := range res.Features {
		gf := f.GeoJSON()
		if i < len(res.Distances) {
			gf.Properties["distance_m"] = res.Distances[i]
		}
		fc.Append(gf)
	}
	fc.ExtraMembers = geojson.Properties{"meta": res.Meta}
	h.write(w, r, fc)
}

// wantGeoJSON is false only for format=json.
func wantGeoJSON(r *http.Request) bool {
	return !strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "json")
}

func (h *handler) write(w http.ResponseWriter, r *http.Request, v any) {
	ct := "application/geo+json"
	if !wantGeoJSON(r) {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WarnContext(r.Context(), "write response", "err", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// fail maps malformed parameters and rejected queries to 400. Anything
// else is logged and reported without detail.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case isBadRequest(err), errors.Is(err, query.ErrInvalidQuery):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusServiceUnavailable, "request cancelled"
	default:
		h.log.ErrorContext(r.Context(), "query failed", "path", r.URL.Path, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
