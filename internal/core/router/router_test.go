package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/query"
	"github.com/mohammed-shakir/geotemporal/internal/store/memstore"
)

func TestParseBBOX(t *testing.T) {
	b, err := parseBBOX("11.0,55.0,12.0,56.0,EPSG:4326")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := orb.Bound{Min: orb.Point{11, 55}, Max: orb.Point{12, 56}}
	if b != want {
		t.Fatalf("got %+v want %+v", b, want)
	}
	if _, err := parseBBOX("11,55,12,56"); err != nil {
		t.Fatalf("four values: %v", err)
	}
	for _, raw := range []string{"", "11,55,12", "11,55,12,56,EPSG:3857", "a,55,12,56", "NaN,55,12,56"} {
		if _, err := parseBBOX(raw); err == nil || !isBadRequest(err) {
			t.Fatalf("%q: expected bad request, got %v", raw, err)
		}
	}
}

func TestParsePolygon_TypeChecks(t *testing.T) {
	get := func(raw string) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/?polygon="+url.QueryEscape(raw), nil)
	}
	if _, err := parsePolygon(get(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	feat := `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{}}`
	if _, err := parsePolygon(get(feat)); err != nil {
		t.Fatalf("feature wrapper: %v", err)
	}
	if _, err := parsePolygon(get(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`)); err == nil {
		t.Fatal("expected error for non-polygon type")
	}
	if _, err := parsePolygon(get(``)); err == nil {
		t.Fatal("expected error for missing polygon")
	}
}

func newServer(t *testing.T, svc QueryService) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	Mount(r, svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seeded(t *testing.T) *query.Engine {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	for _, p := range []orb.Point{{11.2, 55.2}, {11.8, 55.8}, {20, 60}} {
		f, err := feature.New("towns", p, feature.Properties{"kind": feature.String("town")})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := st.Create(ctx, f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	return query.New(st)
}

type collection struct {
	Type     string `json:"type"`
	Features []struct {
		Properties map[string]any `json:"properties"`
	} `json:"features"`
	Meta query.Meta `json:"meta"`
}

func getJSON(t *testing.T, u string, dst any) int {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestBbox_ReturnsFeatureCollection(t *testing.T) {
	srv := newServer(t, seeded(t))
	var fc collection
	code := getJSON(t, srv.URL+"/v1/features/bbox?bbox=11,55,12,56&layer=towns", &fc)
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 || fc.Meta.Count != 2 || fc.Meta.Kind != query.KindBbox {
		t.Fatalf("fc=%+v", fc)
	}
	if fc.Meta.Filters.LayerID != "towns" {
		t.Fatalf("filters=%+v", fc.Meta.Filters)
	}
}

func TestRadius_CarriesDistances(t *testing.T) {
	srv := newServer(t, seeded(t))
	var fc collection
	code := getJSON(t, srv.URL+"/v1/features/radius?lon=11.2&lat=55.2&radius=100000", &fc)
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features=%d want 2", len(fc.Features))
	}
	if d, _ := fc.Features[0].Properties["distance_m"].(float64); d != 0 {
		t.Fatalf("first distance=%v want 0", d)
	}
}

func TestPolygon_Post(t *testing.T) {
	srv := newServer(t, seeded(t))
	body := `{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`
	resp, err := http.Post(srv.URL+"/v1/features/polygon?format=json", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var res query.FeatureResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || res.Meta.Count != 2 {
		t.Fatalf("status=%d meta=%+v", resp.StatusCode, res.Meta)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestGrid_JSONFormat(t *testing.T) {
	srv := newServer(t, seeded(t))
	var res query.GridResult
	code := getJSON(t, srv.URL+"/v1/grid?bbox=11,55,12,56&size=0.5&format=json", &res)
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(res.Cells) != 2 || res.Meta.Count != 2 {
		t.Fatalf("cells=%+v", res.Cells)
	}
}

func TestHexGrid_DisabledWithoutMapperIs400(t *testing.T) {
	srv := newServer(t, seeded(t))
	var body errorBody
	if code := getJSON(t, srv.URL+"/v1/hexgrid?bbox=11,55,12,56&res=6", &body); code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", code)
	}
}

func TestErrors_Mapping(t *testing.T) {
	srv := newServer(t, seeded(t))
	cases := map[string]int{
		"/v1/features/radius?lat=1&radius=10":               http.StatusBadRequest,
		"/v1/features/radius?lon=1&lat=95&radius=10":        http.StatusBadRequest,
		"/v1/features/bbox?bbox=12,55,11,56":                http.StatusBadRequest,
		"/v1/features/bbox?bbox=11,55,12,56&year=x":         http.StatusBadRequest,
		"/v1/features/bbox?bbox=11,55,12,56&type=Circle":    http.StatusBadRequest,
		"/v1/grid?bbox=11,55,12,56&size=0":                  http.StatusBadRequest,
		"/v1/features/polygon?polygon=%7B%22type%22%3A1%7D": http.StatusBadRequest,
	}
	for path, want := range cases {
		var body errorBody
		if code := getJSON(t, srv.URL+path, &body); code != want || body.Error == "" {
			t.Fatalf("%s: status=%d body=%+v want %d", path, code, body, want)
		}
	}
}

type failing struct{ QueryService }

func (failing) Bbox(context.Context, query.BboxQuery) (query.FeatureResult, error) {
	return query.FeatureResult{}, errors.New("dial tcp 10.0.0.1:5432: connection refused")
}

func TestErrors_InternalDetailIsHidden(t *testing.T) {
	srv := newServer(t, failing{})
	var body errorBody
	code := getJSON(t, srv.URL+"/v1/features/bbox?bbox=11,55,12,56", &body)
	if code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", code)
	}
	if strings.Contains(body.Error, "10.0.0.1") {
		t.Fatalf("leaked detail: %q", body.Error)
	}
}
