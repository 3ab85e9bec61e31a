// Package imagery imports scene footprints from a STAC-style item search.
// Each scene may carry a thumbnail that is probed for its size and format.
package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // thumbnail decoders
	_ "image/png"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
)

const Name = "imagery"

type Source struct {
	endpoint string
	log      *slog.Logger
}

func New(endpoint string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{endpoint: strings.TrimSpace(endpoint), log: log}
}

func Factory(cfg ingest.SourceConfig, log *slog.Logger) (ingest.Source, error) {
	return New(cfg.Endpoint, log), nil
}

// Thumbnail is what the probe learned about a scene preview.
type Thumbnail struct {
	Href   string
	Width  int
	Height int
	Format string
	Err    string
}

// Scene is the payload of one fetched item.
type Scene struct {
	Item  *geojson.Feature
	Thumb *Thumbnail
}

type asset struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

func (s *Source) Name() string { return Name }

func (s *Source) Validate(p ingest.Params) error {
	if v := p.Option("maxCloud"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n < 0 || n > 100 {
			return ingest.Invalid("maxCloud", "must be a number in 0..100, got %q", v)
		}
	}
	if v := p.Option("probe"); v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			return ingest.Invalid("probe", "must be a boolean, got %q", v)
		}
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, f ingest.Fetcher, p ingest.Params) ([]ingest.RawRecord, error) {
	ep := s.endpoint
	if p.Endpoint != "" {
		ep = p.Endpoint
	}
	if ep == "" {
		return nil, ingest.Unavailable(Name, "no catalog endpoint configured")
	}

	q := url.Values{}
	if b := p.Bbox; b != nil {
		q.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", b.Min[0], b.Min[1], b.Max[0], b.Max[1]))
	}
	if dt := datetimeRange(p); dt != "" {
		q.Set("datetime", dt)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if c := p.Option("collection"); c != "" {
		q.Set("collections", c)
	}

	resp, err := f.Request(ctx, ep, ratelimit.Options{Query: q, Header: map[string][]string{"Accept": {"application/geo+json"}}})
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode item collection: %w", err)
	}

	maxCloud := 100.0
	if v := p.Option("maxCloud"); v != "" {
		maxCloud, _ = strconv.ParseFloat(v, 64)
	}
	probe, _ := strconv.ParseBool(p.Option("probe"))

	out := make([]ingest.RawRecord, 0, len(fc.Features))
	for i, it := range fc.Features {
		if cc, ok := it.Properties["eo:cloud_cover"].(float64); ok && cc > maxCloud {
			continue
		}
		sc := &Scene{Item: it}
		if href := thumbnailHref(it); href != "" {
			sc.Thumb = &Thumbnail{Href: href}
			if probe {
				s.probe(ctx, f, sc.Thumb)
			}
		}
		ref := fmt.Sprint(it.ID)
		if it.ID == nil {
			ref = "#" + strconv.Itoa(i)
		}
		out = append(out, ingest.RawRecord{Ref: ref, Payload: sc})
	}
	s.log.DebugContext(ctx, "scenes fetched", "items", len(fc.Features), "kept", len(out))
	return out, nil
}

func datetimeRange(p ingest.Params) string {
	if p.From == nil && p.To == nil {
		return ""
	}
	from, to := "..", ".."
	if p.From != nil {
		from = p.From.Time().Format(time.RFC3339)
	}
	if p.To != nil {
		to = p.To.Time().Add(24*time.Hour - time.Second).Format(time.RFC3339)
	}
	return from + "/" + to
}

func thumbnailHref(it *geojson.Feature) string {
	raw, ok := it.ExtraMembers["assets"]
	if !ok {
		return ""
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	var assets map[string]asset
	if err := json.Unmarshal(b, &assets); err != nil {
		return ""
	}
	for _, k := range []string{"thumbnail", "preview", "overview"} {
		if a, ok := assets[k]; ok && a.Href != "" {
			return a.Href
		}
	}
	return ""
}

// probe downloads the thumbnail and reads only its header. Failures are
// recorded on the thumbnail and never fail the item.
func (s *Source) probe(ctx context.Context, f ingest.Fetcher, th *Thumbnail) {
	resp, err := f.Request(ctx, th.Href, ratelimit.Options{})
	if err != nil {
		th.Err = err.Error()
		s.log.WarnContext(ctx, "thumbnail probe failed", "href", th.Href, "err", err)
		return
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(resp.Body))
	if err != nil {
		th.Err = err.Error()
		return
	}
	th.Width, th.Height, th.Format = cfg.Width, cfg.Height, format
}

// Convert keeps the item's footprint and properties. The acquisition
// interval comes from start_datetime/end_datetime when present and from
// datetime otherwise.
func (s *Source) Convert(r ingest.RawRecord, p ingest.Params) (*feature.Feature, error) {
	sc, ok := r.Payload.(*Scene)
	if !ok || sc.Item == nil {
		return nil, fmt.Errorf("imagery: unexpected payload %T", r.Payload)
	}
	it := sc.Item
	if it.Geometry == nil {
		return nil, fmt.Errorf("scene %s has no footprint", r.Ref)
	}

	raw := make(map[string]any, len(it.Properties))
	for k, v := range it.Properties {
		raw[k] = v
	}
	from, to, err := interval(raw)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", r.Ref, err)
	}
	for _, k := range []string{"datetime", "start_datetime", "end_datetime"} {
		delete(raw, k)
	}
	props, err := feature.PropertiesFrom(raw)
	if err != nil {
		return nil, err
	}
	props["scene_id"] = feature.String(r.Ref)
	if th := sc.Thumb; th != nil {
		props["thumbnail"] = feature.String(th.Href)
		if th.Format != "" {
			props["thumbnail_width"] = feature.Int(th.Width)
			props["thumbnail_height"] = feature.Int(th.Height)
			props["thumbnail_format"] = feature.String(th.Format)
		}
		if th.Err != "" {
			props["thumbnail_error"] = feature.String(th.Err)
		}
	}

	f, err := feature.New(p.LayerID, it.Geometry, props)
	if err != nil {
		return nil, err
	}
	f.Name = r.Ref
	if title, ok := props.GetString("title"); ok && title != "" {
		f.Name = title
	}
	f.ValidFrom, f.ValidTo = from, to
	return f, nil
}

func interval(props map[string]any) (from, to *feature.Date, err error) {
	parse := func(key string) (*feature.Date, error) {
		v, ok := props[key].(string)
		if !ok || v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return feature.DateOf(t).Ptr(), nil
	}
	if from, err = parse("start_datetime"); err != nil {
		return nil, nil, err
	}
	if to, err = parse("end_datetime"); err != nil {
		return nil, nil, err
	}
	if from != nil || to != nil {
		return from, to, nil
	}
	at, err := parse("datetime")
	if err != nil {
		return nil, nil, err
	}
	return at, at, nil
}

// Fallback is a strip of four adjacent scenes over the requested area.
func (s *Source) Fallback(p ingest.Params) []ingest.RawRecord {
	b := orb.Bound{Min: orb.Point{11.0, 55.0}, Max: orb.Point{15.0, 56.0}}
	if p.Bbox != nil {
		b = *p.Bbox
	}
	day := feature.NewDate(2021, time.June, 1)
	if p.From != nil {
		day = *p.From
	}
	w := (b.Max[0] - b.Min[0]) / 4
	out := make([]ingest.RawRecord, 0, 4)
	for i := 0; i < 4; i++ {
		tile := orb.Bound{
			Min: orb.Point{b.Min[0] + w*float64(i), b.Min[1]},
			Max: orb.Point{b.Min[0] + w*float64(i+1), b.Max[1]},
		}
		it := geojson.NewFeature(tile.ToPolygon())
		it.ID = fmt.Sprintf("fallback-%d", i)
		it.Properties["datetime"] = day.Time().AddDate(0, 0, 5*i).Format(time.RFC3339)
		it.Properties["platform"] = "synthetic"
		it.Properties["eo:cloud_cover"] = float64(10 * i)
		out = append(out, ingest.RawRecord{Ref: fmt.Sprint(it.ID), Payload: &Scene{Item: it}})
	}
	return out
}
