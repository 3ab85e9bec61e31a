// Package events imports natural-event observations (fires, storms,
// volcanic activity) from a satellite event feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
)

const Name = "events"

type Source struct {
	endpoint string
	apiKey   string
	log      *slog.Logger
}

func New(endpoint, apiKey string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey), log: log}
}

func Factory(cfg ingest.SourceConfig, log *slog.Logger) (ingest.Source, error) {
	return New(cfg.Endpoint, cfg.APIKey, log), nil
}

type observation struct {
	Date     time.Time         `json:"date"`
	Geometry *geojson.Geometry `json:"geometry"`
}

type category struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type event struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Closed       *time.Time    `json:"closed"`
	Categories   []category    `json:"categories"`
	Observations []observation `json:"observations"`
	Magnitude    *float64      `json:"magnitude,omitempty"`
	Link         string        `json:"link,omitempty"`
}

type feed struct {
	Events []event `json:"events"`
}

func (s *Source) Name() string { return Name }

func (s *Source) Validate(p ingest.Params) error {
	if st := p.Option("status"); st != "" && st != "open" && st != "closed" && st != "all" {
		return ingest.Invalid("status", "must be open, closed or all")
	}
	if c := p.Option("category"); strings.ContainsAny(c, " /?&") {
		return ingest.Invalid("category", "must be a single category id")
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, f ingest.Fetcher, p ingest.Params) ([]ingest.RawRecord, error) {
	ep := s.endpoint
	if p.Endpoint != "" {
		ep = p.Endpoint
	}
	if ep == "" {
		return nil, ingest.Unavailable(Name, "no feed endpoint configured")
	}
	if s.apiKey == "" {
		return nil, ingest.Unavailable(Name, "no api key configured")
	}

	q := url.Values{}
	if b := p.Bbox; b != nil {
		// upper-left corner, then lower-right
		q.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", b.Min[0], b.Max[1], b.Max[0], b.Min[1]))
	}
	if p.From != nil {
		q.Set("start", p.From.String())
	}
	if p.To != nil {
		q.Set("end", p.To.String())
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if st := p.Option("status"); st != "" {
		q.Set("status", st)
	}
	if c := p.Option("category"); c != "" {
		q.Set("category", c)
	}

	resp, err := f.Request(ctx, ep, ratelimit.Options{
		Query:  q,
		Header: map[string][]string{"X-Api-Key": {s.apiKey}, "Accept": {"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	var fd feed
	if err := json.Unmarshal(resp.Body, &fd); err != nil {
		return nil, fmt.Errorf("decode event feed: %w", err)
	}
	out := make([]ingest.RawRecord, len(fd.Events))
	for i, ev := range fd.Events {
		out[i] = ingest.RawRecord{Ref: ev.ID, Payload: ev}
	}
	s.log.DebugContext(ctx, "event feed fetched", "events", len(out))
	return out, nil
}

// Convert turns an event into a feature. A single observation becomes its
// geometry; several point observations become the event's track. The
// validity interval spans the first observation to the closing date, or is
// open-ended while the event is active.
func (s *Source) Convert(r ingest.RawRecord, p ingest.Params) (*feature.Feature, error) {
	ev, ok := r.Payload.(event)
	if !ok {
		return nil, fmt.Errorf("events: unexpected payload %T", r.Payload)
	}
	if len(ev.Observations) == 0 {
		return nil, fmt.Errorf("event %s: %w", ev.ID, feature.ErrMissingGeometry)
	}

	obs := append([]observation(nil), ev.Observations...)
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
	g, err := track(obs)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	props := feature.Properties{
		"event_id":     feature.String(ev.ID),
		"observations": feature.Int(len(ev.Observations)),
	}
	if len(ev.Categories) > 0 {
		props["category"] = feature.String(ev.Categories[0].ID)
		props["category_title"] = feature.String(ev.Categories[0].Title)
	}
	if ev.Magnitude != nil {
		props["magnitude"] = feature.Number(*ev.Magnitude)
	}
	if ev.Link != "" {
		props["link"] = feature.String(ev.Link)
	}
	status := "open"
	if ev.Closed != nil {
		status = "closed"
	}
	props["status"] = feature.String(status)

	f, err := feature.New(p.LayerID, g, props)
	if err != nil {
		return nil, err
	}
	f.Name = ev.Title

	if first := obs[0].Date; !first.IsZero() {
		f.ValidFrom = feature.DateOf(first).Ptr()
	}
	if ev.Closed != nil {
		f.ValidTo = feature.DateOf(*ev.Closed).Ptr()
	}
	return f, nil
}

func track(obs []observation) (orb.Geometry, error) {
	if len(obs) == 1 {
		if obs[0].Geometry == nil {
			return nil, feature.ErrMissingGeometry
		}
		return obs[0].Geometry.Geometry(), nil
	}
	ls := make(orb.LineString, 0, len(obs))
	for _, o := range obs {
		if o.Geometry == nil {
			continue
		}
		pt, ok := o.Geometry.Geometry().(orb.Point)
		if !ok {
			// mixed or areal observations: keep the latest footprint
			return latest(obs)
		}
		if len(ls) == 0 || !ls[len(ls)-1].Equal(pt) {
			ls = append(ls, pt)
		}
	}
	switch len(ls) {
	case 0:
		return nil, feature.ErrMissingGeometry
	case 1:
		return ls[0], nil
	}
	return ls, nil
}

func latest(obs []observation) (orb.Geometry, error) {
	var best *observation
	for i := range obs {
		if obs[i].Geometry == nil {
			continue
		}
		if best == nil || obs[i].Date.After(best.Date) {
			best = &obs[i]
		}
	}
	if best == nil {
		return nil, feature.ErrMissingGeometry
	}
	return best.Geometry.Geometry(), nil
}

// Fallback produces a wildfire with a three-day track and a closed storm.
func (s *Source) Fallback(p ingest.Params) []ingest.RawRecord {
	c := orb.Point{-120.5, 38.5}
	if p.Bbox != nil {
		c = p.Bbox.Center()
	}
	day := time.Date(2023, 8, 1, 12, 0, 0, 0, time.UTC)
	closed := day.AddDate(0, 0, 5)
	pt := func(dx, dy float64) *geojson.Geometry {
		return geojson.NewGeometry(orb.Point{c[0] + dx, c[1] + dy})
	}
	evs := []event{
		{
			ID:         "fallback-fire-1",
			Title:      "Synthetic wildfire",
			Categories: []category{{ID: "wildfires", Title: "Wildfires"}},
			Observations: []observation{
				{Date: day, Geometry: pt(0, 0)},
				{Date: day.AddDate(0, 0, 1), Geometry: pt(0.05, 0.02)},
				{Date: day.AddDate(0, 0, 2), Geometry: pt(0.09, 0.05)},
			},
		},
		{
			ID:           "fallback-storm-1",
			Title:        "Synthetic storm",
			Closed:       &closed,
			Categories:   []category{{ID: "severeStorms", Title: "Severe Storms"}},
			Observations: []observation{{Date: day, Geometry: pt(-0.3, -0.2)}},
		},
	}
	out := make([]ingest.RawRecord, len(evs))
	for i, ev := range evs {
		out[i] = ingest.RawRecord{Ref: ev.ID, Payload: ev}
	}
	return out
}
