// Package climate imports daily climate-station observations delivered as
// CSV.
package climate

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
)

const Name = "climate"

var (
	required   = []string{"station", "lon", "lat", "date"}
	measures   = []string{"tmax", "tmin", "prcp", "snow"}
	stationIDs = regexp.MustCompile(`^[A-Za-z0-9:_-]+$`)
)

type Source struct {
	endpoint string
	token    string
	log      *slog.Logger
}

func New(endpoint, token string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{endpoint: strings.TrimSpace(endpoint), token: strings.TrimSpace(token), log: log}
}

func Factory(cfg ingest.SourceConfig, log *slog.Logger) (ingest.Source, error) {
	return New(cfg.Endpoint, cfg.APIKey, log), nil
}

// Row is one parsed CSV line keyed by lower-case header.
type Row map[string]string

func (s *Source) Name() string { return Name }

func (s *Source) Validate(p ingest.Params) error {
	for _, id := range stations(p) {
		if !stationIDs.MatchString(id) {
			return ingest.Invalid("stations", "bad station id %q", id)
		}
	}
	return nil
}

func stations(p ingest.Params) []string {
	raw := p.Option("stations")
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s *Source) Fetch(ctx context.Context, f ingest.Fetcher, p ingest.Params) ([]ingest.RawRecord, error) {
	ep := s.endpoint
	if p.Endpoint != "" {
		ep = p.Endpoint
	}
	if ep == "" {
		return nil, ingest.Unavailable(Name, "no station endpoint configured")
	}
	if s.token == "" {
		return nil, ingest.Unavailable(Name, "no access token configured")
	}

	q := url.Values{"format": {"csv"}}
	if ids := stations(p); len(ids) > 0 {
		q.Set("stations", strings.Join(ids, ","))
	}
	if b := p.Bbox; b != nil {
		q.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", b.Min[0], b.Min[1], b.Max[0], b.Max[1]))
	}
	if p.From != nil {
		q.Set("startDate", p.From.String())
	}
	if p.To != nil {
		q.Set("endDate", p.To.String())
	}

	resp, err := f.Request(ctx, ep, ratelimit.Options{
		Query:  q,
		Header: map[string][]string{"Token": {s.token}, "Accept": {"text/csv"}},
	})
	if err != nil {
		return nil, err
	}
	rows, err := ParseCSV(resp.Body)
	if err != nil {
		return nil, err
	}
	out := make([]ingest.RawRecord, len(rows))
	for i, r := range rows {
		out[i] = ingest.RawRecord{Ref: r["station"] + "@" + r["date"], Payload: r}
	}
	s.log.DebugContext(ctx, "station rows fetched", "rows", len(out))
	return out, nil
}

// ParseCSV reads a header line and the rows below it. Header names are
// matched case-insensitively; short rows are padded with empty values.
func ParseCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	for _, col := range required {
		if !contains(header, col) {
			return nil, fmt.Errorf("csv header lacks %q column", col)
		}
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Convert maps a row onto a point feature valid on the observation day.
// Empty measurements become nulls.
func (s *Source) Convert(r ingest.RawRecord, p ingest.Params) (*feature.Feature, error) {
	row, ok := r.Payload.(Row)
	if !ok {
		return nil, fmt.Errorf("climate: unexpected payload %T", r.Payload)
	}
	lon, err := strconv.ParseFloat(row["lon"], 64)
	if err != nil {
		return nil, fmt.Errorf("lon %q: %w", row["lon"], err)
	}
	lat, err := strconv.ParseFloat(row["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("lat %q: %w", row["lat"], err)
	}
	day, err := feature.ParseDate(row["date"])
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}

	props := feature.Properties{"station_id": feature.String(row["station"])}
	for _, m := range measures {
		v, present := row[m]
		if !present {
			continue
		}
		if v == "" {
			props[m] = feature.Null()
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", m, v, err)
		}
		props[m] = feature.Number(n)
	}
	if e := row["elevation"]; e != "" {
		if n, err := strconv.ParseFloat(e, 64); err == nil {
			props["elevation"] = feature.Number(n)
		}
	}

	f, err := feature.New(p.LayerID, orb.Point{lon, lat}, props)
	if err != nil {
		return nil, err
	}
	f.Name = row["name"]
	if f.Name == "" {
		f.Name = row["station"]
	}
	f.ValidFrom = day.Ptr()
	f.ValidTo = day.Ptr()
	return f, nil
}

// Fallback is one week of readings from two synthetic stations.
func (s *Source) Fallback(p ingest.Params) []ingest.RawRecord {
	c := orb.Point{18.06, 59.35}
	if p.Bbox != nil {
		c = p.Bbox.Center()
	}
	start := feature.NewDate(2020, 1, 1)
	if p.From != nil {
		start = *p.From
	}
	var out []ingest.RawRecord
	for si, st := range []string{"SYN:0001", "SYN:0002"} {
		for d := 0; d < 7; d++ {
			day := feature.DateOf(start.Time().AddDate(0, 0, d))
			row := Row{
				"station": st,
				"name":    "synthetic station " + strconv.Itoa(si+1),
				"lon":     strconv.FormatFloat(c[0]+0.1*float64(si), 'f', 4, 64),
				"lat":     strconv.FormatFloat(c[1], 'f', 4, 64),
				"date":    day.String(),
				"tmax":    strconv.Itoa(2 + d%3),
				"tmin":    strconv.Itoa(-3 + d%2),
				"prcp":    "",
			}
			out = append(out, ingest.RawRecord{Ref: st + "@" + row["date"], Payload: row})
		}
	}
	return out
}
