package ingest

import (
	"context"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
)

// Params selects what one import run fetches and where it lands.
type Params struct {
	LayerID string
	// Endpoint overrides the source's configured endpoint.
	Endpoint string
	Bbox     *orb.Bound
	From, To *feature.Date
	// Limit caps the number of records; zero means no cap.
	Limit   int
	Options map[string]string
}

func (p Params) Option(key string) string {
	if p.Options == nil {
		return ""
	}
	return strings.TrimSpace(p.Options[key])
}

func (p Params) check() error {
	if strings.TrimSpace(p.LayerID) == "" {
		return Invalid("layerId", "is required")
	}
	if p.Limit < 0 {
		return Invalid("limit", "must be >= 0")
	}
	if b := p.Bbox; b != nil {
		if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
			return Invalid("bbox", "min exceeds max")
		}
		if b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
			return Invalid("bbox", "outside lon/lat range")
		}
	}
	if p.From != nil && p.To != nil && p.To.Before(*p.From) {
		return Invalid("to", "precedes from")
	}
	return nil
}

// RawRecord is one unconverted item as delivered by a source.
type RawRecord struct {
	Ref string
	// CRS of the record's coordinates; empty means the feature's own tag or
	// EPSG:4326.
	CRS     string
	Payload any
}

func (r RawRecord) ItemID() string { return r.Ref }

// Fetcher is satisfied by *ratelimit.Client.
type Fetcher interface {
	Request(ctx context.Context, endpoint string, opts ratelimit.Options) (*ratelimit.Response, error)
}

// Source adapts one external provider to the import pipeline.
type Source interface {
	Name() string
	// Validate checks source-specific parameters before any network call.
	Validate(p Params) error
	Fetch(ctx context.Context, f Fetcher, p Params) ([]RawRecord, error)
	Convert(r RawRecord, p Params) (*feature.Feature, error)
	// Fallback returns synthetic records used when the source is unavailable.
	Fallback(p Params) []RawRecord
}
