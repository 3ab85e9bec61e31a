// Package archive imports map features from FlatGeobuf archives served over
// HTTP(S) or stored in S3.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
)

const Name = "archive"

// Presigner turns an s3:// location into a time-limited HTTPS URL.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string) (string, error)
}

type Source struct {
	endpoint  string
	presigner Presigner
	log       *slog.Logger
}

type Option func(*Source)

func WithPresigner(p Presigner) Option { return func(s *Source) { s.presigner = p } }

func New(endpoint string, log *slog.Logger, opts ...Option) *Source {
	if log == nil {
		log = slog.Default()
	}
	s := &Source{endpoint: strings.TrimSpace(endpoint), log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Factory builds the source from configuration. S3 access is enabled when
// the "s3Region" option is set.
func Factory(cfg ingest.SourceConfig, log *slog.Logger) (ingest.Source, error) {
	var opts []Option
	if region := cfg.Options["s3Region"]; region != "" {
		p, err := NewS3Presigner(context.Background(), region, 15*time.Minute)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPresigner(p))
	}
	return New(cfg.Endpoint, log, opts...), nil
}

func (s *Source) Name() string { return Name }

func (s *Source) resolve(p ingest.Params) string {
	if p.Endpoint != "" {
		return strings.TrimSpace(p.Endpoint)
	}
	return s.endpoint
}

func (s *Source) Validate(p ingest.Params) error {
	ep := s.resolve(p)
	if ep == "" {
		return nil // unavailable, handled by fallback
	}
	u, err := url.Parse(ep)
	if err != nil {
		return ingest.Invalid("endpoint", "%v", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return ingest.Invalid("endpoint", "s3 location needs bucket and key")
		}
	default:
		return ingest.Invalid("endpoint", "unsupported scheme %q", u.Scheme)
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, f ingest.Fetcher, p ingest.Params) ([]ingest.RawRecord, error) {
	ep := s.resolve(p)
	if ep == "" {
		return nil, ingest.Unavailable(Name, "no archive endpoint configured")
	}
	if strings.HasPrefix(ep, "s3://") {
		if s.presigner == nil {
			return nil, ingest.Unavailable(Name, "no s3 credentials configured")
		}
		u, _ := url.Parse(ep)
		signed, err := s.presigner.PresignGet(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", ep, err)
		}
		ep = signed
	}

	resp, err := f.Request(ctx, ep, ratelimit.Options{
		Header: map[string][]string{"Accept": {"application/flatgeobuf, application/octet-stream"}},
	})
	if err != nil {
		return nil, err
	}
	arc, err := Decode(resp.Body, p.Bbox)
	if err != nil {
		return nil, err
	}
	s.log.DebugContext(ctx, "archive decoded", "name", arc.Name, "crs", arc.CRS, "records", len(arc.Records))

	out := make([]ingest.RawRecord, len(arc.Records))
	for i, r := range arc.Records {
		out[i] = ingest.RawRecord{Ref: fmt.Sprintf("%s#%d", arc.Name, r.Index), CRS: arc.CRS, Payload: r}
	}
	return out, nil
}

// Convert maps a decoded record onto a feature. The "name", "valid_from"
// and "valid_to" columns are lifted out of the properties; "from"/"to"
// options rename them.
func (s *Source) Convert(r ingest.RawRecord, p ingest.Params) (*feature.Feature, error) {
	rec, ok := r.Payload.(Record)
	if !ok {
		return nil, fmt.Errorf("archive: unexpected payload %T", r.Payload)
	}
	props, err := feature.PropertiesFrom(rec.Properties)
	if err != nil {
		return nil, err
	}
	f, err := feature.New(p.LayerID, rec.Geometry, props)
	if err != nil {
		return nil, err
	}
	f.Name, _ = props.GetString("name")

	fromKey, toKey := optionOr(p, "from", "valid_from"), optionOr(p, "to", "valid_to")
	if f.ValidFrom, err = dateProp(props, fromKey); err != nil {
		return nil, err
	}
	if f.ValidTo, err = dateProp(props, toKey); err != nil {
		return nil, err
	}
	delete(f.Properties, fromKey)
	delete(f.Properties, toKey)
	return f, nil
}

func optionOr(p ingest.Params, key, def string) string {
	if v := p.Option(key); v != "" {
		return v
	}
	return def
}

func dateProp(props feature.Properties, key string) (*feature.Date, error) {
	s, ok := props.GetString(key)
	if !ok || s == "" {
		return nil, nil
	}
	d, err := feature.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &d, nil
}

// Fallback returns a few historical town outlines around the requested
// bbox centre.
func (s *Source) Fallback(p ingest.Params) []ingest.RawRecord {
	c := orb.Point{18.07, 59.33}
	if p.Bbox != nil {
		c = p.Bbox.Center()
	}
	towns := []struct {
		name     string
		dx, dy   float64
		from, to string
	}{
		{"old quarter", -0.01, -0.01, "1850-01-01", "1949-12-31"},
		{"harbour district", 0.01, -0.005, "1900-01-01", ""},
		{"new suburb", 0.0, 0.012, "1960-01-01", ""},
	}
	out := make([]ingest.RawRecord, len(towns))
	for i, t := range towns {
		x, y := c[0]+t.dx, c[1]+t.dy
		props := map[string]any{"name": t.name, "valid_from": t.from, "synthetic": true}
		if t.to != "" {
			props["valid_to"] = t.to
		}
		out[i] = ingest.RawRecord{
			Ref: fmt.Sprintf("fallback#%d", i),
			Payload: Record{
				Index:      i,
				Geometry:   orb.Bound{Min: orb.Point{x - 0.004, y - 0.003}, Max: orb.Point{x + 0.004, y + 0.003}}.ToPolygon(),
				Properties: props,
			},
		}
	}
	return out
}

type s3Presigner struct {
	client  *s3.PresignClient
	expires time.Duration
}

// NewS3Presigner loads the default AWS credential chain for region.
func NewS3Presigner(ctx context.Context, region string, expires time.Duration) (Presigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Presigner{client: s3.NewPresignClient(s3.NewFromConfig(cfg)), expires: expires}, nil
}

func (p *s3Presigner) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
