package ingest

import (
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/geometry/crs"
	"github.com/mohammed-shakir/geotemporal/internal/geometry/simplify"
	"github.com/mohammed-shakir/geotemporal/internal/geometry/validate"
)

type PipelineConfig struct {
	TargetCRS string
	// Tolerance in target CRS units; zero skips simplification.
	Tolerance   float64
	HighQuality bool
}

// ValidationObserver is implemented by observability.Metrics.
type ValidationObserver interface {
	ObserveValidation(valid bool)
}

// Pipeline reprojects, repairs, validates and simplifies converted features.
type Pipeline struct {
	cfg  PipelineConfig
	tr   *crs.Transformer
	val  *validate.Validator
	simp *simplify.Simplifier
	obs  ValidationObserver
	log  *slog.Logger
}

func NewPipeline(cfg PipelineConfig, tr *crs.Transformer, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if tr == nil {
		tr = crs.NewTransformer(nil)
	}
	if cfg.TargetCRS == "" {
		cfg.TargetCRS = feature.DefaultCRS
	}
	return &Pipeline{
		cfg:  cfg,
		tr:   tr,
		val:  validate.New(log),
		simp: simplify.New(log),
		log:  log,
	}
}

func (p *Pipeline) WithObserver(o ValidationObserver) *Pipeline {
	p.obs = o
	return p
}

// Normalize returns a new feature in the target CRS tagged with its source.
// A validation failure is returned as *validate.ValidationError.
func (p *Pipeline) Normalize(f *feature.Feature, sourceCRS, source, ref string) (*feature.Feature, error) {
	from := sourceCRS
	if from == "" {
		from = f.CRS
	}
	if from == "" {
		from = feature.DefaultCRS
	}
	out, err := p.tr.Feature(f, from, p.cfg.TargetCRS)
	if err != nil {
		return nil, err
	}

	out, rep := p.val.Clean(out)
	if rep.DuplicatesRemoved > 0 || rep.PolygonsSplit > 0 {
		p.log.Debug("feature repaired", "ref", ref,
			"duplicates_removed", rep.DuplicatesRemoved, "polygons_split", rep.PolygonsSplit)
	}

	res := p.val.Validate(out)
	if p.obs != nil {
		p.obs.ObserveValidation(res.Valid)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	if p.cfg.Tolerance > 0 {
		switch out.Geometry.(type) {
		case orb.Point, orb.MultiPoint:
		default:
			sr, err := p.simp.Simplify(out.Geometry, p.cfg.Tolerance, p.cfg.HighQuality)
			if err != nil {
				return nil, fmt.Errorf("simplify: %w", err)
			}
			out.Geometry = sr.Geometry
		}
	}

	if out.Properties == nil {
		out.Properties = feature.Properties{}
	}
	out.Properties["source"] = feature.String(source)
	if ref != "" {
		out.Properties["source_ref"] = feature.String(ref)
	}
	return out, nil
}
