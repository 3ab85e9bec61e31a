package ingest

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/geometry/validate"
)

func TestNormalize_ReprojectsFromWebMercator(t *testing.T) {
	p := NewPipeline(PipelineConfig{}, nil, nil)
	// roughly 10°E, 0°N
	f, err := feature.New("l", orb.Point{1113194.9079327357, 0}, nil)
	require.NoError(t, err)

	out, err := p.Normalize(f, "EPSG:3857", "src", "ref-1")
	require.NoError(t, err)
	pt := out.Geometry.(orb.Point)
	assert.InDelta(t, 10, pt[0], 1e-6)
	assert.InDelta(t, 0, pt[1], 1e-6)
	assert.Equal(t, feature.DefaultCRS, out.CRS)

	s, _ := out.Properties.GetString("source")
	assert.Equal(t, "src", s)
	// input untouched
	assert.Equal(t, orb.Point{1113194.9079327357, 0}, f.Geometry)
}

func TestNormalize_OutOfRangeRejected(t *testing.T) {
	p := NewPipeline(PipelineConfig{}, nil, nil)
	f, err := feature.New("l", orb.Point{200, 10}, nil)
	require.NoError(t, err)
	_, err = p.Normalize(f, "", "src", "r")
	require.ErrorIs(t, err, validate.ErrInvalid)
}

func TestNormalize_SimplifiesLines(t *testing.T) {
	p := NewPipeline(PipelineConfig{Tolerance: 0.01, HighQuality: true}, nil, nil)
	ls := orb.LineString{{0, 0}, {0.5, 0.001}, {1, 0}, {1.5, -0.001}, {2, 0}}
	f, err := feature.New("l", ls, nil)
	require.NoError(t, err)
	out, err := p.Normalize(f, "", "src", "r")
	require.NoError(t, err)
	assert.Equal(t, orb.LineString{{0, 0}, {2, 0}}, out.Geometry)
}

func TestNormalize_RepairsBowtie(t *testing.T) {
	p := NewPipeline(PipelineConfig{}, nil, nil)
	bowtie := orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}}
	f, err := feature.New("l", bowtie, nil)
	require.NoError(t, err)
	out, err := p.Normalize(f, "", "src", "r")
	require.NoError(t, err)
	_, ok := out.Geometry.(orb.MultiPolygon)
	assert.True(t, ok, "bowtie becomes a multipolygon, got %T", out.Geometry)
}
