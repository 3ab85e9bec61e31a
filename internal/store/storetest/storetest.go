// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func mustFeature(t *testing.T, layer, name string, g orb.Geometry, from, to string) *feature.Feature {
	t.Helper()
	f, err := feature.New(layer, g, feature.Properties{"name": feature.String(name)})
	require.NoError(t, err)
	f.Name = name
	if from != "" {
		f.ValidFrom = feature.MustParseDate(from).Ptr()
	}
	if to != "" {
		f.ValidTo = feature.MustParseDate(to).Ptr()
	}
	return f
}

func names(fs []*feature.Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

// Seed writes the shared fixture set and returns the created features.
func Seed(t *testing.T, s store.Store) []*feature.Feature {
	t.Helper()
	ctx := context.Background()
	in := []*feature.Feature{
		mustFeature(t, "towns", "old-town", orb.Point{18.07, 59.33}, "1900-01-01", "1949-12-31"),
		mustFeature(t, "towns", "mid-town", orb.Point{18.08, 59.34}, "1940-01-01", "1960-12-31"),
		mustFeature(t, "towns", "new-town", orb.Point{18.09, 59.35}, "1955-01-01", ""),
		mustFeature(t, "parks", "park", square(18.00, 59.30, 18.02, 59.32), "", ""),
		mustFeature(t, "roads", "road", orb.LineString{{17.0, 59.0}, {17.5, 59.5}}, "", ""),
	}
	out := make([]*feature.Feature, 0, len(in))
	for _, f := range in {
		got, err := s.Create(ctx, f)
		require.NoError(t, err)
		require.NotEmpty(t, got.ID)
		out = append(out, got)
	}
	return out
}

// Run exercises the store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()
	year := func(y int) *int { return &y }

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		created := Seed(t, s)
		got, err := s.Get(ctx, created[3].ID)
		require.NoError(t, err)
		assert.Equal(t, "park", got.Name)
		assert.Equal(t, feature.TypePolygon, got.GeometryType)
		assert.True(t, orb.Equal(created[3].Geometry, got.Geometry))
		v, ok := got.Properties.GetString("name")
		assert.True(t, ok)
		assert.Equal(t, "park", v)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InvertedIntervalRejected", func(t *testing.T) {
		s := newStore(t)
		f := mustFeature(t, "towns", "bad", orb.Point{1, 1}, "2000-01-01", "1990-01-01")
		_, err := s.Create(ctx, f)
		require.ErrorIs(t, err, feature.ErrInvalidInterval)
		n, err := s.Count(ctx, store.Filters{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("BboxWithYear", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		b := orb.Bound{Min: orb.Point{18.05, 59.32}, Max: orb.Point{18.10, 59.36}}
		got, err := s.FindInBbox(ctx, b, store.Filters{Year: year(1950)})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"mid-town"}, names(got))

		got, err = s.FindInBbox(ctx, b, store.Filters{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old-town", "mid-town", "new-town"}, names(got))
	})

	t.Run("BboxHitsLineCrossing", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		b := orb.Bound{Min: orb.Point{17.2, 59.2}, Max: orb.Point{17.3, 59.3}}
		got, err := s.FindInBbox(ctx, b, store.Filters{LayerID: "roads"})
		require.NoError(t, err)
		assert.Equal(t, []string{"road"}, names(got))
	})

	t.Run("LongLineFoundAtMidpoint", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, mustFeature(t, "rails", "rail", orb.LineString{{0, 10}, {1, 10}}, "", ""))
		require.NoError(t, err)

		b := orb.Bound{Min: orb.Point{0.49, 9.99}, Max: orb.Point{0.51, 10.01}}
		got, err := s.FindInBbox(ctx, b, store.Filters{})
		require.NoError(t, err)
		assert.Equal(t, []string{"rail"}, names(got))

		got, err = s.FindNearPoint(ctx, orb.Point{0.5, 10.001}, 500, store.Filters{})
		require.NoError(t, err)
		assert.Equal(t, []string{"rail"}, names(got))
	})

	t.Run("NearPoint", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		got, err := s.FindNearPoint(ctx, orb.Point{18.07, 59.33}, 1500, store.Filters{LayerID: "towns"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old-town", "mid-town"}, names(got))

		got, err = s.FindNearPoint(ctx, orb.Point{18.01, 59.31}, 10, store.Filters{})
		require.NoError(t, err)
		assert.Equal(t, []string{"park"}, names(got), "point inside polygon is at distance zero")
	})

	t.Run("PolygonContainment", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		area := square(17.99, 59.29, 18.085, 59.345)
		got, err := s.FindInPolygon(ctx, area, store.Filters{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old-town", "mid-town", "park"}, names(got))

		partial := square(18.01, 59.29, 18.05, 59.33)
		got, err = s.FindInPolygon(ctx, partial, store.Filters{LayerID: "parks"})
		require.NoError(t, err)
		assert.Empty(t, got, "partially covered polygon is not contained")
	})

	t.Run("Count", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		n, err := s.Count(ctx, store.Filters{LayerID: "towns", Year: year(1950)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.Count(ctx, store.Filters{GeometryType: feature.TypeLine})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
