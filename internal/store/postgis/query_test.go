package postgis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

func TestQuery_NoFilters(t *testing.T) {
	q := newQuery()
	q.filters(store.Filters{})
	assert.Equal(t, "", q.where())
	assert.Empty(t, q.args)
}

func TestQuery_PlaceholdersFollowArgs(t *testing.T) {
	year := 1950
	q := newQuery()
	q.add("ST_Intersects(geom, ST_MakeEnvelope(%s, %s, %s, %s, 4326))", 1.0, 2.0, 3.0, 4.0)
	q.filters(store.Filters{LayerID: "towns", GeometryType: feature.TypePoint, Year: &year})

	assert.Equal(t,
		" WHERE ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))"+
			" AND layer_id = $5 AND geometry_type = $6"+
			" AND (valid_from IS NULL OR valid_from <= $7) AND (valid_to IS NULL OR valid_to >= $8)",
		q.where())
	assert.Len(t, q.args, 8)
	assert.Equal(t, "towns", q.args[4])
	assert.Equal(t, "point", q.args[5])
	assert.Equal(t, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), q.args[6])
}

func TestDateArg(t *testing.T) {
	assert.Nil(t, dateArg(nil))
	d := feature.NewDate(2001, 2, 3)
	assert.Equal(t, d.Time(), dateArg(&d))
}
