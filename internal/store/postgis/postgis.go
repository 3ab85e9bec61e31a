// Package postgis persists features in PostgreSQL with the PostGIS
// extension and pushes the spatial predicates down to SQL.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/store"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE TABLE IF NOT EXISTS features (
	id            uuid PRIMARY KEY,
	layer_id      text NOT NULL,
	name          text NOT NULL DEFAULT '',
	geometry_type text NOT NULL,
	geom          geometry(Geometry, 4326) NOT NULL,
	properties    jsonb NOT NULL DEFAULT '{}'::jsonb,
	valid_from    date,
	valid_to      date,
	crs           text NOT NULL DEFAULT 'EPSG:4326',
	created_at    timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT features_valid_interval CHECK (valid_from IS NULL OR valid_to IS NULL OR valid_to >= valid_from)
);
CREATE INDEX IF NOT EXISTS features_geom_gist ON features USING GIST (geom);
CREATE INDEX IF NOT EXISTS features_layer_idx ON features (layer_id);
`

const selectCols = `id, layer_id, name, geometry_type, ST_AsGeoJSON(geom), properties, valid_from, valid_to, crs`

type Store struct {
	db *sql.DB
}

// Open connects with lib/pq and sizes the pool the way the service runs it.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the table and indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	out, err := store.Prepare(f, uuid.NewString())
	if err != nil {
		return nil, store.Wrap("create", err)
	}
	if out.CRS != feature.DefaultCRS {
		return nil, store.Wrap("create", fmt.Errorf("postgis store keeps %s, got %s", feature.DefaultCRS, out.CRS))
	}
	geom, err := geojson.NewGeometry(out.Geometry).MarshalJSON()
	if err != nil {
		return nil, store.Wrap("create", fmt.Errorf("encode geometry: %w", err))
	}
	props, err := json.Marshal(out.Properties)
	if err != nil {
		return nil, store.Wrap("create", fmt.Errorf("encode properties: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO features (id, layer_id, name, geometry_type, geom, properties, valid_from, valid_to, crs)
VALUES ($1, $2, $3, $4, ST_SetSRID(ST_GeomFromGeoJSON($5), 4326), $6, $7, $8, $9)`,
		out.ID, out.LayerID, out.Name, string(out.GeometryType), string(geom), string(props),
		dateArg(out.ValidFrom), dateArg(out.ValidTo), out.CRS)
	if err != nil {
		return nil, store.Wrap("create", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*feature.Feature, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.Wrap("get", store.ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM features WHERE id = $1`, id)
	f, err := scanFeature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Wrap("get", store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Wrap("get", err)
	}
	return f, nil
}

func (s *Store) FindInBbox(ctx context.Context, b orb.Bound, flt store.Filters) ([]*feature.Feature, error) {
	q := newQuery()
	q.add("ST_Intersects(geom, ST_MakeEnvelope(%s, %s, %s, %s, 4326))", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	q.filters(flt)
	out, err := s.list(ctx, q)
	return out, store.Wrap("find_bbox", err)
}

func (s *Store) FindNearPoint(ctx context.Context, p orb.Point, meters float64, flt store.Filters) ([]*feature.Feature, error) {
	q := newQuery()
	q.add("ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography, %s, true)", p[0], p[1], meters)
	q.filters(flt)
	out, err := s.list(ctx, q)
	return out, store.Wrap("find_near", err)
}

func (s *Store) FindInPolygon(ctx context.Context, poly orb.Polygon, flt store.Filters) ([]*feature.Feature, error) {
	gj, err := geojson.NewGeometry(poly).MarshalJSON()
	if err != nil {
		return nil, store.Wrap("find_polygon", err)
	}
	q := newQuery()
	q.add("ST_Within(geom, ST_SetSRID(ST_GeomFromGeoJSON(%s), 4326))", string(gj))
	q.filters(flt)
	out, err := s.list(ctx, q)
	return out, store.Wrap("find_polygon", err)
}

func (s *Store) Count(ctx context.Context, flt store.Filters) (int, error) {
	q := newQuery()
	q.filters(flt)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM features`+q.where(), q.args...).Scan(&n); err != nil {
		return 0, store.Wrap("count", err)
	}
	return n, nil
}

func (s *Store) list(ctx context.Context, q *query) ([]*feature.Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectCols+` FROM features`+q.where()+` ORDER BY created_at, id`, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*feature.Feature, 0)
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// query accumulates WHERE conjuncts with numbered placeholders.
type query struct {
	conds []string
	args  []any
}

func newQuery() *query { return &query{} }

// add appends a condition; every %s in format becomes the next placeholder.
func (q *query) add(format string, args ...any) {
	ph := make([]any, len(args))
	for i, a := range args {
		q.args = append(q.args, a)
		ph[i] = "$" + strconv.Itoa(len(q.args))
	}
	q.conds = append(q.conds, fmt.Sprintf(format, ph...))
}

func (q *query) filters(f store.Filters) {
	if f.LayerID != "" {
		q.add("layer_id = %s", f.LayerID)
	}
	if f.GeometryType != "" {
		q.add("geometry_type = %s", string(f.GeometryType))
	}
	if d, ok := f.Date(); ok {
		q.add("(valid_from IS NULL OR valid_from <= %s) AND (valid_to IS NULL OR valid_to >= %s)", d.Time(), d.Time())
	}
}

func (q *query) where() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeature(sc scanner) (*feature.Feature, error) {
	var (
		f        feature.Feature
		gt       string
		geom     string
		props    []byte
		from, to sql.NullTime
	)
	if err := sc.Scan(&f.ID, &f.LayerID, &f.Name, &gt, &geom, &props, &from, &to, &f.CRS); err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry([]byte(geom))
	if err != nil {
		return nil, fmt.Errorf("decode geometry of %s: %w", f.ID, err)
	}
	f.Geometry = g.Geometry()
	f.GeometryType = feature.GeometryType(gt)
	if err := json.Unmarshal(props, &f.Properties); err != nil {
		return nil, fmt.Errorf("decode properties of %s: %w", f.ID, err)
	}
	if f.Properties == nil {
		f.Properties = feature.Properties{}
	}
	if from.Valid {
		f.ValidFrom = feature.DateOf(from.Time).Ptr()
	}
	if to.Valid {
		f.ValidTo = feature.DateOf(to.Time).Ptr()
	}
	return &f, nil
}

func dateArg(d *feature.Date) any {
	if d == nil {
		return nil
	}
	return d.Time()
}
