package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

var ErrNoIndex = errors.New("archive has no spatial index")

// Record is one decoded archive feature.
type Record struct {
	Index      int
	Geometry   orb.Geometry
	Properties map[string]any
}

// Archive is a decoded FlatGeobuf header plus its features.
type Archive struct {
	Name    string
	CRS     string
	Records []Record
}

// Decode reads a FlatGeobuf document. Features are located through the
// packed R-tree, so only indexed files are accepted; bound limits the
// result to features whose envelopes intersect it.
func Decode(data []byte, bound *orb.Bound) (*Archive, error) {
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("open flatgeobuf: %w", err)
	}
	h := fgb.Header()
	if h == nil {
		return nil, errors.New("flatgeobuf: missing header")
	}
	out := &Archive{Name: string(h.Name()), CRS: "EPSG:4326"}
	var crs flattypes.Crs
	if h.Crs(&crs) != nil && crs.Code() > 0 {
		out.CRS = fmt.Sprintf("EPSG:%d", crs.Code())
	}
	if h.FeaturesCount() == 0 {
		return out, nil
	}
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}

	var minX, minY, maxX, maxY float64
	switch {
	case bound != nil:
		minX, minY, maxX, maxY = bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]
	case h.EnvelopeLength() >= 4:
		minX, minY, maxX, maxY = h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3)
	default:
		minX, minY, maxX, maxY = -math.MaxFloat64, -math.MaxFloat64, math.MaxFloat64, math.MaxFloat64
	}
	feats, err := fgb.Search(minX, minY, maxX, maxY)
	if err != nil {
		return nil, fmt.Errorf("search flatgeobuf: %w", err)
	}

	out.Records = make([]Record, 0, len(feats))
	for i, f := range feats {
		if f == nil {
			continue
		}
		var gobj flattypes.Geometry
		g := f.Geometry(&gobj)
		if g == nil {
			continue
		}
		geom := decodeGeometry(g)
		if geom == nil {
			continue
		}
		rec := Record{Index: i, Geometry: geom}
		if n := f.PropertiesLength(); n > 0 && h.ColumnsLength() > 0 {
			raw := make([]byte, n)
			for j := 0; j < n; j++ {
				raw[j] = byte(f.Properties(j))
			}
			rec.Properties = decodeProperties(raw, h)
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func decodeGeometry(g *flattypes.Geometry) orb.Geometry {
	switch g.Type() {
	case flattypes.GeometryTypePoint:
		if g.XyLength() < 2 {
			return nil
		}
		return orb.Point{g.Xy(0), g.Xy(1)}
	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(points(g, 0, g.XyLength()/2))
	case flattypes.GeometryTypeLineString:
		return orb.LineString(points(g, 0, g.XyLength()/2))
	case flattypes.GeometryTypeMultiLineString:
		var mls orb.MultiLineString
		for _, r := range parts(g) {
			mls = append(mls, orb.LineString(points(g, r[0], r[1])))
		}
		return mls
	case flattypes.GeometryTypePolygon:
		return polygon(g)
	case flattypes.GeometryTypeMultiPolygon:
		var mp orb.MultiPolygon
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if p := polygon(&part); len(p) > 0 {
					mp = append(mp, p)
				}
			}
		}
		if len(mp) == 0 {
			if p := polygon(g); len(p) > 0 {
				mp = orb.MultiPolygon{p}
			}
		}
		return mp
	}
	return nil
}

func polygon(g *flattypes.Geometry) orb.Polygon {
	var p orb.Polygon
	for _, r := range parts(g) {
		p = append(p, orb.Ring(points(g, r[0], r[1])))
	}
	return p
}

// parts splits the coordinate array at the ends offsets, measured in points.
func parts(g *flattypes.Geometry) [][2]int {
	n := g.XyLength() / 2
	if g.EndsLength() == 0 {
		if n == 0 {
			return nil
		}
		return [][2]int{{0, n}}
	}
	out := make([][2]int, 0, g.EndsLength())
	start := 0
	for i := 0; i < g.EndsLength(); i++ {
		end := min(int(g.Ends(i)), n)
		out = append(out, [2]int{start, end})
		start = end
	}
	return out
}

func points(g *flattypes.Geometry, from, to int) []orb.Point {
	out := make([]orb.Point, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		out = append(out, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return out
}

// decodeProperties reads (uint16 column, value) pairs. Strings, JSON and
// binary values carry a uint32 length prefix.
func decodeProperties(data []byte, h *flattypes.Header) map[string]any {
	props := map[string]any{}
	for off := 0; off+2 <= len(data); {
		ci := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		var col flattypes.Column
		if ci >= h.ColumnsLength() || !h.Columns(&col, ci) {
			break
		}
		v, n := readValue(data[off:], col.Type())
		if n == 0 {
			break
		}
		off += n
		props[string(col.Name())] = v
	}
	return props
}

func readValue(b []byte, t flattypes.ColumnType) (any, int) {
	fixed := func(n int) bool { return len(b) >= n }
	switch t {
	case flattypes.ColumnTypeBool:
		if fixed(1) {
			return b[0] != 0, 1
		}
	case flattypes.ColumnTypeByte:
		if fixed(1) {
			return float64(int8(b[0])), 1
		}
	case flattypes.ColumnTypeUByte:
		if fixed(1) {
			return float64(b[0]), 1
		}
	case flattypes.ColumnTypeShort:
		if fixed(2) {
			return float64(int16(binary.LittleEndian.Uint16(b))), 2
		}
	case flattypes.ColumnTypeUShort:
		if fixed(2) {
			return float64(binary.LittleEndian.Uint16(b)), 2
		}
	case flattypes.ColumnTypeInt:
		if fixed(4) {
			return float64(int32(binary.LittleEndian.Uint32(b))), 4
		}
	case flattypes.ColumnTypeUInt:
		if fixed(4) {
			return float64(binary.LittleEndian.Uint32(b)), 4
		}
	case flattypes.ColumnTypeLong:
		if fixed(8) {
			return float64(int64(binary.LittleEndian.Uint64(b))), 8
		}
	case flattypes.ColumnTypeULong:
		if fixed(8) {
			return float64(binary.LittleEndian.Uint64(b)), 8
		}
	case flattypes.ColumnTypeFloat:
		if fixed(4) {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), 4
		}
	case flattypes.ColumnTypeDouble:
		if fixed(8) {
			return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8
		}
	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime, flattypes.ColumnTypeJson, flattypes.ColumnTypeBinary:
		if !fixed(4) {
			return nil, 0
		}
		n := int(binary.LittleEndian.Uint32(b))
		if len(b) < 4+n {
			return nil, 0
		}
		raw := b[4 : 4+n]
		switch t {
		case flattypes.ColumnTypeJson:
			var v any
			if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&v); err == nil {
				return v, 4 + n
			}
			return string(raw), 4 + n
		case flattypes.ColumnTypeBinary:
			return nil, 4 + n
		}
		return string(raw), 4 + n
	}
	return nil, 0
}
