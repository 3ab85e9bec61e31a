package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geotemporal/internal/mapper"
)

const earthAreaKm2 = 510065621.724

// km² per square degree at the equator
const degSqKm2 = 12363.69

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

var _ mapper.Interface = (*Mapper)(nil)

func (m *Mapper) CellsForBound(b orb.Bound, res int) (mapper.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	cells, err := polyfill(boundLoop(b), nil, res)
	if err != nil {
		return nil, err
	}
	return toTokens(cells), nil
}

func (m *Mapper) CellsForPolygon(p orb.Polygon, res int) (mapper.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	cells, err := polygonCells(p, res)
	if err != nil {
		return nil, err
	}
	return toTokens(cells), nil
}

func polygonCells(p orb.Polygon, res int) ([]h3.Cell, error) {
	if len(p) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(p[0])
	var holes []h3.GeoLoop
	for i := 1; i < len(p); i++ {
		h := toLoop(p[i])
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 4 vertices", i-1)
		}
		holes = append(holes, h)
	}
	return polyfill(outer, holes, res)
}

// EstimateCells approximates how many cells at res tile b.
func EstimateCells(b orb.Bound, res int) float64 {
	latMid := (b.Min[1] + b.Max[1]) / 2
	areaKm2 := (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1]) * degSqKm2 * math.Cos(latMid*math.Pi/180)
	cells := 2 + 120*math.Pow(7, float64(res))
	return areaKm2 / (earthAreaKm2 / cells)
}

// Cover polyfills g's envelope (or polygon), adds the cell of every point
// sampled along each line and ring edge and grows the result by one ring,
// since polyfill keeps only cells whose centres fall inside.
func (m *Mapper) Cover(g orb.Geometry, res, limit int) (mapper.Cells, bool, error) {
	if err := validateRes(res); err != nil {
		return nil, false, err
	}
	if g == nil {
		return nil, false, errors.New("nil geometry")
	}
	b := g.Bound()
	if limit > 0 && EstimateCells(b, res) > float64(limit) {
		return nil, false, nil
	}

	seen := make(map[h3.Cell]struct{})
	add := func(c h3.Cell) { seen[c] = struct{}{} }

	var filled []h3.Cell
	var err error
	switch t := g.(type) {
	case orb.Polygon:
		filled, err = polygonCells(t, res)
	case orb.MultiPolygon:
		for _, p := range t {
			var part []h3.Cell
			if part, err = polygonCells(p, res); err != nil {
				break
			}
			filled = append(filled, part...)
		}
	default:
		if b.Max[0] > b.Min[0] && b.Max[1] > b.Min[1] {
			filled, err = polyfill(boundLoop(b), nil, res)
		}
	}
	if err != nil {
		return nil, false, err
	}
	for _, c := range filled {
		add(c)
	}

	var verr error
	samples := 0
	step := sampleStep(res)
	forEachEdge(g, func(a, b orb.Point) {
		if verr != nil {
			return
		}
		n := max(1, int(math.Ceil(math.Hypot(b[0]-a[0], b[1]-a[1])/step)))
		samples += n
		if limit > 0 && samples > limit {
			return
		}
		for i := 0; i <= n; i++ {
			t := float64(i) / float64(n)
			c, err := h3.LatLngToCell(h3.LatLng{Lat: a[1] + t*(b[1]-a[1]), Lng: a[0] + t*(b[0]-a[0])}, res)
			if err != nil {
				verr = err
				return
			}
			add(c)
		}
	})
	if verr != nil {
		return nil, false, fmt.Errorf("h3 cell: %w", verr)
	}
	if limit > 0 && samples > limit {
		return nil, false, nil
	}

	ring := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		ring = append(ring, c)
	}
	for _, c := range ring {
		disk, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, false, fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, d := range disk {
			add(d)
		}
	}
	if limit > 0 && len(seen) > limit {
		return nil, false, nil
	}

	all := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		all = append(all, c)
	}
	return toTokens(all), true, nil
}

func (m *Mapper) CellOf(p orb.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// Boundary returns the cell outline as a closed lon/lat ring.
func (m *Mapper) Boundary(cell string) (orb.Polygon, error) {
	c, err := parseCell(cell)
	if err != nil {
		return nil, err
	}
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("boundary: %w", err)
	}
	if len(b) < 3 {
		return nil, fmt.Errorf("degenerate boundary for %s", cell)
	}
	r := make(orb.Ring, 0, len(b)+1)
	for _, ll := range b {
		r = append(r, orb.Point{ll.Lng, ll.Lat})
	}
	r = append(r, r[0])
	return orb.Polygon{r}, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func parseCell(cell string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", cell)
	}
	return c, nil
}

func boundLoop(b orb.Bound) h3.GeoLoop {
	return h3.GeoLoop{
		{Lat: b.Min[1], Lng: b.Min[0]},
		{Lat: b.Min[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Min[0]},
	}
}

// toLoop converts a ring to an h3.GeoLoop, dropping the closing vertex.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

// sampleStep is half the average hexagon edge at res, in degrees of
// latitude. A degree of longitude is never longer, so the step stays under
// one edge in either direction.
func sampleStep(res int) float64 {
	cellKm2 := earthAreaKm2 / (2 + 120*math.Pow(7, float64(res)))
	edgeKm := math.Sqrt(2 * cellKm2 / (3 * math.Sqrt(3)))
	return edgeKm / 111.32 / 2
}

// forEachEdge calls fn for every segment of g. A point is a zero-length
// segment.
func forEachEdge(g orb.Geometry, fn func(a, b orb.Point)) {
	switch t := g.(type) {
	case orb.Point:
		fn(t, t)
	case orb.MultiPoint:
		for _, p := range t {
			fn(p, p)
		}
	case orb.LineString:
		if len(t) == 1 {
			fn(t[0], t[0])
		}
		for i := 1; i < len(t); i++ {
			fn(t[i-1], t[i])
		}
	case orb.MultiLineString:
		for _, ls := range t {
			forEachEdge(ls, fn)
		}
	case orb.Ring:
		forEachEdge(orb.LineString(t), fn)
	case orb.Polygon:
		for _, r := range t {
			forEachEdge(orb.LineString(r), fn)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			forEachEdge(p, fn)
		}
	case orb.Bound:
		forEachEdge(t.ToPolygon(), fn)
	}
}

func polyfill(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]h3.Cell, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}
	cells, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return cells, nil
}

// toTokens de-duplicates and sorts cells for determinism.
func toTokens(cells []h3.Cell) mapper.Cells {
	out := make(mapper.Cells, 0, len(cells))
	seen := make(map[h3.Cell]struct{}, len(cells))
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}
