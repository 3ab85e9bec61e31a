// Package mapper converts between orb geometries and H3 cells.
package mapper

import "github.com/paulmach/orb"

// Cells is a sorted, duplicate-free list of cell tokens.
type Cells []string

type Interface interface {
	CellsForBound(b orb.Bound, res int) (Cells, error)
	CellsForPolygon(p orb.Polygon, res int) (Cells, error)
	// Cover returns cells covering every point of g. ok is false when the
	// covering would exceed limit cells.
	Cover(g orb.Geometry, res, limit int) (cells Cells, ok bool, err error)
	CellOf(p orb.Point, res int) (string, error)
	Boundary(cell string) (orb.Polygon, error)
}
