// Package spatial implements the geometric predicates and geodesic distances
// the stores and the query engine share.
package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	wgs84B = wgs84A * (1 - wgs84F)
)

// GeodesicDistance returns the ellipsoidal distance in meters between two
// lon/lat points using Vincenty's inverse formula. Near-antipodal pairs that
// fail to converge fall back to the haversine distance.
func GeodesicDistance(p1, p2 orb.Point) float64 {
	if p1.Equal(p2) {
		return 0
	}
	L := deg2rad(p2[0] - p1[0])
	U1 := math.Atan((1 - wgs84F) * math.Tan(deg2rad(p1[1])))
	U2 := math.Atan((1 - wgs84F) * math.Tan(deg2rad(p2[1])))
	sinU1, cosU1 := math.Sincos(U1)
	sinU2, cosU2 := math.Sincos(U2)

	lambda := L
	var sinSigma, cosSigma, sigma, cos2Alpha, cos2SigmaM float64
	converged := false
	for iter := 0; iter < 200; iter++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma = math.Sqrt(math.Pow(cosU2*sinLambda, 2) +
			math.Pow(cosU1*sinU2-sinU1*cosU2*cosLambda, 2))
		if sinSigma == 0 {
			return 0
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cos2Alpha = 1 - sinAlpha*sinAlpha
		if cos2Alpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cos2Alpha
		} else {
			cos2SigmaM = 0 // equatorial line
		}
		C := wgs84F / 16 * cos2Alpha * (4 + wgs84F*(4-3*cos2Alpha))
		prev := lambda
		lambda = L + (1-C)*wgs84F*sinAlpha*
			(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < 1e-12 {
			converged = true
			break
		}
	}
	if !converged {
		return geo.DistanceHaversine(p1, p2)
	}

	uSq := cos2Alpha * (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
	A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
	deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
		B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
	return wgs84B * A * (sigma - deltaSigma)
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

// DistanceTo returns the geodesic distance from p to the nearest point of g,
// zero when p lies inside a polygon. Nearest points on segments are located
// in a local equirectangular frame around p and then measured geodesically.
func DistanceTo(p orb.Point, g orb.Geometry) float64 {
	switch t := g.(type) {
	case orb.Point:
		return GeodesicDistance(p, t)
	case orb.MultiPoint:
		best := math.Inf(1)
		for _, q := range t {
			best = math.Min(best, GeodesicDistance(p, q))
		}
		return best
	case orb.LineString:
		return lineDistance(p, t)
	case orb.MultiLineString:
		best := math.Inf(1)
		for _, ls := range t {
			best = math.Min(best, lineDistance(p, ls))
		}
		return best
	case orb.Polygon:
		if PolygonContainsPoint(t, p) {
			return 0
		}
		best := math.Inf(1)
		for _, r := range t {
			best = math.Min(best, lineDistance(p, orb.LineString(r)))
		}
		return best
	case orb.MultiPolygon:
		best := math.Inf(1)
		for _, poly := range t {
			best = math.Min(best, DistanceTo(p, poly))
			if best == 0 {
				break
			}
		}
		return best
	}
	return math.Inf(1)
}

func lineDistance(p orb.Point, ls orb.LineString) float64 {
	if len(ls) == 0 {
		return math.Inf(1)
	}
	if len(ls) == 1 {
		return GeodesicDistance(p, ls[0])
	}
	k := math.Cos(deg2rad(p[1]))
	best := math.Inf(1)
	for i := 0; i+1 < len(ls); i++ {
		q := nearestOnSegment(p, ls[i], ls[i+1], k)
		best = math.Min(best, GeodesicDistance(p, q))
	}
	return best
}

func nearestOnSegment(p, a, b orb.Point, k float64) orb.Point {
	ax, ay := (a[0]-p[0])*k, a[1]-p[1]
	bx, by := (b[0]-p[0])*k, b[1]-p[1]
	dx, dy := bx-ax, by-ay
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return a
	}
	t := -(ax*dx + ay*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}

// RadiusBound returns a lon/lat envelope that contains every point within
// meters of center. It is used to pre-filter candidates.
func RadiusBound(center orb.Point, meters float64) orb.Bound {
	b := geo.NewBoundAroundPoint(center, meters*1.01)
	if b.Min[1] <= -90 || b.Max[1] >= 90 || b.Min[0] < -180 || b.Max[0] > 180 {
		// reaches a pole or wraps the antimeridian
		return orb.Bound{
			Min: orb.Point{-180, math.Max(-90, b.Min[1])},
			Max: orb.Point{180, math.Min(90, b.Max[1])},
		}
	}
	return b
}
