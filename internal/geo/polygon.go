// Package geo implements the WGS84 polygon and point-in-polygon math
// shared by the Grid Generator and Pair Discovery components. Point and
// bounding-box types are re-used from github.com/ctessum/geom; the
// containment test itself is implemented locally because this pipeline
// requires polygon edges to be treated as exclusive (a point exactly on
// an edge is outside, for deterministic lattice generation), while
// ctessum/geom.Within treats an on-edge point as inside.
package geo

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"

	"github.com/groundline/insar-pipeline/internal/errs"
)

var errInvalidGeometry = errs.ErrInvalidGeometry

// metersPerDegreeLat is the (near-constant) number of meters per degree
// of latitude.
const metersPerDegreeLat = 111_320.0

// Polygon is a WGS84 polygon: a closed outer ring followed by zero or
// more hole rings, lon/lat order (X=lon, Y=lat) to match geom.Point.
type Polygon = geom.Polygon

// NewPoint constructs a geom.Point from lon/lat.
func NewPoint(lon, lat float64) geom.Point {
	return geom.Point{X: lon, Y: lat}
}

// ValidateSimple checks that the polygon's outer ring is closed and does
// not self-intersect, and that every vertex is a valid WGS84 coordinate.
// It returns a non-nil error describing the first violation found.
func ValidateSimple(p Polygon) error {
	if len(p) == 0 || len(p[0]) < 3 {
		return fmt.Errorf("%w: polygon must have at least 3 vertices", errInvalidGeometry)
	}
	for _, ring := range p {
		for _, pt := range ring {
			if pt.X < -180 || pt.X > 180 || pt.Y < -90 || pt.Y > 90 {
				return fmt.Errorf("%w: vertex (%v, %v) is outside valid WGS84 range", errInvalidGeometry, pt.X, pt.Y)
			}
		}
	}
	outer := closedRing(p[0])
	if selfIntersects(outer) {
		return fmt.Errorf("%w: polygon outer ring self-intersects", errInvalidGeometry)
	}
	return nil
}

// closedRing returns ring with an explicit closing vertex appended if the
// caller omitted it (first point != last point).
func closedRing(ring []geom.Point) []geom.Point {
	if len(ring) == 0 {
		return ring
	}
	if ring[0].Equals(ring[len(ring)-1]) {
		return ring
	}
	out := make([]geom.Point, len(ring)+1)
	copy(out, ring)
	out[len(ring)] = ring[0]
	return out
}

// selfIntersects reports whether any two non-adjacent edges of the
// (already closed) ring cross. O(n^2), fine for AOI-sized polygons.
func selfIntersects(ring []geom.Point) bool {
	n := len(ring) - 1 // number of edges; ring[n] == ring[0]
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[i+1]
		for j := i + 1; j < n; j++ {
			if j == i {
				continue
			}
			// Skip edges that share an endpoint (adjacent edges, or the
			// closing edge sharing the first vertex).
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := ring[j], ring[j+1]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, p3, p4 geom.Point) bool {
	d1 := cross(p4, p3, p1)
	d2 := cross(p4, p3, p2)
	d3 := cross(p2, p1, p3)
	d4 := cross(p2, p1, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func cross(a, b, c geom.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// Bounds returns the polygon's axis-aligned bounding box.
func Bounds(p Polygon) *geom.Bounds {
	return p.Bounds()
}

// MeanLatitude returns the mean latitude of the polygon's bounding box,
// used to scale the longitude step of the lattice.
func MeanLatitude(p Polygon) float64 {
	b := Bounds(p)
	return (b.Min.Y + b.Max.Y) / 2
}

// AreaKM2 estimates the polygon's area in square kilometers by
// projecting vertices to an equirectangular meter grid centered on the
// polygon's mean latitude and applying the planar shoelace formula. This
// is accurate to well under 1% for AOIs on the order of a few km^2, the
// scale this pipeline targets.
func AreaKM2(p Polygon) float64 {
	if len(p) == 0 || len(p[0]) < 3 {
		return 0
	}
	lat0 := MeanLatitude(p)
	lonScale := metersPerDegreeLat * math.Cos(lat0*math.Pi/180)
	latScale := metersPerDegreeLat

	ring := closedRing(p[0])
	var area2 float64
	for i := 0; i < len(ring)-1; i++ {
		x1, y1 := ring[i].X*lonScale, ring[i].Y*latScale
		x2, y2 := ring[i+1].X*lonScale, ring[i+1].Y*latScale
		area2 += x1*y2 - x2*y1
	}
	areaM2 := math.Abs(area2) / 2
	return areaM2 / 1_000_000
}

// Contains reports whether pt lies strictly inside p using ray casting.
// Edges are exclusive: a point exactly on any ring's boundary is
// considered outside, and points inside a hole ring are excluded.
func Contains(p Polygon, pt geom.Point) bool {
	if len(p) == 0 {
		return false
	}
	if !ringContainsExclusive(closedRing(p[0]), pt) {
		return false
	}
	// Holes: if present inside any inner ring (exclusive), the point is
	// excluded from the polygon interior.
	for _, hole := range p[1:] {
		if ringContainsExclusive(closedRing(hole), pt) {
			return false
		}
	}
	return true
}

// ringContainsExclusive implements ray casting with exclusive edges: a
// point exactly on a boundary segment returns false, never true.
func ringContainsExclusive(ring []geom.Point, pt geom.Point) bool {
	if len(ring) < 4 { // closed ring of a triangle has 4 points
		return false
	}
	if onBoundary(ring, pt) {
		return false
	}
	inside := false
	n := len(ring) - 1
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := ring[i].X, ring[i].Y
		xj, yj := ring[j].X, ring[j].Y
		if (yi > pt.Y) != (yj > pt.Y) {
			xIntersect := (xj-xi)*(pt.Y-yi)/(yj-yi) + xi
			if pt.X < xIntersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onBoundary(ring []geom.Point, pt geom.Point) bool {
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		if pointOnSegment(pt, ring[i], ring[i+1]) {
			return true
		}
	}
	return false
}

func pointOnSegment(p, a, b geom.Point) bool {
	const eps = 1e-12
	cr := cross(a, b, p)
	if math.Abs(cr) > eps {
		return false
	}
	if p.X < math.Min(a.X, b.X)-eps || p.X > math.Max(a.X, b.X)+eps {
		return false
	}
	if p.Y < math.Min(a.Y, b.Y)-eps || p.Y > math.Max(a.Y, b.Y)+eps {
		return false
	}
	return true
}
