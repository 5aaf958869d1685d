package geo

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

// LatticeSpacing holds the degree-space step sizes for a given ground
// spacing at a given latitude.
type LatticeSpacing struct {
	DeltaLat float64 // degrees of latitude per spacing_m
	DeltaLon float64 // degrees of longitude per spacing_m, at meanLat
}

// ComputeSpacing converts a ground spacing in meters into latitude and
// longitude degree steps at the polygon's mean latitude.
//
// Latitude beyond +-maxAbsLatitudeDeg is refused: the cosine denominator
// in the longitude step becomes unreliable near the poles.
func ComputeSpacing(meanLatDeg, spacingM, maxAbsLatitudeDeg float64) (LatticeSpacing, error) {
	if spacingM < 1 {
		return LatticeSpacing{}, fmt.Errorf("%w: spacing must be >= 1m, got %v", errInvalidGeometry, spacingM)
	}
	if math.Abs(meanLatDeg) > maxAbsLatitudeDeg {
		return LatticeSpacing{}, fmt.Errorf("%w: latitude %v exceeds configured limit %v", errInvalidGeometry, meanLatDeg, maxAbsLatitudeDeg)
	}
	deltaLat := spacingM / metersPerDegreeLat
	cosLat := math.Cos(meanLatDeg * math.Pi / 180)
	deltaLon := spacingM / (cosLat * metersPerDegreeLat)
	return LatticeSpacing{DeltaLat: deltaLat, DeltaLon: deltaLon}, nil
}

// EstimateCount counts how many lattice candidates generated over p's
// bounding box at the given spacing would fall strictly inside p,
// without allocating the point slice. Used by grid's Generator.Estimate to check the
// point-count ceiling before committing to generation.
func EstimateCount(p Polygon, spacingM, maxAbsLatitudeDeg float64) (int, error) {
	count := 0
	err := walkLattice(p, spacingM, maxAbsLatitudeDeg, func(geom.Point) {
		count++
	})
	return count, err
}

// GenerateLattice returns every lattice point strictly inside p at the
// given ground spacing.
func GenerateLattice(p Polygon, spacingM, maxAbsLatitudeDeg float64) ([]geom.Point, error) {
	var pts []geom.Point
	err := walkLattice(p, spacingM, maxAbsLatitudeDeg, func(pt geom.Point) {
		pts = append(pts, pt)
	})
	return pts, err
}

// walkLattice generates lattice candidates over p's bounding box and
// invokes visit for each one that lies strictly inside p.
func walkLattice(p Polygon, spacingM, maxAbsLatitudeDeg float64, visit func(geom.Point)) error {
	if err := ValidateSimple(p); err != nil {
		return err
	}
	meanLat := MeanLatitude(p)
	spacing, err := ComputeSpacing(meanLat, spacingM, maxAbsLatitudeDeg)
	if err != nil {
		return err
	}
	b := Bounds(p)

	for lat := b.Min.Y; lat <= b.Max.Y; lat += spacing.DeltaLat {
		for lon := b.Min.X; lon <= b.Max.X; lon += spacing.DeltaLon {
			candidate := geom.Point{X: lon, Y: lat}
			if Contains(p, candidate) {
				visit(candidate)
			}
		}
	}
	return nil
}
