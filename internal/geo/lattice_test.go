package geo

import (
	"errors"
	"math"
	"testing"
)

func squareAOI(centerLon, centerLat, sideM float64) Polygon {
	half := sideM / 2
	deltaLat := half / metersPerDegreeLat
	deltaLon := half / (metersPerDegreeLat * math.Cos(centerLat*math.Pi/180))
	return Polygon{{
		{X: centerLon - deltaLon, Y: centerLat - deltaLat},
		{X: centerLon + deltaLon, Y: centerLat - deltaLat},
		{X: centerLon + deltaLon, Y: centerLat + deltaLat},
		{X: centerLon - deltaLon, Y: centerLat + deltaLat},
		{X: centerLon - deltaLon, Y: centerLat - deltaLat},
	}}
}

func TestGenerateLatticeSmallAOI(t *testing.T) {
	// 100m x 100m AOI, 5m spacing -> ~20x20 = 400 interior points.
	p := squareAOI(2.3522, 48.8566, 100)
	pts, err := GenerateLattice(p, 5, 85)
	if err != nil {
		t.Fatalf("GenerateLattice() error = %v", err)
	}
	if len(pts) < 300 || len(pts) > 420 {
		t.Errorf("GenerateLattice() produced %d points, want ~400", len(pts))
	}
	for _, pt := range pts {
		if !Contains(p, pt) {
			t.Errorf("generated point %v is not strictly inside the polygon", pt)
		}
	}
}

func TestComputeSpacingRejectsHighLatitude(t *testing.T) {
	_, err := ComputeSpacing(86, 5, 85)
	if err == nil {
		t.Fatal("expected error for latitude beyond configured limit")
	}
	if !errors.Is(err, errInvalidGeometry) {
		t.Errorf("expected errInvalidGeometry, got %v", err)
	}
}

func TestComputeSpacingAcceptsBoundaryLatitude(t *testing.T) {
	if _, err := ComputeSpacing(85, 5, 85); err != nil {
		t.Errorf("latitude exactly at the limit should succeed: %v", err)
	}
}

func TestComputeSpacingRejectsSubMeterSpacing(t *testing.T) {
	if _, err := ComputeSpacing(0, 0.5, 85); err == nil {
		t.Fatal("expected error for sub-meter spacing")
	}
}

func TestEstimateCountMatchesGenerateLatticeLength(t *testing.T) {
	p := squareAOI(2.3522, 48.8566, 100)
	count, err := EstimateCount(p, 5, 85)
	if err != nil {
		t.Fatalf("EstimateCount() error = %v", err)
	}
	pts, err := GenerateLattice(p, 5, 85)
	if err != nil {
		t.Fatalf("GenerateLattice() error = %v", err)
	}
	if count != len(pts) {
		t.Errorf("EstimateCount() = %d, GenerateLattice() produced %d", count, len(pts))
	}
}

func TestSpacingApproximatelyMatchesConfigured(t *testing.T) {
	p := squareAOI(2.3522, 48.8566, 100)
	pts, err := GenerateLattice(p, 5, 85)
	if err != nil {
		t.Fatalf("GenerateLattice() error = %v", err)
	}
	meanLat := MeanLatitude(p)
	// Find two points in the same row (same Y) and check their spacing
	// in meters is within 1% of the configured 5m.
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			if pts[i].Y == pts[j].Y && pts[i].X != pts[j].X {
				dLon := math.Abs(pts[i].X - pts[j].X)
				meters := dLon * metersPerDegreeLat * math.Cos(meanLat*math.Pi/180)
				// only check adjacent-column pairs (smallest observed delta)
				if meters < 6 {
					if math.Abs(meters-5)/5 > 0.01 {
						t.Errorf("row spacing = %.3fm, want ~5m within 1%%", meters)
					}
					return
				}
			}
		}
	}
}
