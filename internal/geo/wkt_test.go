package geo

import (
	"testing"
)

func TestToWKTThenParseWKTPolygonRoundTrips(t *testing.T) {
	p := square(2.3522, 48.8566, 0.001)
	wkt := ToWKT(p)

	got, err := ParseWKTPolygon(wkt)
	if err != nil {
		t.Fatalf("ParseWKTPolygon() error = %v", err)
	}
	if len(got) != len(p) || len(got[0]) != len(p[0]) {
		t.Fatalf("ParseWKTPolygon() ring shape = %v rings x %v pts, want %v x %v", len(got), len(got[0]), len(p), len(p[0]))
	}
	for i, pt := range p[0] {
		if got[0][i] != pt {
			t.Errorf("vertex %d = %v, want %v", i, got[0][i], pt)
		}
	}
}

func TestParseWKTPolygonRejectsNonPolygon(t *testing.T) {
	if _, err := ParseWKTPolygon("POINT(1 2)"); err == nil {
		t.Error("expected error for non-POLYGON WKT")
	}
}

func TestParseWKTPolygonWithHole(t *testing.T) {
	wkt := "POLYGON((0 0, 4 0, 4 4, 0 4, 0 0),(1 1, 2 1, 2 2, 1 2, 1 1))"
	p, err := ParseWKTPolygon(wkt)
	if err != nil {
		t.Fatalf("ParseWKTPolygon() error = %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("ParseWKTPolygon() returned %d rings, want 2", len(p))
	}
	if Contains(p, NewPoint(1.5, 1.5)) {
		t.Error("point inside hole should be excluded")
	}
	if !Contains(p, NewPoint(0.5, 0.5)) {
		t.Error("point between hole and outer ring should be inside")
	}
}
