package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/geo"
	"github.com/groundline/insar-pipeline/internal/httputil"
)

func square() geo.Polygon {
	return geo.Polygon{{
		geo.NewPoint(2.0, 48.0),
		geo.NewPoint(2.1, 48.0),
		geo.NewPoint(2.1, 48.1),
		geo.NewPoint(2.0, 48.1),
		geo.NewPoint(2.0, 48.0),
	}}
}

const worldFootprint = "POLYGON((-180 -90, 180 -90, 180 90, -180 90, -180 -90))"

func granuleJSON(name string, start time.Time, path int, footprint string) string {
	return fmt.Sprintf(
		`{"name":%q,"start_time":%q,"end_time":%q,"path":%d,"frame":1,"polarization":"VV","flight_direction":"ASCENDING","footprint":%q}`,
		name, start.Format(time.RFC3339), start.Add(time.Minute).Format(time.RFC3339), path, footprint,
	)
}

func TestFindPairsReturnsBestScoredPairFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(`{"granules":[%s,%s,%s]}`,
		granuleJSON("g1", base, 42, worldFootprint),
		granuleJSON("g2", base.AddDate(0, 0, 12), 42, worldFootprint), // 12-day baseline: optimal
		granuleJSON("g3", base.AddDate(0, 0, 40), 42, worldFootprint), // 40-day baseline: poor
	)

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, body)

	c := New(mock, "https://catalog.example/search", config.PairsConfig{})
	candidates, err := c.FindPairs(context.Background(), square(), base, base.AddDate(0, 0, 60))
	if err != nil {
		t.Fatalf("FindPairs() error = %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("FindPairs() returned no candidates")
	}
	if candidates[0].ReferenceGranule != "g1" || candidates[0].SecondaryGranule != "g2" {
		t.Errorf("top candidate = %s/%s, want g1/g2 (12-day optimal baseline)", candidates[0].ReferenceGranule, candidates[0].SecondaryGranule)
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].QualityScore > candidates[i-1].QualityScore {
			t.Fatalf("candidates not sorted by descending score at index %d", i)
		}
	}
}

func TestFindPairsDedupesRepeatedGranules(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// g1 is reported twice, as an overlapping-tile catalog query would;
	// g2 completes the only viable pair.
	body := fmt.Sprintf(`{"granules":[%s,%s,%s]}`,
		granuleJSON("g1", base, 42, worldFootprint),
		granuleJSON("g1", base, 42, worldFootprint),
		granuleJSON("g2", base.AddDate(0, 0, 12), 42, worldFootprint),
	)

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, body)

	c := New(mock, "https://catalog.example/search", config.PairsConfig{})
	candidates, err := c.FindPairs(context.Background(), square(), base, base.AddDate(0, 0, 60))
	if err != nil {
		t.Fatalf("FindPairs() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("FindPairs() returned %d candidates, want 1 (duplicate granule must not double-count)", len(candidates))
	}
	if candidates[0].ReferenceGranule != "g1" || candidates[0].SecondaryGranule != "g2" {
		t.Errorf("candidate = %s/%s, want g1/g2", candidates[0].ReferenceGranule, candidates[0].SecondaryGranule)
	}
}

func TestDedupeGranulesByNameKeepsFirstOccurrence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	granules := []Granule{
		{Name: "g1", Path: 42, Start: base},
		{Name: "g1", Path: 42, Start: base.Add(time.Hour)},
		{Name: "g2", Path: 42, Start: base},
	}
	out := dedupeGranulesByName(granules)
	if len(out) != 2 {
		t.Fatalf("dedupeGranulesByName() returned %d granules, want 2", len(out))
	}
	if out[0].Name != "g1" || !out[0].Start.Equal(base) {
		t.Errorf("dedupeGranulesByName() did not keep first g1 occurrence: %+v", out[0])
	}
}

func TestFindPairsRejectsDifferentTracks(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(`{"granules":[%s,%s]}`,
		granuleJSON("g1", base, 42, worldFootprint),
		granuleJSON("g2", base.AddDate(0, 0, 12), 99, worldFootprint),
	)

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, body)

	c := New(mock, "https://catalog.example/search", config.PairsConfig{})
	_, err := c.FindPairs(context.Background(), square(), base, base.AddDate(0, 0, 60))
	if !errors.Is(err, errs.ErrNoSuitablePairs) {
		t.Errorf("FindPairs() error = %v, want errs.ErrNoSuitablePairs", err)
	}
}

func TestFindPairsReturnsNoSuitablePairsWhenEmpty(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"granules":[]}`)

	c := New(mock, "https://catalog.example/search", config.PairsConfig{})
	_, err := c.FindPairs(context.Background(), square(), time.Now(), time.Now().AddDate(0, 0, 60))
	if !errors.Is(err, errs.ErrNoSuitablePairs) {
		t.Errorf("FindPairs() error = %v, want errs.ErrNoSuitablePairs", err)
	}
}

func TestFindPairsSurfacesCatalogUnavailableAfterRetries(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DefaultError = errors.New("connection refused")

	c := New(mock, "https://catalog.example/search", config.PairsConfig{})
	_, err := c.FindPairs(context.Background(), square(), time.Now(), time.Now().AddDate(0, 0, 60))
	if !errors.Is(err, errs.ErrCatalogUnavailable) {
		t.Errorf("FindPairs() error = %v, want errs.ErrCatalogUnavailable", err)
	}
}

func TestTemporalFactorPeaksAtOptimal(t *testing.T) {
	if f := temporalFactor(12, 12, 6, 48); f != 1.0 {
		t.Errorf("temporalFactor(12) = %v, want 1.0", f)
	}
	if f := temporalFactor(6, 12, 6, 48); f != 0.0 {
		t.Errorf("temporalFactor(6) = %v, want 0.0", f)
	}
	if f := temporalFactor(48, 12, 6, 48); f != 0.0 {
		t.Errorf("temporalFactor(48) = %v, want 0.0", f)
	}
}

func TestBaselineFactorClampedToZero(t *testing.T) {
	if f := baselineFactor(0, 300); f != 1.0 {
		t.Errorf("baselineFactor(0) = %v, want 1.0", f)
	}
	if f := baselineFactor(600, 300); f != 0.0 {
		t.Errorf("baselineFactor(600) = %v, want 0.0 (clamped)", f)
	}
}
