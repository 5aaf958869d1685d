package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/store"
)

type fakeStore struct {
	infra       *store.Infrastructure
	pointCount  int
	insertedLon []float64
	insertedLat []float64
}

func (f *fakeStore) GetInfrastructure(ctx context.Context, id string) (*store.Infrastructure, error) {
	if f.infra == nil {
		return nil, errors.New("not found")
	}
	return f.infra, nil
}

func (f *fakeStore) CountPoints(ctx context.Context, infrastructureID string) (int, error) {
	return f.pointCount, nil
}

func (f *fakeStore) BulkInsertPoints(ctx context.Context, infrastructureID string, lons, lats []float64) ([]string, error) {
	f.insertedLon = lons
	f.insertedLat = lats
	ids := make([]string, len(lons))
	for i := range ids {
		ids[i] = "point-id"
	}
	return ids, nil
}

const squareWKT = "POLYGON((2.3512 48.8516, 2.3532 48.8516, 2.3532 48.8616, 2.3512 48.8616, 2.3512 48.8516))"

func TestEstimateWithinLimits(t *testing.T) {
	fs := &fakeStore{infra: &store.Infrastructure{ID: "inf-1", WKT: squareWKT}}
	g := New(fs, config.GridConfig{})

	est, err := g.Estimate(context.Background(), "inf-1", 5)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if est.AreaKM2 <= 0 {
		t.Errorf("Estimate() area = %v, want > 0", est.AreaKM2)
	}
	if est.PointCount <= 0 {
		t.Errorf("Estimate() count = %v, want > 0", est.PointCount)
	}
	if est.EstimatedCost <= 0 {
		t.Errorf("Estimate() cost = %v, want > 0", est.EstimatedCost)
	}
}

func TestEstimateRejectsAreaTooLarge(t *testing.T) {
	fs := &fakeStore{infra: &store.Infrastructure{ID: "inf-1", WKT: squareWKT}}
	tinyMax := 0.0001
	g := New(fs, config.GridConfig{MaxAreaKM2: &tinyMax})

	_, err := g.Estimate(context.Background(), "inf-1", 5)
	if !errors.Is(err, errs.ErrAreaTooLarge) {
		t.Errorf("Estimate() error = %v, want errs.ErrAreaTooLarge", err)
	}
}

func TestEstimateRejectsPointLimitExceeded(t *testing.T) {
	fs := &fakeStore{infra: &store.Infrastructure{ID: "inf-1", WKT: squareWKT}}
	tinyLimit := 1
	g := New(fs, config.GridConfig{MaxPoints: &tinyLimit})

	_, err := g.Estimate(context.Background(), "inf-1", 5)
	if !errors.Is(err, errs.ErrPointLimitExceeded) {
		t.Errorf("Estimate() error = %v, want errs.ErrPointLimitExceeded", err)
	}
}

func TestGeneratePersistsLattice(t *testing.T) {
	fs := &fakeStore{infra: &store.Infrastructure{ID: "inf-1", WKT: squareWKT}}
	g := New(fs, config.GridConfig{})

	ids, err := g.Generate(context.Background(), "inf-1", 5)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(ids) == 0 {
		t.Error("Generate() returned no point IDs")
	}
	if len(fs.insertedLon) != len(ids) {
		t.Errorf("inserted %d lons, want %d", len(fs.insertedLon), len(ids))
	}
}

func TestGenerateRejectsWhenPointsAlreadyExist(t *testing.T) {
	fs := &fakeStore{infra: &store.Infrastructure{ID: "inf-1", WKT: squareWKT}, pointCount: 42}
	g := New(fs, config.GridConfig{})

	_, err := g.Generate(context.Background(), "inf-1", 5)
	if !errors.Is(err, errs.ErrPointLimitExceeded) {
		t.Errorf("Generate() error = %v, want errs.ErrPointLimitExceeded", err)
	}
}

func TestGenerateRejectsInfrastructureNotFound(t *testing.T) {
	fs := &fakeStore{}
	g := New(fs, config.GridConfig{})

	_, err := g.Generate(context.Background(), "missing", 5)
	if !errors.Is(err, errs.ErrInfrastructureNotFound) {
		t.Errorf("Generate() error = %v, want errs.ErrInfrastructureNotFound", err)
	}
}
