// Package grid implements the point-grid generation contract: given an
// infrastructure's area of interest, estimate how many monitoring
// points a given spacing would produce, and commit that lattice to
// storage.
package grid

import (
	"context"
	"fmt"

	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/geo"
	"github.com/groundline/insar-pipeline/internal/store"
)

// Store is the subset of *store.Store the grid generator depends on.
type Store interface {
	GetInfrastructure(ctx context.Context, id string) (*store.Infrastructure, error)
	CountPoints(ctx context.Context, infrastructureID string) (int, error)
	BulkInsertPoints(ctx context.Context, infrastructureID string, lons, lats []float64) ([]string, error)
}

// Generator wires geometry math to storage for the grid generation
// operation.
type Generator struct {
	store Store
	cfg   config.GridConfig
}

// New constructs a Generator.
func New(s Store, cfg config.GridConfig) *Generator {
	return &Generator{store: s, cfg: cfg}
}

// Estimate summarizes what generating a grid would produce, without
// persisting anything.
type Estimate struct {
	AreaKM2    float64
	PointCount int
	// EstimatedCost previews the processing-credit cost of monitoring
	// this grid. A single interferogram pair covers any AOI this
	// pipeline accepts, so the preview is the flat per-job rate.
	EstimatedCost float64
}

// Estimate reports the polygon area, how many lattice points a given
// spacing would produce for infrastructureID, and the previewed
// processing cost. Returns errs.ErrAreaTooLarge or
// errs.ErrPointLimitExceeded when the configured ceilings would be
// exceeded.
func (g *Generator) Estimate(ctx context.Context, infrastructureID string, spacingM float64) (Estimate, error) {
	inf, err := g.store.GetInfrastructure(ctx, infrastructureID)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", errs.ErrInfrastructureNotFound, err)
	}
	polygon, err := parseWKTPolygon(inf.WKT)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", errs.ErrInvalidGeometry, err)
	}

	est := Estimate{
		AreaKM2:       geo.AreaKM2(polygon),
		EstimatedCost: g.cfg.GetJobCostCredits(),
	}
	if maxArea := g.cfg.GetMaxAreaKM2(); est.AreaKM2 > maxArea {
		return est, fmt.Errorf("%w: area %.3f km^2 exceeds limit %.3f km^2", errs.ErrAreaTooLarge, est.AreaKM2, maxArea)
	}

	if spacingM <= 0 {
		spacingM = g.cfg.GetDefaultSpacingM()
	}
	est.PointCount, err = geo.EstimateCount(polygon, spacingM, g.cfg.GetMaxAbsLatitudeDeg())
	if err != nil {
		return est, fmt.Errorf("%w: %v", errs.ErrInvalidGeometry, err)
	}
	if maxPoints := g.cfg.GetMaxPoints(); est.PointCount > maxPoints {
		return est, fmt.Errorf("%w: estimated %d points exceeds ceiling %d", errs.ErrPointLimitExceeded, est.PointCount, maxPoints)
	}
	return est, nil
}

// Generate runs Estimate's same checks, then persists the lattice in a
// single atomic bulk insert. An infrastructure that already has points
// is rejected rather than regenerated; a failed insert leaves no rows
// behind, so the caller may simply retry.
func (g *Generator) Generate(ctx context.Context, infrastructureID string, spacingM float64) ([]string, error) {
	existing, err := g.store.CountPoints(ctx, infrastructureID)
	if err != nil {
		return nil, fmt.Errorf("check existing points: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: infrastructure %s already has %d points", errs.ErrPointLimitExceeded, infrastructureID, existing)
	}

	inf, err := g.store.GetInfrastructure(ctx, infrastructureID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInfrastructureNotFound, err)
	}
	polygon, err := parseWKTPolygon(inf.WKT)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidGeometry, err)
	}

	if spacingM <= 0 {
		spacingM = g.cfg.GetDefaultSpacingM()
	}
	if _, err := g.Estimate(ctx, infrastructureID, spacingM); err != nil {
		return nil, err
	}

	pts, err := geo.GenerateLattice(polygon, spacingM, g.cfg.GetMaxAbsLatitudeDeg())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidGeometry, err)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: infrastructure %s produced no points at %.1fm spacing", errs.ErrNoPointsForInfrastructure, infrastructureID, spacingM)
	}

	lons := make([]float64, len(pts))
	lats := make([]float64, len(pts))
	for i, p := range pts {
		lons[i] = p.X
		lats[i] = p.Y
	}
	return g.store.BulkInsertPoints(ctx, infrastructureID, lons, lats)
}

// parseWKTPolygon decodes a WGS84 polygon's well-known text
// representation into geo's Polygon type.
func parseWKTPolygon(s string) (geo.Polygon, error) {
	return geo.ParseWKTPolygon(s)
}
