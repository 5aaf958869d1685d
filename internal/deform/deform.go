// Package deform implements the Deformation Store use cases: persisting
// sampled measurements from a completed job and recomputing each
// affected point's displacement velocity from its full history.
package deform

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/raster"
	"github.com/groundline/insar-pipeline/internal/store"
	"github.com/groundline/insar-pipeline/internal/units"
)

// Store is the subset of *store.Store the deformation use cases depend
// on.
type Store interface {
	BulkInsertDeformations(ctx context.Context, readings []store.DeformationReading, chunkSize int) (int, error)
	ListPointIDs(ctx context.Context, infrastructureID string) ([]string, error)
	ListDeformationSeries(ctx context.Context, pointID string) ([]store.DeformationSeries, error)
	UpdateVelocities(ctx context.Context, velocityByID map[string]float64) error
}

// Deformations persists raster measurements and keeps point velocities
// current.
type Deformations struct {
	store Store
	cfg   config.StorageConfig
}

// New constructs a Deformations use-case layer.
func New(s Store, cfg config.StorageConfig) *Deformations {
	return &Deformations{store: s, cfg: cfg}
}

// BulkInsert persists one job's sampled measurements.
func (d *Deformations) BulkInsert(ctx context.Context, jobID string, measurements []raster.Measurement) (int, error) {
	if len(measurements) == 0 {
		return 0, nil
	}
	readings := make([]store.DeformationReading, len(measurements))
	for i, m := range measurements {
		readings[i] = store.DeformationReading{
			PointID:           m.PointID,
			JobID:             jobID,
			Date:              m.Date,
			DisplacementMM:    m.DisplacementMM,
			Coherence:         m.Coherence,
			LOSDisplacementMM: m.LOSDisplacementMM,
		}
	}
	n, err := d.store.BulkInsertDeformations(ctx, readings, d.cfg.GetBulkChunkSize())
	if err != nil {
		return 0, fmt.Errorf("insert deformation readings for job %s: %w", jobID, err)
	}
	return n, nil
}

// RecomputeVelocitiesForInfrastructure recomputes every point in the
// infrastructure, regardless of which jobs contributed readings. Used
// when a caller wants a full refresh rather than the incremental
// per-job recompute the orchestrator performs.
func (d *Deformations) RecomputeVelocitiesForInfrastructure(ctx context.Context, infrastructureID string) error {
	ids, err := d.store.ListPointIDs(ctx, infrastructureID)
	if err != nil {
		return fmt.Errorf("list points for infrastructure %s: %w", infrastructureID, err)
	}
	return d.RecomputeVelocities(ctx, ids)
}

// RecomputeVelocities fits a linear displacement-over-time trend for
// every point in pointIDs and writes the annualized mm/year result back
// onto each of that point's deformation rows. A point with fewer than
// two readings has no velocity yet and is left untouched.
func (d *Deformations) RecomputeVelocities(ctx context.Context, pointIDs []string) error {
	velocityByRowID := make(map[string]float64)
	for _, pointID := range pointIDs {
		series, err := d.store.ListDeformationSeries(ctx, pointID)
		if err != nil {
			return fmt.Errorf("list deformation series for point %s: %w", pointID, err)
		}
		if len(series) < 2 {
			continue
		}

		earliest := series[0].Date
		xs := make([]float64, len(series))
		ys := make([]float64, len(series))
		for i, s := range series {
			xs[i] = s.Date.Sub(earliest).Hours() / 24
			ys[i] = s.DisplacementMM
		}

		_, slopePerDay := stat.LinearRegression(xs, ys, nil, false)
		velocity := units.SlopePerDayToMMYear(slopePerDay)

		for _, s := range series {
			velocityByRowID[s.ID] = velocity
		}
	}

	if err := d.store.UpdateVelocities(ctx, velocityByRowID); err != nil {
		return fmt.Errorf("update point velocities: %w", err)
	}
	return nil
}
