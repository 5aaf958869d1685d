package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DeformationReading is one point's displacement for one acquisition
// date, as produced by the raster sampler before it has a database ID.
type DeformationReading struct {
	PointID           string
	JobID             string
	Date              time.Time
	DisplacementMM    float64
	Coherence         *float64
	LOSDisplacementMM *float64
}

// BulkInsertDeformations writes a batch of readings via pgx's COPY
// protocol into a staging table, then upserts from staging into
// deformations so a rerun of the same job/date pair overwrites rather
// than duplicates, per the point_id/job_id/date uniqueness constraint.
// Batches larger than chunkSize are split across multiple COPY calls to
// bound per-transaction memory.
func (s *Store) BulkInsertDeformations(ctx context.Context, readings []DeformationReading, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = len(readings)
	}
	total := 0
	for start := 0; start < len(readings); start += chunkSize {
		end := start + chunkSize
		if end > len(readings) {
			end = len(readings)
		}
		n, err := s.bulkInsertChunk(ctx, readings[start:end])
		if err != nil {
			return total, fmt.Errorf("bulk insert deformations chunk [%d:%d): %w", start, end, err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) bulkInsertChunk(ctx context.Context, readings []DeformationReading) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin deformation chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE deformation_staging (
			point_id uuid, job_id uuid, date date, displacement_mm numeric, coherence real,
			los_displacement_mm numeric
		) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("create deformation staging table: %w", err)
	}

	rows := make([][]interface{}, len(readings))
	for i, r := range readings {
		rows[i] = []interface{}{r.PointID, r.JobID, r.Date, r.DisplacementMM, r.Coherence, r.LOSDisplacementMM}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"deformation_staging"},
		[]string{"point_id", "job_id", "date", "displacement_mm", "coherence", "los_displacement_mm"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, fmt.Errorf("copy deformations into staging: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO deformations (id, point_id, job_id, date, displacement_mm, coherence, los_displacement_mm)
		SELECT gen_random_uuid(), point_id, job_id, date, displacement_mm, coherence, los_displacement_mm
		FROM deformation_staging
		ON CONFLICT (point_id, job_id, date) DO UPDATE SET
			displacement_mm = EXCLUDED.displacement_mm,
			coherence = EXCLUDED.coherence,
			los_displacement_mm = EXCLUDED.los_displacement_mm`)
	if err != nil {
		return 0, fmt.Errorf("upsert deformations from staging: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit deformation chunk: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeformationSeries is one point's full displacement history, used as
// input to velocity regression.
type DeformationSeries struct {
	ID             string
	Date           time.Time
	DisplacementMM float64
	Coherence      *float64
}

// ListDeformationSeries returns every reading for a point ordered by
// date, for velocity recomputation.
func (s *Store) ListDeformationSeries(ctx context.Context, pointID string) ([]DeformationSeries, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, date, displacement_mm, coherence
		FROM deformations WHERE point_id = $1 ORDER BY date`, pointID)
	if err != nil {
		return nil, fmt.Errorf("list deformation series for %s: %w", pointID, err)
	}
	defer rows.Close()

	var out []DeformationSeries
	for rows.Next() {
		var d DeformationSeries
		if err := rows.Scan(&d.ID, &d.Date, &d.DisplacementMM, &d.Coherence); err != nil {
			return nil, fmt.Errorf("scan deformation series row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateVelocities writes the computed mm/year velocity back onto each
// named deformation row.
func (s *Store) UpdateVelocities(ctx context.Context, velocityByID map[string]float64) error {
	if len(velocityByID) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update velocities: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queued := 0
	for id, v := range velocityByID {
		batch.Queue(`UPDATE deformations SET velocity_mm_year = $1 WHERE id = $2`, v, id)
		queued++
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("update velocity: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close velocity update batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update velocities: %w", err)
	}
	return nil
}
