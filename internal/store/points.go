package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BulkInsertPoints persists a grid of points for an infrastructure in
// one transaction, loading them with a single pgx binary COPY rather
// than one-row-at-a-time inserts.
func (s *Store) BulkInsertPoints(ctx context.Context, infrastructureID string, lons, lats []float64) ([]string, error) {
	if len(lons) != len(lats) {
		return nil, fmt.Errorf("bulk insert points: lon/lat length mismatch (%d vs %d)", len(lons), len(lats))
	}
	ids := make([]string, len(lons))
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk point insert: %w", err)
	}
	defer tx.Rollback(ctx)

	// A temporary staging table lets CopyFrom carry raw lon/lat and the
	// geometry column gets built server-side from it, since pgx's binary
	// COPY protocol cannot encode PostGIS's EWKB geometry type directly.
	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE point_staging (id uuid, lon double precision, lat double precision) ON COMMIT DROP`); err != nil {
		return nil, fmt.Errorf("create point staging table: %w", err)
	}

	rows := make([][]interface{}, len(lons))
	for i := range lons {
		rows[i] = []interface{}{ids[i], lons[i], lats[i]}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"point_staging"},
		[]string{"id", "lon", "lat"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return nil, fmt.Errorf("copy points into staging: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO points (id, infrastructure_id, location)
		SELECT id, $1, ST_SetSRID(ST_MakePoint(lon, lat), 4326)
		FROM point_staging`, infrastructureID); err != nil {
		return nil, fmt.Errorf("insert points from staging: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bulk point insert: %w", err)
	}
	return ids, nil
}

// ListPoints returns every point belonging to an infrastructure.
func (s *Store) ListPoints(ctx context.Context, infrastructureID string) ([]Point, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, infrastructure_id, ST_X(location), ST_Y(location), COALESCE(soil_type, ''), created_at
		FROM points WHERE infrastructure_id = $1 ORDER BY created_at`, infrastructureID)
	if err != nil {
		return nil, fmt.Errorf("list points for %s: %w", infrastructureID, err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.InfrastructureID, &p.Lon, &p.Lat, &p.SoilType, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan point row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPointIDs returns the IDs of every point belonging to an
// infrastructure, for callers that need identity but not location.
func (s *Store) ListPointIDs(ctx context.Context, infrastructureID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM points WHERE infrastructure_id = $1 ORDER BY created_at`, infrastructureID)
	if err != nil {
		return nil, fmt.Errorf("list point ids for %s: %w", infrastructureID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan point id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountPoints returns how many points currently exist for an
// infrastructure, used to decide whether a grid has already been
// generated.
func (s *Store) CountPoints(ctx context.Context, infrastructureID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM points WHERE infrastructure_id = $1`, infrastructureID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count points for %s: %w", infrastructureID, err)
	}
	return n, nil
}
