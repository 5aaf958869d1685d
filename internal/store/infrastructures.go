package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateInfrastructure inserts a new infrastructure from a WGS84 polygon
// given as well-known text, and returns the generated ID.
func (s *Store) CreateInfrastructure(ctx context.Context, ownerID, name, polygonWKT string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO infrastructures (id, owner_id, name, geometry)
		VALUES ($1, $2, $3, ST_GeomFromText($4, 4326))`,
		id, ownerID, name, polygonWKT)
	if err != nil {
		return "", fmt.Errorf("insert infrastructure: %w", err)
	}
	return id, nil
}

// GetInfrastructure fetches an infrastructure by ID.
func (s *Store) GetInfrastructure(ctx context.Context, id string) (*Infrastructure, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, ST_AsText(geometry), created_at
		FROM infrastructures WHERE id = $1`, id)
	var inf Infrastructure
	if err := row.Scan(&inf.ID, &inf.OwnerID, &inf.Name, &inf.WKT, &inf.CreatedAt); err != nil {
		return nil, fmt.Errorf("get infrastructure %s: %w", id, err)
	}
	return &inf, nil
}

// ListInfrastructures returns every infrastructure owned by ownerID.
func (s *Store) ListInfrastructures(ctx context.Context, ownerID string) ([]Infrastructure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, ST_AsText(geometry), created_at
		FROM infrastructures WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list infrastructures for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []Infrastructure
	for rows.Next() {
		var inf Infrastructure
		if err := rows.Scan(&inf.ID, &inf.OwnerID, &inf.Name, &inf.WKT, &inf.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan infrastructure row: %w", err)
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}

// DeleteInfrastructure removes an infrastructure and, via ON DELETE
// CASCADE, every point, job, and deformation derived from it.
func (s *Store) DeleteInfrastructure(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM infrastructures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete infrastructure %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("infrastructure %s not found", id)
	}
	return nil
}
