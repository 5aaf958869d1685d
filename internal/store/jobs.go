package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateJob inserts a new job in pending status and seeds its queue
// entry in the same transaction, so a job is never visible without
// also being schedulable.
func (s *Store) CreateJob(ctx context.Context, infrastructureID, upstreamID, bboxWKT, referenceGranule, secondaryGranule string) (string, error) {
	id := uuid.NewString()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO jobs (id, infrastructure_id, upstream_id, status, bbox, reference_granule, secondary_granule)
		VALUES ($1, $2, NULLIF($3, ''), $4, ST_GeomFromText($5, 4326), $6, $7)`,
		id, infrastructureID, upstreamID, JobStatusPending, bboxWKT, referenceGranule, secondaryGranule); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_queue (job_id) VALUES ($1)`, id); err != nil {
		return "", fmt.Errorf("seed job queue entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit create job: %w", err)
	}
	return id, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, infrastructure_id, COALESCE(upstream_id, ''), status, ST_AsText(bbox),
		       reference_granule, secondary_granule, files, COALESCE(error_message, ''),
		       retry_count, processing_ms, created_at, completed_at
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateJobStatus transitions a job to a new status, optionally
// recording an upstream ID, error message, and processing duration.
// It runs on the pool; UpdateJobStatusTx is the variant that runs inside
// a caller's transaction.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status JobStatus, upstreamID, errMsg string, processingMS *int64) error {
	completedAt := "NULL"
	if status == JobStatusSucceeded || status == JobStatusFailed || status == JobStatusCancelled {
		completedAt = "now()"
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, upstream_id = NULLIF($2, ''), error_message = NULLIF($3, ''),
		       processing_ms = $4, completed_at = %s
		WHERE id = $5`, completedAt)
	_, err := s.pool.Exec(ctx, query, status, upstreamID, errMsg, processingMS, id)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", id, err)
	}
	return nil
}

// UpdateJobStatusTx performs the same transition as UpdateJobStatus but
// within a caller-supplied transaction, so the orchestrator can fold a
// job's terminal status update into the same commit as its queue
// dequeue when holding a ClaimedJob's advisory lock.
func UpdateJobStatusTx(ctx context.Context, tx pgx.Tx, id string, status JobStatus, upstreamID, errMsg string, processingMS *int64) error {
	completedAt := "NULL"
	if status == JobStatusSucceeded || status == JobStatusFailed || status == JobStatusCancelled {
		completedAt = "now()"
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, upstream_id = NULLIF($2, ''), error_message = NULLIF($3, ''),
		       processing_ms = $4, completed_at = %s
		WHERE id = $5`, completedAt)
	_, err := tx.Exec(ctx, query, status, upstreamID, errMsg, processingMS, id)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", id, err)
	}
	return nil
}

// SetJobFiles records the list of downloadable output file names the
// upstream service reported for a completed job.
func (s *Store) SetJobFiles(ctx context.Context, id string, files []string) error {
	b, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal job files: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE jobs SET files = $1 WHERE id = $2`, b, id)
	if err != nil {
		return fmt.Errorf("set job %s files: %w", id, err)
	}
	return nil
}

// SetJobFilesTx is SetJobFiles scoped to a caller-supplied transaction.
func SetJobFilesTx(ctx context.Context, tx pgx.Tx, id string, files []string) error {
	b, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal job files: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE jobs SET files = $1 WHERE id = $2`, b, id)
	if err != nil {
		return fmt.Errorf("set job %s files: %w", id, err)
	}
	return nil
}

// IncrementRetryCount bumps a job's retry counter and returns the new
// value, used by the orchestrator to enforce the configured attempt
// ceiling.
func (s *Store) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment retry count for %s: %w", id, err)
	}
	return n, nil
}

// ListJobsByInfrastructure returns every job submitted for an
// infrastructure, most recent first.
func (s *Store) ListJobsByInfrastructure(ctx context.Context, infrastructureID string) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, infrastructure_id, COALESCE(upstream_id, ''), status, ST_AsText(bbox),
		       reference_granule, secondary_granule, files, COALESCE(error_message, ''),
		       retry_count, processing_ms, created_at, completed_at
		FROM jobs WHERE infrastructure_id = $1 ORDER BY created_at DESC`, infrastructureID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", infrastructureID, err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// CancelJob transitions a job to CANCELLED, honoring the same per-job
// advisory lock discipline ClaimNext uses so a cancellation request
// never races a worker's in-flight poll step. Terminal jobs are left
// untouched.
func (s *Store) CancelJob(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel job: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return fmt.Errorf("acquire advisory lock for job %s: %w", id, err)
	}

	var status JobStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status); err != nil {
		return fmt.Errorf("read job %s status: %w", id, err)
	}
	if status == JobStatusSucceeded || status == JobStatusFailed || status == JobStatusCancelled {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = now() WHERE id = $2`,
		JobStatusCancelled, id); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM job_queue WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("dequeue cancelled job %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

// RecoverNonTerminalJobs re-seeds a queue entry for every job not in a
// terminal status, for use once at orchestrator startup. Jobs that
// already have a queue entry (the common case) are left untouched; the
// per-job advisory lock taken by ClaimNext absorbs any resulting
// duplicate delivery.
func (s *Store) RecoverNonTerminalJobs(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		INSERT INTO job_queue (job_id)
		SELECT id FROM jobs
		WHERE status NOT IN ($1, $2, $3)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING job_id`,
		JobStatusSucceeded, JobStatusFailed, JobStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("recover non-terminal jobs: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// jobRowScanner is satisfied by both pgx.Row and pgx.Rows.
type jobRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row jobRowScanner) (*Job, error) {
	var j Job
	var filesJSON []byte
	if err := row.Scan(&j.ID, &j.InfrastructureID, &j.UpstreamID, &j.Status, &j.BBoxWKT,
		&j.ReferenceGranule, &j.SecondaryGranule, &filesJSON, &j.ErrorMessage,
		&j.RetryCount, &j.ProcessingMS, &j.CreatedAt, &j.CompletedAt); err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &j.Files); err != nil {
			return nil, fmt.Errorf("unmarshal job files: %w", err)
		}
	}
	return &j, nil
}
