package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ClaimedJob is a queue entry the caller has exclusively locked for the
// duration of its poll step, plus the job row itself.
type ClaimedJob struct {
	Job   Job
	Entry QueueEntry
	tx    pgx.Tx
}

// ClaimNext locks and returns the single oldest queue entry whose
// not_before has elapsed, skipping rows any other worker already has
// locked. The caller must resolve the claim via Reschedule, Dequeue, or
// Abort; the transaction those methods close is what gives ClaimNext its
// mutual-exclusion guarantee across concurrent orchestrator workers.
func (s *Store) ClaimNext(ctx context.Context) (*ClaimedJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT job_id, not_before, attempts, enqueued_at
		FROM job_queue
		WHERE not_before <= now()
		ORDER BY not_before
		FOR UPDATE SKIP LOCKED
		LIMIT 1`)

	var entry QueueEntry
	if err := row.Scan(&entry.JobID, &entry.NotBefore, &entry.Attempts, &entry.EnqueuedAt); err != nil {
		tx.Rollback(ctx)
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next queue entry: %w", err)
	}

	// A per-job advisory lock, held for the transaction's lifetime,
	// guards against a second worker racing in on the same job_id via a
	// query that doesn't go through this table (the orchestrator's
	// cancellation path reads jobs directly).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.JobID); err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("acquire advisory lock for job %s: %w", entry.JobID, err)
	}

	jobRow := tx.QueryRow(ctx, `
		SELECT id, infrastructure_id, COALESCE(upstream_id, ''), status, ST_AsText(bbox),
		       reference_granule, secondary_granule, files, COALESCE(error_message, ''),
		       retry_count, processing_ms, created_at, completed_at
		FROM jobs WHERE id = $1`, entry.JobID)
	job, err := scanJob(jobRow)
	if err != nil {
		tx.Rollback(ctx)
		return nil, err
	}

	return &ClaimedJob{Job: *job, Entry: entry, tx: tx}, nil
}

// Reschedule bumps attempts and sets the next poll time, then commits
// the claim's transaction. Intended for jobs that are still in flight
// upstream and need another poll later.
func (c *ClaimedJob) Reschedule(ctx context.Context, notBefore time.Time) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE job_queue SET attempts = attempts + 1, not_before = $1 WHERE job_id = $2`,
		notBefore, c.Entry.JobID)
	if err != nil {
		c.tx.Rollback(ctx)
		return fmt.Errorf("reschedule job %s: %w", c.Entry.JobID, err)
	}
	return c.commit(ctx)
}

// Dequeue removes the job's queue entry, used once a job reaches a
// terminal state and no longer needs polling.
func (c *ClaimedJob) Dequeue(ctx context.Context) error {
	_, err := c.tx.Exec(ctx, `DELETE FROM job_queue WHERE job_id = $1`, c.Entry.JobID)
	if err != nil {
		c.tx.Rollback(ctx)
		return fmt.Errorf("dequeue job %s: %w", c.Entry.JobID, err)
	}
	return c.commit(ctx)
}

// Abort rolls back the claim's transaction without making any change,
// releasing the row lock and advisory lock so another worker may retry.
func (c *ClaimedJob) Abort(ctx context.Context) error {
	return c.tx.Rollback(ctx)
}

func (c *ClaimedJob) commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim for job %s: %w", c.Entry.JobID, err)
	}
	return nil
}

// Tx exposes the claim's transaction so the orchestrator can fold a job
// status update into the same commit as the queue mutation.
func (c *ClaimedJob) Tx() pgx.Tx {
	return c.tx
}

// NewClaimedJobForTesting builds a ClaimedJob from its fields directly,
// for orchestrator tests that need to exercise a poll step against a
// stub transaction rather than a live one from ClaimNext.
func NewClaimedJobForTesting(job Job, entry QueueEntry, tx pgx.Tx) *ClaimedJob {
	return &ClaimedJob{Job: job, Entry: entry, tx: tx}
}
