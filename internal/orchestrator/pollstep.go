package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/monitoring"
	"github.com/groundline/insar-pipeline/internal/raster"
	"github.com/groundline/insar-pipeline/internal/store"
	"github.com/groundline/insar-pipeline/internal/upstream"
)

// pollStep advances one claimed job by a single poll of the upstream
// processing service. It always either reschedules the job for another
// poll or leaves it in a terminal state with its queue entry removed,
// and always resolves the claim (commit or abort) before returning.
func (o *Orchestrator) pollStep(ctx context.Context, claimed *store.ClaimedJob) error {
	job := claimed.Job

	if isTerminal(job.Status) {
		return claimed.Dequeue(ctx)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return abortWith(ctx, claimed, fmt.Errorf("wait for upstream rate limit: %w", err))
	}

	status, err := o.upstream.GetJobStatus(ctx, job.UpstreamID)
	if err != nil {
		if errors.Is(err, errs.ErrUpstreamTransient) || errors.Is(err, errs.ErrIOTransient) {
			return o.rescheduleOrTimeout(ctx, claimed, job)
		}
		return o.failJob(ctx, claimed, job, err.Error())
	}

	switch status.StatusCode {
	case upstream.StatusPending, upstream.StatusRunning:
		return o.rescheduleOrTimeout(ctx, claimed, job)

	case upstream.StatusFailed:
		msg := status.ErrorMessage
		if msg == "" {
			msg = "upstream processing service reported failure"
		}
		return o.failJob(ctx, claimed, job, msg)

	case upstream.StatusSucceeded:
		return o.completeJob(ctx, claimed, job, status)

	default:
		return o.failJob(ctx, claimed, job, fmt.Sprintf("unrecognized upstream status %q", status.StatusCode))
	}
}

func isTerminal(s store.JobStatus) bool {
	return s == store.JobStatusSucceeded || s == store.JobStatusFailed || s == store.JobStatusCancelled
}

// rescheduleOrTimeout bumps the job's retry count, fails it once the
// configured attempt ceiling or wall-clock budget is exceeded, and
// otherwise reschedules it with exponential backoff.
func (o *Orchestrator) rescheduleOrTimeout(ctx context.Context, claimed *store.ClaimedJob, job store.Job) error {
	attempts, err := o.store.IncrementRetryCount(ctx, job.ID)
	if err != nil {
		return abortWith(ctx, claimed, fmt.Errorf("increment retry count for job %s: %w", job.ID, err))
	}

	if attempts > o.cfg.GetMaxAttempts() {
		return o.failJob(ctx, claimed, job, fmt.Sprintf("%v: exceeded %d poll attempts", errs.ErrTimeout, o.cfg.GetMaxAttempts()))
	}

	// CreatedAt approximates the start of the wall-clock budget: the
	// Job row carries no separate RunningSince timestamp, and a job is
	// submitted to upstream (and so starts running there) essentially
	// at creation time in this pipeline.
	wallClock := time.Duration(o.cfg.GetJobWallClockMs()) * time.Millisecond
	if o.clock.Since(job.CreatedAt) > wallClock {
		return o.failJob(ctx, claimed, job, fmt.Sprintf("%v: exceeded %s wall-clock budget", errs.ErrTimeout, wallClock))
	}

	// A job still PENDING is now confirmed in flight upstream; record the
	// RUNNING transition in the same transaction as the reschedule so
	// GetJob reflects reality instead of leaving the job reported PENDING
	// for its entire poll lifetime. Idempotent for a job already RUNNING.
	if job.Status == store.JobStatusPending {
		if err := store.UpdateJobStatusTx(ctx, claimed.Tx(), job.ID, store.JobStatusRunning, job.UpstreamID, "", nil); err != nil {
			return abortWith(ctx, claimed, err)
		}
	}

	delay := backoffDelay(attempts, o.cfg.GetPollBaseMs(), o.cfg.GetPollMaxMs())
	if err := claimed.Reschedule(ctx, o.clock.Now().Add(delay)); err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	return nil
}

func backoffDelay(attempts int, baseMs, maxMs int64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delayMs := float64(baseMs) * math.Pow(2, float64(attempts-1))
	if delayMs > float64(maxMs) {
		delayMs = float64(maxMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

func (o *Orchestrator) failJob(ctx context.Context, claimed *store.ClaimedJob, job store.Job, message string) error {
	if err := store.UpdateJobStatusTx(ctx, claimed.Tx(), job.ID, store.JobStatusFailed, job.UpstreamID, message, nil); err != nil {
		return abortWith(ctx, claimed, err)
	}
	if err := claimed.Dequeue(ctx); err != nil {
		return fmt.Errorf("dequeue failed job %s: %w", job.ID, err)
	}
	o.cleanupWorkingDir(job.ID)
	return nil
}

// completeJob runs the synchronous post-processing step: download and
// sample the job's output rasters, persist the resulting measurements,
// recompute affected points' velocities, and record the job's final
// status in the same transaction that removes its queue entry.
func (o *Orchestrator) completeJob(ctx context.Context, claimed *store.ClaimedJob, job store.Job, status *upstream.JobStatus) error {
	if err := store.UpdateJobStatusTx(ctx, claimed.Tx(), job.ID, store.JobStatusProcessing, job.UpstreamID, "", nil); err != nil {
		return abortWith(ctx, claimed, err)
	}

	if dir, err := o.jobWorkingDir(job.ID); err == nil {
		if err := o.fs.MkdirAll(dir, 0o755); err != nil {
			monitoring.Jobf(job.ID, "create working dir failed: %v", err)
		}
	}

	files := make([]raster.OutputFile, len(status.Files))
	filenames := make([]string, len(status.Files))
	for i, f := range status.Files {
		files[i] = raster.OutputFile{URL: f.URL, Filename: f.Filename}
		filenames[i] = f.Filename
	}

	points, err := o.store.ListPoints(ctx, job.InfrastructureID)
	if err != nil {
		return o.failJob(ctx, claimed, job, fmt.Sprintf("list points: %v", err))
	}

	measurements, err := o.sampler.Sample(ctx, files, points)
	if err != nil {
		return o.failJob(ctx, claimed, job, fmt.Sprintf("sample rasters: %v", err))
	}

	if _, err := o.deformer.BulkInsert(ctx, job.ID, measurements); err != nil {
		return o.failJob(ctx, claimed, job, fmt.Sprintf("persist measurements: %v", err))
	}

	pointIDs := uniquePointIDs(measurements)
	if err := o.deformer.RecomputeVelocities(ctx, pointIDs); err != nil {
		monitoring.Jobf(job.ID, "recompute velocities failed: %v", err)
	}

	if err := store.SetJobFilesTx(ctx, claimed.Tx(), job.ID, filenames); err != nil {
		return abortWith(ctx, claimed, err)
	}
	processingMS := o.clock.Since(job.CreatedAt).Milliseconds()
	if err := store.UpdateJobStatusTx(ctx, claimed.Tx(), job.ID, store.JobStatusSucceeded, job.UpstreamID, "", &processingMS); err != nil {
		return abortWith(ctx, claimed, err)
	}
	if err := claimed.Dequeue(ctx); err != nil {
		return fmt.Errorf("dequeue completed job %s: %w", job.ID, err)
	}
	o.cleanupWorkingDir(job.ID)
	return nil
}

func uniquePointIDs(measurements []raster.Measurement) []string {
	seen := make(map[string]struct{}, len(measurements))
	out := make([]string, 0, len(measurements))
	for _, m := range measurements {
		if _, ok := seen[m.PointID]; ok {
			continue
		}
		seen[m.PointID] = struct{}{}
		out = append(out, m.PointID)
	}
	return out
}

func (o *Orchestrator) cleanupWorkingDir(jobID string) {
	dir, err := o.jobWorkingDir(jobID)
	if err != nil {
		return
	}
	if err := o.fs.RemoveAll(dir); err != nil {
		monitoring.Jobf(jobID, "remove working dir failed: %v", err)
	}
}

func abortWith(ctx context.Context, claimed *store.ClaimedJob, err error) error {
	if abortErr := claimed.Abort(ctx); abortErr != nil {
		return fmt.Errorf("%v (and abort failed: %v)", err, abortErr)
	}
	return err
}
