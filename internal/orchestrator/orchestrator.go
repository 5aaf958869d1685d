// Package orchestrator implements the Job Orchestrator: submitting new
// interferogram jobs against the best-scored pair discovered for an
// infrastructure, and driving every in-flight job through the upstream
// processing service's PENDING/RUNNING/SUCCEEDED/FAILED lifecycle to a
// terminal state, persisting the derived displacement series along the
// way.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/groundline/insar-pipeline/internal/catalog"
	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/fsutil"
	"github.com/groundline/insar-pipeline/internal/geo"
	"github.com/groundline/insar-pipeline/internal/monitoring"
	"github.com/groundline/insar-pipeline/internal/ratelimit"
	"github.com/groundline/insar-pipeline/internal/raster"
	"github.com/groundline/insar-pipeline/internal/security"
	"github.com/groundline/insar-pipeline/internal/store"
	"github.com/groundline/insar-pipeline/internal/timeutil"
	"github.com/groundline/insar-pipeline/internal/upstream"
)

// Store is the subset of *store.Store the orchestrator depends on.
type Store interface {
	GetInfrastructure(ctx context.Context, id string) (*store.Infrastructure, error)
	CountPoints(ctx context.Context, infrastructureID string) (int, error)
	ListPoints(ctx context.Context, infrastructureID string) ([]store.Point, error)
	CreateJob(ctx context.Context, infrastructureID, upstreamID, bboxWKT, referenceGranule, secondaryGranule string) (string, error)
	GetJob(ctx context.Context, id string) (*store.Job, error)
	CancelJob(ctx context.Context, id string) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ClaimNext(ctx context.Context) (*store.ClaimedJob, error)
	RecoverNonTerminalJobs(ctx context.Context) (int, error)
}

// Catalog is the subset of *catalog.Client the orchestrator depends on.
type Catalog interface {
	FindPairs(ctx context.Context, aoi geo.Polygon, start, end time.Time) ([]catalog.PairCandidate, error)
}

// Upstream is the subset of *upstream.Client the orchestrator depends
// on.
type Upstream interface {
	SubmitINSARJob(ctx context.Context, name, referenceGranule, secondaryGranule string) (string, error)
	GetJobStatus(ctx context.Context, upstreamJobID string) (*upstream.JobStatus, error)
}

// Sampler is the subset of *raster.Sampler the orchestrator depends on.
type Sampler interface {
	Sample(ctx context.Context, files []raster.OutputFile, points []store.Point) ([]raster.Measurement, error)
}

// Deformer is the subset of *deform.Deformations the orchestrator
// depends on.
type Deformer interface {
	BulkInsert(ctx context.Context, jobID string, measurements []raster.Measurement) (int, error)
	RecomputeVelocities(ctx context.Context, pointIDs []string) error
}

// Orchestrator wires pair discovery, the upstream processing service,
// raster sampling, and the deformation store to the durable job queue.
type Orchestrator struct {
	store      Store
	catalog    Catalog
	upstream   Upstream
	sampler    Sampler
	deformer   Deformer
	limiter    *ratelimit.Limiter
	fs         fsutil.FileSystem
	clock      timeutil.Clock
	cfg        config.OrchestratorConfig
	workingDir string
}

// New constructs an Orchestrator.
func New(s Store, c Catalog, u Upstream, sampler Sampler, d Deformer, fs fsutil.FileSystem, cfg config.OrchestratorConfig, workingDir string) *Orchestrator {
	return &Orchestrator{
		store:      s,
		catalog:    c,
		upstream:   u,
		sampler:    sampler,
		deformer:   d,
		limiter:    ratelimit.New(cfg.GetUpstreamRatePerMin()),
		fs:         fs,
		clock:      timeutil.RealClock{},
		cfg:        cfg,
		workingDir: workingDir,
	}
}

// SetClock overrides the orchestrator's time source, for tests that
// need deterministic control over poll-step wall-clock accounting.
func (o *Orchestrator) SetClock(c timeutil.Clock) {
	o.clock = c
}

// SubmitJob finds the best-scored Sentinel-1 pair for an infrastructure's
// area and date window, submits it to the upstream processing service,
// and persists the resulting job in PENDING status.
func (o *Orchestrator) SubmitJob(ctx context.Context, infrastructureID string, start, end time.Time) (string, error) {
	inf, err := o.store.GetInfrastructure(ctx, infrastructureID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrInfrastructureNotFound, err)
	}

	count, err := o.store.CountPoints(ctx, infrastructureID)
	if err != nil {
		return "", fmt.Errorf("count points for %s: %w", infrastructureID, err)
	}
	if count == 0 {
		return "", errs.ErrNoPointsForInfrastructure
	}

	aoi, err := geo.ParseWKTPolygon(inf.WKT)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrInvalidGeometry, err)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for upstream rate limit: %w", err)
	}
	candidates, err := o.catalog.FindPairs(ctx, aoi, start, end)
	if err != nil {
		return "", err
	}
	best := candidates[0]

	name := fmt.Sprintf("%s-%s-%s", infrastructureID, best.ReferenceGranule, best.SecondaryGranule)
	upstreamID, err := o.upstream.SubmitINSARJob(ctx, name, best.ReferenceGranule, best.SecondaryGranule)
	if err != nil {
		return "", err
	}

	jobID, err := o.store.CreateJob(ctx, infrastructureID, upstreamID, geo.ToWKT(aoi), best.ReferenceGranule, best.SecondaryGranule)
	if err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}
	return jobID, nil
}

// GetJob returns a job's current state.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// CancelJob marks a non-terminal job CANCELLED. The next poll step for
// that job observes the cancellation and drops it without further work.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	return o.store.CancelJob(ctx, jobID)
}

// RetryJob submits a fresh job for the same infrastructure and pair as a
// previously terminal, non-succeeded job, leaving the original row
// untouched as history.
func (o *Orchestrator) RetryJob(ctx context.Context, jobID string) (string, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != store.JobStatusFailed && job.Status != store.JobStatusCancelled {
		return "", fmt.Errorf("job %s is not in a retryable state (status=%s)", jobID, job.Status)
	}

	name := fmt.Sprintf("%s-%s-%s-retry", job.InfrastructureID, job.ReferenceGranule, job.SecondaryGranule)
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for upstream rate limit: %w", err)
	}
	upstreamID, err := o.upstream.SubmitINSARJob(ctx, name, job.ReferenceGranule, job.SecondaryGranule)
	if err != nil {
		return "", err
	}
	return o.store.CreateJob(ctx, job.InfrastructureID, upstreamID, job.BBoxWKT, job.ReferenceGranule, job.SecondaryGranule)
}

// Run starts worker goroutines that drain the durable queue until ctx is
// cancelled. It first re-enqueues any non-terminal job left over from a
// prior process's abrupt exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	n, err := o.store.RecoverNonTerminalJobs(ctx)
	if err != nil {
		return fmt.Errorf("recover non-terminal jobs at startup: %w", err)
	}
	if n > 0 {
		monitoring.Logf("orchestrator: recovered %d non-terminal job(s) for polling", n)
	}

	workers := o.cfg.GetWorkerCount()
	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			o.workerLoop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	const idlePoll = 2 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := o.store.ClaimNext(ctx)
		if err != nil {
			monitoring.Logf("orchestrator: claim next job failed: %v", err)
			time.Sleep(idlePoll)
			continue
		}
		if claimed == nil {
			time.Sleep(idlePoll)
			continue
		}

		if err := o.pollStep(ctx, claimed); err != nil {
			monitoring.Jobf(claimed.Job.ID, "poll step failed: %v", err)
		}
	}
}

func (o *Orchestrator) jobWorkingDir(jobID string) (string, error) {
	dir := filepath.Join(o.workingDir, jobID)
	if err := security.ValidatePathWithinDirectory(dir, o.workingDir); err != nil {
		return "", fmt.Errorf("compute working dir for job %s: %w", jobID, err)
	}
	return dir, nil
}
