package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/groundline/insar-pipeline/internal/catalog"
	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/fsutil"
	"github.com/groundline/insar-pipeline/internal/geo"
	"github.com/groundline/insar-pipeline/internal/raster"
	"github.com/groundline/insar-pipeline/internal/store"
	"github.com/groundline/insar-pipeline/internal/upstream"
)

const squareWKT = "POLYGON((2.3512 48.8516, 2.3532 48.8516, 2.3532 48.8616, 2.3512 48.8616, 2.3512 48.8516))"

type fakeStore struct {
	infra        *store.Infrastructure
	pointCount   int
	points       []store.Point
	jobs         map[string]*store.Job
	createCalls  int
	cancelled    []string
	retryCounts  map[string]int
	claimQueue   []*store.ClaimedJob
	recoverCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*store.Job{}, retryCounts: map[string]int{}}
}

func (f *fakeStore) GetInfrastructure(ctx context.Context, id string) (*store.Infrastructure, error) {
	if f.infra == nil {
		return nil, errs.ErrInfrastructureNotFound
	}
	return f.infra, nil
}

func (f *fakeStore) CountPoints(ctx context.Context, infrastructureID string) (int, error) {
	return f.pointCount, nil
}

func (f *fakeStore) ListPoints(ctx context.Context, infrastructureID string) ([]store.Point, error) {
	return f.points, nil
}

func (f *fakeStore) CreateJob(ctx context.Context, infrastructureID, upstreamID, bboxWKT, referenceGranule, secondaryGranule string) (string, error) {
	f.createCalls++
	id := "job-1"
	f.jobs[id] = &store.Job{
		ID: id, InfrastructureID: infrastructureID, UpstreamID: upstreamID, Status: store.JobStatusPending,
		BBoxWKT: bboxWKT, ReferenceGranule: referenceGranule, SecondaryGranule: secondaryGranule,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*store.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, errs.ErrInfrastructureNotFound
	}
	return j, nil
}

func (f *fakeStore) CancelJob(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeStore) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	f.retryCounts[id]++
	return f.retryCounts[id], nil
}

func (f *fakeStore) ClaimNext(ctx context.Context) (*store.ClaimedJob, error) {
	if len(f.claimQueue) == 0 {
		return nil, nil
	}
	c := f.claimQueue[0]
	f.claimQueue = f.claimQueue[1:]
	return c, nil
}

func (f *fakeStore) RecoverNonTerminalJobs(ctx context.Context) (int, error) {
	return f.recoverCount, nil
}

type fakeCatalog struct {
	candidates []catalog.PairCandidate
	err        error
}

func (f *fakeCatalog) FindPairs(ctx context.Context, aoi geo.Polygon, start, end time.Time) ([]catalog.PairCandidate, error) {
	return f.candidates, f.err
}

type fakeUpstream struct {
	submitID  string
	err       error
	status    *upstream.JobStatus
	statusErr error
}

func (f *fakeUpstream) SubmitINSARJob(ctx context.Context, name, referenceGranule, secondaryGranule string) (string, error) {
	return f.submitID, f.err
}

func (f *fakeUpstream) GetJobStatus(ctx context.Context, upstreamJobID string) (*upstream.JobStatus, error) {
	return f.status, f.statusErr
}

type fakeSampler struct {
	measurements []raster.Measurement
	err          error
}

func (f *fakeSampler) Sample(ctx context.Context, files []raster.OutputFile, points []store.Point) ([]raster.Measurement, error) {
	return f.measurements, f.err
}

type fakeDeformer struct {
	inserted      []raster.Measurement
	recomputedIDs []string
}

func (f *fakeDeformer) BulkInsert(ctx context.Context, jobID string, measurements []raster.Measurement) (int, error) {
	f.inserted = append(f.inserted, measurements...)
	return len(measurements), nil
}

func (f *fakeDeformer) RecomputeVelocities(ctx context.Context, pointIDs []string) error {
	f.recomputedIDs = pointIDs
	return nil
}

func TestSubmitJobRejectsInfrastructureWithNoPoints(t *testing.T) {
	fs := newFakeStore()
	fs.infra = &store.Infrastructure{ID: "inf-1", WKT: squareWKT}
	fs.pointCount = 0

	o := New(fs, nil, nil, nil, nil, fsutil.NewMemoryFileSystem(), config.OrchestratorConfig{}, "./workdir")
	_, err := o.SubmitJob(context.Background(), "inf-1", time.Now(), time.Now())
	if err != errs.ErrNoPointsForInfrastructure {
		t.Fatalf("SubmitJob() error = %v, want ErrNoPointsForInfrastructure", err)
	}
}

func TestSubmitJobCreatesPendingJobForBestPair(t *testing.T) {
	fs := newFakeStore()
	fs.infra = &store.Infrastructure{ID: "inf-1", WKT: squareWKT}
	fs.pointCount = 42

	cat := &fakeCatalog{candidates: []catalog.PairCandidate{
		{ReferenceGranule: "REF", SecondaryGranule: "SEC", QualityScore: 0.8},
		{ReferenceGranule: "REF2", SecondaryGranule: "SEC2", QualityScore: 0.4},
	}}
	up := &fakeUpstream{submitID: "up-77"}

	o := New(fs, cat, up, nil, nil, fsutil.NewMemoryFileSystem(), config.OrchestratorConfig{}, "./workdir")
	jobID, err := o.SubmitJob(context.Background(), "inf-1", time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	job := fs.jobs[jobID]
	if job == nil {
		t.Fatal("SubmitJob() created no job row")
	}
	if job.ReferenceGranule != "REF" || job.SecondaryGranule != "SEC" {
		t.Errorf("job pair = (%s, %s), want the top-scored (REF, SEC)", job.ReferenceGranule, job.SecondaryGranule)
	}
	if job.UpstreamID != "up-77" {
		t.Errorf("UpstreamID = %q, want up-77", job.UpstreamID)
	}
	if job.Status != store.JobStatusPending {
		t.Errorf("Status = %q, want PENDING", job.Status)
	}
}

func TestSubmitJobSurfacesNoSuitablePairs(t *testing.T) {
	fs := newFakeStore()
	fs.infra = &store.Infrastructure{ID: "inf-1", WKT: squareWKT}
	fs.pointCount = 42

	cat := &fakeCatalog{err: errs.ErrNoSuitablePairs}
	o := New(fs, cat, &fakeUpstream{}, nil, nil, fsutil.NewMemoryFileSystem(), config.OrchestratorConfig{}, "./workdir")
	_, err := o.SubmitJob(context.Background(), "inf-1", time.Now().AddDate(0, -1, 0), time.Now())
	if err != errs.ErrNoSuitablePairs {
		t.Fatalf("SubmitJob() error = %v, want ErrNoSuitablePairs", err)
	}
	if fs.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0 when no pair qualifies", fs.createCalls)
	}
}

func TestRetryJobRejectsNonTerminalJob(t *testing.T) {
	fs := newFakeStore()
	fs.jobs["job-1"] = &store.Job{ID: "job-1", Status: store.JobStatusRunning}

	o := New(fs, nil, &fakeUpstream{}, nil, nil, fsutil.NewMemoryFileSystem(), config.OrchestratorConfig{}, "./workdir")
	_, err := o.RetryJob(context.Background(), "job-1")
	if err == nil {
		t.Fatal("RetryJob() error = nil, want error for a RUNNING job")
	}
}

func TestCancelJobDelegatesToStore(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, nil, nil, nil, nil, fsutil.NewMemoryFileSystem(), config.OrchestratorConfig{}, "./workdir")
	if err := o.CancelJob(context.Background(), "job-1"); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if len(fs.cancelled) != 1 || fs.cancelled[0] != "job-1" {
		t.Errorf("cancelled = %v, want [job-1]", fs.cancelled)
	}
}

func TestBackoffDelayGrowsExponentiallyUpToCap(t *testing.T) {
	if d := backoffDelay(1, 1000, 60000); d != time.Second {
		t.Errorf("backoffDelay(1) = %v, want 1s", d)
	}
	if d := backoffDelay(3, 1000, 60000); d != 4*time.Second {
		t.Errorf("backoffDelay(3) = %v, want 4s", d)
	}
	if d := backoffDelay(20, 1000, 60000); d != 60*time.Second {
		t.Errorf("backoffDelay(20) = %v, want capped at 60s", d)
	}
}

func TestUniquePointIDsDeduplicates(t *testing.T) {
	ids := uniquePointIDs([]raster.Measurement{
		{PointID: "p-1"}, {PointID: "p-2"}, {PointID: "p-1"},
	})
	if len(ids) != 2 {
		t.Fatalf("uniquePointIDs() = %v, want 2 unique ids", ids)
	}
}
