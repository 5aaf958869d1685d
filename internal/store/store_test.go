package store

import (
	"context"
	"os"
	"testing"
)

// openTestStore connects to a scratch Postgres database named by
// INSAR_TEST_DATABASE_URL and applies migrations, skipping the test
// suite entirely when the variable is unset (no Postgres available in
// this environment).
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("INSAR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("INSAR_TEST_DATABASE_URL not set, skipping storage tests")
	}
	if err := MigrateUp(dsn, t.Logf); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCreateAndGetInfrastructure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateInfrastructure(ctx, "owner-1", "bridge-7",
		"POLYGON((2.35 48.85, 2.36 48.85, 2.36 48.86, 2.35 48.86, 2.35 48.85))")
	if err != nil {
		t.Fatalf("CreateInfrastructure() error = %v", err)
	}

	got, err := s.GetInfrastructure(ctx, id)
	if err != nil {
		t.Fatalf("GetInfrastructure() error = %v", err)
	}
	if got.OwnerID != "owner-1" || got.Name != "bridge-7" {
		t.Errorf("GetInfrastructure() = %+v, unexpected owner/name", got)
	}
}

func TestBulkInsertAndListPoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	infID, err := s.CreateInfrastructure(ctx, "owner-2", "dam-1",
		"POLYGON((2.35 48.85, 2.36 48.85, 2.36 48.86, 2.35 48.86, 2.35 48.85))")
	if err != nil {
		t.Fatalf("CreateInfrastructure() error = %v", err)
	}

	lons := []float64{2.351, 2.352, 2.353}
	lats := []float64{48.851, 48.852, 48.853}
	ids, err := s.BulkInsertPoints(ctx, infID, lons, lats)
	if err != nil {
		t.Fatalf("BulkInsertPoints() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("BulkInsertPoints() returned %d ids, want 3", len(ids))
	}

	pts, err := s.ListPoints(ctx, infID)
	if err != nil {
		t.Fatalf("ListPoints() error = %v", err)
	}
	if len(pts) != 3 {
		t.Errorf("ListPoints() returned %d points, want 3", len(pts))
	}

	count, err := s.CountPoints(ctx, infID)
	if err != nil {
		t.Fatalf("CountPoints() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountPoints() = %d, want 3", count)
	}
}

func TestJobLifecycleAndQueueClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	infID, err := s.CreateInfrastructure(ctx, "owner-3", "rail-12",
		"POLYGON((2.35 48.85, 2.36 48.85, 2.36 48.86, 2.35 48.86, 2.35 48.85))")
	if err != nil {
		t.Fatalf("CreateInfrastructure() error = %v", err)
	}

	jobID, err := s.CreateJob(ctx, infID, "ups-42",
		"POLYGON((2.35 48.85, 2.36 48.85, 2.36 48.86, 2.35 48.86, 2.35 48.85))",
		"S1A_REF_GRANULE", "S1A_SEC_GRANULE")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	claimed, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNext() returned nil, want a claimed job")
	}
	if claimed.Job.ID != jobID {
		t.Errorf("ClaimNext() claimed job %s, want %s", claimed.Job.ID, jobID)
	}
	if claimed.Job.Status != JobStatusPending {
		t.Errorf("claimed job status = %s, want pending", claimed.Job.Status)
	}

	if err := claimed.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	second, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("second ClaimNext() error = %v", err)
	}
	if second != nil {
		t.Errorf("ClaimNext() after dequeue returned %+v, want nil", second)
	}

	if err := s.UpdateJobStatus(ctx, jobID, JobStatusSucceeded, "upstream-123", "", nil); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	got, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != JobStatusSucceeded || got.UpstreamID != "upstream-123" {
		t.Errorf("GetJob() = %+v, unexpected status/upstream id", got)
	}
}
