package store

import "time"

// Infrastructure is a tenant-owned area of interest.
type Infrastructure struct {
	ID        string
	OwnerID   string
	Name      string
	WKT       string // WGS84 polygon, well-known text
	CreatedAt time.Time
}

// Point is a single monitoring point generated inside an
// Infrastructure's geometry.
type Point struct {
	ID                string
	InfrastructureID  string
	Lon, Lat          float64
	SoilType          string
	CreatedAt         time.Time
}

// JobStatus is the closed set of lifecycle states a Job may occupy.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Job is one interferogram processing request submitted to the
// upstream processing service for a single SAR pair.
type Job struct {
	ID                string
	InfrastructureID  string
	UpstreamID        string
	Status            JobStatus
	BBoxWKT           string
	ReferenceGranule  string
	SecondaryGranule  string
	Files             []string
	ErrorMessage      string
	RetryCount        int
	ProcessingMS      *int64
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// QueueEntry is a job's durable queue state: when it becomes eligible
// for the next poll attempt, and how many attempts it has consumed.
type QueueEntry struct {
	JobID      string
	NotBefore  time.Time
	Attempts   int
	EnqueuedAt time.Time
}

// Deformation is one point's displacement reading for one acquisition
// date, derived from a single job's interferogram.
type Deformation struct {
	ID                string
	PointID           string
	JobID             string
	Date              time.Time
	DisplacementMM    float64
	Coherence         *float64
	LOSDisplacementMM *float64
	VelocityMMYear    *float64
}
