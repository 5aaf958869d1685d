// Package errs defines the closed set of semantic error kinds the
// pipeline's components raise, per the propagation policy: client-facing
// kinds return immediately at the request boundary; transient kinds are
// retried with backoff, by the component that raised them or by the
// orchestrator's poll step; terminal kinds are recorded on a Job row,
// never thrown mid-poll.
package errs

import "errors"

// Client-facing errors, from Grid Generator and Job Orchestrator request
// validation. Callers reject the request immediately on these.
var (
	ErrInvalidGeometry           = errors.New("invalid geometry")
	ErrAreaTooLarge              = errors.New("aoi area exceeds configured maximum")
	ErrPointLimitExceeded        = errors.New("estimated point count exceeds configured ceiling")
	ErrInfrastructureNotFound    = errors.New("infrastructure not found")
	ErrNoPointsForInfrastructure = errors.New("infrastructure has no points")
	ErrNoSuitablePairs           = errors.New("no suitable pairs found")
	ErrUpstreamRejected          = errors.New("upstream processing service rejected submission")
)

// Internal transient errors. Catalog search and raster download retry
// them with exponential backoff and return them wrapped once retries are
// exhausted (catalog search as ErrCatalogUnavailable). The upstream
// client has no retry loop and returns ErrUpstreamTransient and
// ErrIOTransient to the orchestrator's poll step, which reschedules the
// job.
var (
	ErrUpstreamTransient  = errors.New("transient upstream error")
	ErrStorageTransient   = errors.New("transient storage error")
	ErrIOTransient        = errors.New("transient io error")
	ErrCatalogUnavailable = errors.New("catalog unavailable after retries")
)

// Terminal errors recorded on a Job row.
var (
	ErrTimeout         = errors.New("operation exceeded its deadline")
	ErrParseError      = errors.New("failed to parse upstream response")
	ErrCorruptedRaster = errors.New("raster file is malformed")
	ErrCancelled       = errors.New("job was cancelled")
)
