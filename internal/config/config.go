// Package config holds the pipeline's tunable surface. Every knob is an
// optional pointer field so a partial JSON file only overrides what it
// names; a Get* accessor on the owning sub-config supplies the
// documented default for anything left nil. This keeps startup
// configuration and any future runtime-update endpoint sharing one
// schema, and keeps every default in exactly one place.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration tree for the pipeline.
type Config struct {
	Grid         GridConfig         `json:"grid"`
	Pairs        PairsConfig        `json:"pairs"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Sampler      SamplerConfig      `json:"sampler"`
	Storage      StorageConfig      `json:"storage"`
	WorkingDir   *string            `json:"working_dir,omitempty"`
}

// GridConfig tunes the Grid Generator.
type GridConfig struct {
	MaxAreaKM2        *float64 `json:"max_area_km2,omitempty"`
	MaxPoints         *int     `json:"max_points,omitempty"`
	DefaultSpacingM   *float64 `json:"default_spacing_m,omitempty"`
	MaxAbsLatitudeDeg *float64 `json:"max_abs_latitude_deg,omitempty"`
	JobCostCredits    *float64 `json:"job_cost_credits,omitempty"`
}

// PairsConfig tunes Pair Discovery.
type PairsConfig struct {
	MinBaselineDays     *int     `json:"min_baseline_days,omitempty"`
	MaxBaselineDays     *int     `json:"max_baseline_days,omitempty"`
	OptimalBaselineDays *int     `json:"optimal_baseline_days,omitempty"`
	MaxPerpBaselineM    *float64 `json:"max_perp_baseline_m,omitempty"`
	MinQualityScore     *float64 `json:"min_quality_score,omitempty"`
}

// OrchestratorConfig tunes the Job Orchestrator's queue and worker pool.
type OrchestratorConfig struct {
	WorkerCount        *int   `json:"worker_count,omitempty"`
	PollBaseMs         *int64 `json:"poll_base_ms,omitempty"`
	PollMaxMs          *int64 `json:"poll_max_ms,omitempty"`
	MaxAttempts        *int   `json:"max_attempts,omitempty"`
	JobWallClockMs     *int64 `json:"job_wall_clock_ms,omitempty"`
	UpstreamRatePerMin *int   `json:"upstream_rate_per_min,omitempty"`
}

// SamplerConfig tunes the Raster Sampler.
type SamplerConfig struct {
	MinCoherence      *float64 `json:"min_coherence,omitempty"`
	DownloadTimeoutMs *int64   `json:"download_timeout_ms,omitempty"`
	MaxRasterBytes    *int64   `json:"max_raster_bytes,omitempty"`
}

// StorageConfig tunes the storage layer.
type StorageConfig struct {
	DSN            *string `json:"dsn,omitempty"`
	BulkChunkSize  *int    `json:"bulk_chunk_size,omitempty"`
}

// Defaults, one constant per knob.
const (
	defaultMaxAreaKM2        = 5.0
	defaultMaxPoints         = 200_000
	defaultSpacingM          = 5.0
	defaultMaxAbsLatitudeDeg = 85.0
	defaultJobCostCredits    = 10.0

	defaultMinBaselineDays     = 6
	defaultMaxBaselineDays     = 48
	defaultOptimalBaselineDays = 12
	defaultMaxPerpBaselineM    = 300.0
	defaultMinQualityScore     = 0.3

	defaultWorkerCount        = 5
	defaultPollBaseMs         = 30_000
	defaultPollMaxMs          = 300_000
	defaultMaxAttempts        = 50
	defaultJobWallClockMs     = 3_600_000
	defaultUpstreamRatePerMin = 10

	defaultMinCoherence      = 0.3
	defaultDownloadTimeoutMs = 600_000
	defaultMaxRasterBytes    = 50 * 1024 * 1024

	defaultBulkChunkSize = 1000
	defaultWorkingDir    = "./workdir"
)

func (c GridConfig) GetMaxAreaKM2() float64 {
	if c.MaxAreaKM2 == nil {
		return defaultMaxAreaKM2
	}
	return *c.MaxAreaKM2
}

func (c GridConfig) GetMaxPoints() int {
	if c.MaxPoints == nil {
		return defaultMaxPoints
	}
	return *c.MaxPoints
}

func (c GridConfig) GetDefaultSpacingM() float64 {
	if c.DefaultSpacingM == nil {
		return defaultSpacingM
	}
	return *c.DefaultSpacingM
}

func (c GridConfig) GetMaxAbsLatitudeDeg() float64 {
	if c.MaxAbsLatitudeDeg == nil {
		return defaultMaxAbsLatitudeDeg
	}
	return *c.MaxAbsLatitudeDeg
}

func (c GridConfig) GetJobCostCredits() float64 {
	if c.JobCostCredits == nil {
		return defaultJobCostCredits
	}
	return *c.JobCostCredits
}

func (c PairsConfig) GetMinBaselineDays() int {
	if c.MinBaselineDays == nil {
		return defaultMinBaselineDays
	}
	return *c.MinBaselineDays
}

func (c PairsConfig) GetMaxBaselineDays() int {
	if c.MaxBaselineDays == nil {
		return defaultMaxBaselineDays
	}
	return *c.MaxBaselineDays
}

func (c PairsConfig) GetOptimalBaselineDays() int {
	if c.OptimalBaselineDays == nil {
		return defaultOptimalBaselineDays
	}
	return *c.OptimalBaselineDays
}

func (c PairsConfig) GetMaxPerpBaselineM() float64 {
	if c.MaxPerpBaselineM == nil {
		return defaultMaxPerpBaselineM
	}
	return *c.MaxPerpBaselineM
}

func (c PairsConfig) GetMinQualityScore() float64 {
	if c.MinQualityScore == nil {
		return defaultMinQualityScore
	}
	return *c.MinQualityScore
}

func (c OrchestratorConfig) GetWorkerCount() int {
	if c.WorkerCount == nil {
		return defaultWorkerCount
	}
	return *c.WorkerCount
}

func (c OrchestratorConfig) GetPollBaseMs() int64 {
	if c.PollBaseMs == nil {
		return defaultPollBaseMs
	}
	return *c.PollBaseMs
}

func (c OrchestratorConfig) GetPollMaxMs() int64 {
	if c.PollMaxMs == nil {
		return defaultPollMaxMs
	}
	return *c.PollMaxMs
}

func (c OrchestratorConfig) GetMaxAttempts() int {
	if c.MaxAttempts == nil {
		return defaultMaxAttempts
	}
	return *c.MaxAttempts
}

func (c OrchestratorConfig) GetJobWallClockMs() int64 {
	if c.JobWallClockMs == nil {
		return defaultJobWallClockMs
	}
	return *c.JobWallClockMs
}

func (c OrchestratorConfig) GetUpstreamRatePerMin() int {
	if c.UpstreamRatePerMin == nil {
		return defaultUpstreamRatePerMin
	}
	return *c.UpstreamRatePerMin
}

func (c SamplerConfig) GetMinCoherence() float64 {
	if c.MinCoherence == nil {
		return defaultMinCoherence
	}
	return *c.MinCoherence
}

func (c SamplerConfig) GetDownloadTimeoutMs() int64 {
	if c.DownloadTimeoutMs == nil {
		return defaultDownloadTimeoutMs
	}
	return *c.DownloadTimeoutMs
}

func (c SamplerConfig) GetMaxRasterBytes() int64 {
	if c.MaxRasterBytes == nil {
		return defaultMaxRasterBytes
	}
	return *c.MaxRasterBytes
}

func (c StorageConfig) GetBulkChunkSize() int {
	if c.BulkChunkSize == nil {
		return defaultBulkChunkSize
	}
	return *c.BulkChunkSize
}

func (c StorageConfig) GetDSN() string {
	if c.DSN == nil {
		return ""
	}
	return *c.DSN
}

func (c Config) GetWorkingDir() string {
	if c.WorkingDir == nil {
		return defaultWorkingDir
	}
	return *c.WorkingDir
}

// Empty returns a Config with every field nil, relying entirely on the
// Get* defaults. Use Load to read overrides from a JSON file.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. Fields omitted from the file
// retain their documented defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any explicitly-set values are within sane bounds.
// Fields left nil are not validated here; they take the documented
// default, which is always valid.
func (c *Config) Validate() error {
	if c.Grid.MaxAreaKM2 != nil && *c.Grid.MaxAreaKM2 <= 0 {
		return fmt.Errorf("grid.max_area_km2 must be positive, got %v", *c.Grid.MaxAreaKM2)
	}
	if c.Grid.DefaultSpacingM != nil && *c.Grid.DefaultSpacingM < 1 {
		return fmt.Errorf("grid.default_spacing_m must be >= 1, got %v", *c.Grid.DefaultSpacingM)
	}
	if c.Grid.MaxAbsLatitudeDeg != nil && (*c.Grid.MaxAbsLatitudeDeg <= 0 || *c.Grid.MaxAbsLatitudeDeg > 90) {
		return fmt.Errorf("grid.max_abs_latitude_deg must be in (0, 90], got %v", *c.Grid.MaxAbsLatitudeDeg)
	}
	if c.Pairs.MinQualityScore != nil && (*c.Pairs.MinQualityScore < 0 || *c.Pairs.MinQualityScore > 1) {
		return fmt.Errorf("pairs.min_quality_score must be in [0, 1], got %v", *c.Pairs.MinQualityScore)
	}
	if c.Orchestrator.WorkerCount != nil && *c.Orchestrator.WorkerCount < 1 {
		return fmt.Errorf("orchestrator.worker_count must be >= 1, got %v", *c.Orchestrator.WorkerCount)
	}
	if c.Sampler.MinCoherence != nil && (*c.Sampler.MinCoherence < 0 || *c.Sampler.MinCoherence > 1) {
		return fmt.Errorf("sampler.min_coherence must be in [0, 1], got %v", *c.Sampler.MinCoherence)
	}
	if c.Storage.BulkChunkSize != nil && *c.Storage.BulkChunkSize < 1 {
		return fmt.Errorf("storage.bulk_chunk_size must be >= 1, got %v", *c.Storage.BulkChunkSize)
	}
	return nil
}
