// Package upstream implements the HTTP client for the external SAR
// processing service: interferogram job submission and status polling.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/httputil"
)

// Status is the closed set of lifecycle states the upstream processing
// service reports for a submitted job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// OutputFile is one downloadable product attached to a completed job.
type OutputFile struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// JobStatus is the upstream service's report for a single submitted job.
type JobStatus struct {
	JobID        string       `json:"job_id"`
	StatusCode   Status       `json:"status_code"`
	Files        []OutputFile `json:"files"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

type submitParameters struct {
	Granules                []string `json:"granules"`
	Looks                   string   `json:"looks"`
	IncludeLOSDisplacement  bool     `json:"include_los_displacement"`
	IncludeDisplacementMaps bool     `json:"include_displacement_maps"`
}

type submitJobRequest struct {
	Name       string           `json:"name"`
	JobType    string           `json:"job_type"`
	Parameters submitParameters `json:"job_parameters"`
}

type submitRequest struct {
	Jobs []submitJobRequest `json:"jobs"`
}

type submitResponseJob struct {
	JobID string `json:"job_id"`
}

type submitResponse struct {
	Jobs []submitResponseJob `json:"jobs"`
}

type statusResponse struct {
	Jobs []JobStatus `json:"jobs"`
}

// Client talks to a HyP3-style on-demand processing service.
type Client struct {
	http    httputil.HTTPClient
	baseURL string
	token   string
}

// New constructs an upstream Client. baseURL is the service root (no
// trailing slash); token is sent as a Bearer credential on every call.
func New(client httputil.HTTPClient, baseURL, token string) *Client {
	return &Client{http: client, baseURL: baseURL, token: token}
}

// SubmitINSARJob submits a single INSAR_GAMMA job for the given
// reference/secondary granule pair and returns the upstream job ID.
func (c *Client) SubmitINSARJob(ctx context.Context, name, referenceGranule, secondaryGranule string) (string, error) {
	body := submitRequest{
		Jobs: []submitJobRequest{{
			Name:    name,
			JobType: "INSAR_GAMMA",
			Parameters: submitParameters{
				Granules:                []string{referenceGranule, secondaryGranule},
				Looks:                   "20x4",
				IncludeLOSDisplacement:  true,
				IncludeDisplacementMaps: true,
			},
		}},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read submit response: %v", errs.ErrIOTransient, err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: %s", errs.ErrUpstreamRejected, truncate(respBody))
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: submit returned status %d", errs.ErrUpstreamTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: submit returned status %d", errs.ErrUpstreamRejected, resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrParseError, err)
	}
	if len(parsed.Jobs) == 0 || parsed.Jobs[0].JobID == "" {
		return "", fmt.Errorf("%w: submit response carried no job id", errs.ErrParseError)
	}
	return parsed.Jobs[0].JobID, nil
}

// GetJobStatus polls the processing service for the current status of
// one previously-submitted upstream job.
func (c *Client) GetJobStatus(ctx context.Context, upstreamJobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs?job_id="+upstreamJobID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status poll returned %d", errs.ErrUpstreamTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status poll returned %d", errs.ErrUpstreamTransient, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read status response: %v", errs.ErrIOTransient, err)
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrParseError, err)
	}
	if len(parsed.Jobs) == 0 {
		return nil, fmt.Errorf("%w: status response carried no job entries", errs.ErrParseError)
	}
	return &parsed.Jobs[0], nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
