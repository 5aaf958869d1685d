package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/httputil"
)

func TestSubmitINSARJobReturnsUpstreamID(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"jobs":[{"job_id":"ups-123"}]}`)

	c := New(mock, "https://processing.example/api", "secret-token")
	id, err := c.SubmitINSARJob(context.Background(), "pair-1", "REF", "SEC")
	if err != nil {
		t.Fatalf("SubmitINSARJob() error = %v", err)
	}
	if id != "ups-123" {
		t.Errorf("SubmitINSARJob() = %q, want ups-123", id)
	}

	req := mock.GetRequest(0)
	if req.Method != "POST" {
		t.Errorf("method = %q, want POST", req.Method)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer secret-token" {
		t.Errorf("Authorization header = %q, want Bearer secret-token", got)
	}
}

func TestSubmitINSARJobRejectedOnBadRequest(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(400, `{"error":"unknown granule"}`)

	c := New(mock, "https://processing.example/api", "token")
	_, err := c.SubmitINSARJob(context.Background(), "pair-1", "REF", "SEC")
	if !errors.Is(err, errs.ErrUpstreamRejected) {
		t.Errorf("SubmitINSARJob() error = %v, want errs.ErrUpstreamRejected", err)
	}
}

func TestSubmitINSARJobTransientOn5xx(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(503, `service unavailable`)

	c := New(mock, "https://processing.example/api", "token")
	_, err := c.SubmitINSARJob(context.Background(), "pair-1", "REF", "SEC")
	if !errors.Is(err, errs.ErrUpstreamTransient) {
		t.Errorf("SubmitINSARJob() error = %v, want errs.ErrUpstreamTransient", err)
	}
}

func TestGetJobStatusParsesFiles(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"jobs":[{"job_id":"ups-123","status_code":"SUCCEEDED","files":[{"url":"https://x/y_vert_disp.tif","filename":"y_vert_disp.tif","size":1024}]}]}`)

	c := New(mock, "https://processing.example/api", "token")
	status, err := c.GetJobStatus(context.Background(), "ups-123")
	if err != nil {
		t.Fatalf("GetJobStatus() error = %v", err)
	}
	if status.StatusCode != StatusSucceeded {
		t.Errorf("StatusCode = %v, want %v", status.StatusCode, StatusSucceeded)
	}
	if len(status.Files) != 1 || status.Files[0].Filename != "y_vert_disp.tif" {
		t.Errorf("Files = %+v, want one y_vert_disp.tif entry", status.Files)
	}
}

func TestGetJobStatusTransientOnServerError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(502, `bad gateway`)

	c := New(mock, "https://processing.example/api", "token")
	_, err := c.GetJobStatus(context.Background(), "ups-123")
	if !errors.Is(err, errs.ErrUpstreamTransient) {
		t.Errorf("GetJobStatus() error = %v, want errs.ErrUpstreamTransient", err)
	}
}
