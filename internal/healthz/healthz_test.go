package healthz

import (
	"context"
	"errors"
	"testing"

	"github.com/groundline/insar-pipeline/internal/testutil"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func TestHandleLiveAlwaysReportsOK(t *testing.T) {
	h := New(&fakePinger{err: errors.New("storage down")})
	rec := testutil.NewTestRecorder()
	req := testutil.NewTestRequest("GET", "/healthz")

	h.Mux().ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, 200)
}

func TestHandleReadyReflectsStorageConnectivity(t *testing.T) {
	h := New(&fakePinger{})
	rec := testutil.NewTestRecorder()
	req := testutil.NewTestRequest("GET", "/readyz")

	h.Mux().ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, 200)
}

func TestHandleReadyReportsUnavailableWhenStorageUnreachable(t *testing.T) {
	h := New(&fakePinger{err: errors.New("connection refused")})
	rec := testutil.NewTestRecorder()
	req := testutil.NewTestRequest("GET", "/readyz")

	h.Mux().ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, 503)
}
