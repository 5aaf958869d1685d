package raster

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/httputil"
)

// HTTPDownloader fetches raster files over HTTP through the shared
// HTTPClient abstraction so it can be swapped for a MockHTTPClient in
// tests the same way every other component in this pipeline is tested.
type HTTPDownloader struct {
	Client httputil.HTTPClient
}

// Download fetches the full contents of url.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIOTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download returned status %d", errs.ErrIOTransient, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIOTransient, err)
	}
	return body, nil
}
