package raster

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ctessum/geom/proj"

	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/monitoring"
	"github.com/groundline/insar-pipeline/internal/store"
	"github.com/groundline/insar-pipeline/internal/units"
)

// OutputFile is one downloadable product reported for a job, decoupled
// from the upstream package's wire type so this package has no
// dependency on the HTTP client that produced it.
type OutputFile struct {
	URL      string
	Filename string
}

// Measurement is one point's displacement reading for one acquisition
// date, ready for Deformation Store insertion.
type Measurement struct {
	PointID           string
	Date              time.Time
	DisplacementMM    float64
	Coherence         *float64
	LOSDisplacementMM *float64
}

// Downloader fetches a file's bytes by URL. In production this wraps
// internal/httputil.HTTPClient; tests supply an in-memory stub.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Sampler decodes a job's output GeoTIFFs and samples them at a set of
// monitoring points.
type Sampler struct {
	downloader Downloader
	cfg        config.SamplerConfig
}

// New constructs a Sampler.
func New(downloader Downloader, cfg config.SamplerConfig) *Sampler {
	return &Sampler{downloader: downloader, cfg: cfg}
}

var acquisitionDatePattern = regexp.MustCompile(`_(\d{8})_(\d{8})_`)

// Sample downloads the job's vertical displacement raster (and, if
// present, coherence raster), decodes them, and returns one Measurement
// per point whose sample falls inside the raster footprint, is not
// NoData, and clears the configured coherence floor.
func (s *Sampler) Sample(ctx context.Context, files []OutputFile, points []store.Point) ([]Measurement, error) {
	vertFile, ok := findBySuffix(files, "_vert_disp.tif")
	if !ok {
		return nil, fmt.Errorf("%w: no vertical displacement raster in job output", errs.ErrParseError)
	}
	date, err := parseAcquisitionDate(vertFile.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrParseError, err)
	}

	vertBytes, err := s.downloadWithRetry(ctx, vertFile.URL)
	if err != nil {
		return nil, err
	}
	vertRaster, err := s.decodeRaster(vertBytes, points)
	if err != nil {
		return nil, err
	}

	var cohRaster *Raster
	if cohFile, ok := findBySuffix(files, "_corr.tif"); ok {
		cohBytes, err := s.downloadWithRetry(ctx, cohFile.URL)
		if err != nil {
			return nil, err
		}
		cohRaster, err = s.decodeRaster(cohBytes, points)
		if err != nil {
			return nil, err
		}
	}

	// LOS displacement is an optional raw reading kept alongside the
	// vertical value: the upstream processing service retains it for
	// downstream incidence-angle decomposition even though this
	// pipeline's own linear-velocity derivation works from vertical
	// displacement only. Its absence, or a per-point sampling miss, is
	// never fatal and never drops the point's core measurement.
	var losRaster *Raster
	if losFile, ok := findBySuffix(files, "_los_disp.tif"); ok {
		losBytes, err := s.downloadWithRetry(ctx, losFile.URL)
		if err != nil {
			return nil, err
		}
		losRaster, err = s.decodeRaster(losBytes, points)
		if err != nil {
			return nil, err
		}
	}

	minCoherence := s.cfg.GetMinCoherence()

	measurements := make([]Measurement, 0, len(points))
	for _, p := range points {
		dispM, ok := sampleAt(vertRaster, p.Lon, p.Lat)
		if !ok {
			continue
		}

		var coherence *float64
		if cohRaster != nil {
			cohV, ok := sampleAt(cohRaster, p.Lon, p.Lat)
			if !ok {
				continue
			}
			clamped := units.ClampCoherence(float64(cohV))
			if clamped < minCoherence {
				continue
			}
			coherence = &clamped
		}

		var losDisplacement *float64
		if losRaster != nil {
			if losV, ok := sampleAt(losRaster, p.Lon, p.Lat); ok {
				mm := units.MetersToMillimeters(float64(losV))
				losDisplacement = &mm
			}
		}

		measurements = append(measurements, Measurement{
			PointID:           p.ID,
			Date:              date,
			DisplacementMM:    units.MetersToMillimeters(float64(dispM)),
			Coherence:         coherence,
			LOSDisplacementMM: losDisplacement,
		})
	}
	return measurements, nil
}

// sampleAt projects (lon, lat) into r's pixel space and returns the
// sample value, or ok=false if the point falls outside the raster (or
// outside the decoded row window), is NoData, or the projection fails.
func sampleAt(r *Raster, lon, lat float64) (float32, bool) {
	px, py, ok := pixelCoords(r, lon, lat)
	if !ok {
		return 0, false
	}
	if px < 0 || px >= r.Width || py < 0 || py >= r.Height {
		return 0, false
	}
	wy := py - r.RowOffset
	if wy < 0 || (wy+1)*r.Width > len(r.Data) {
		return 0, false
	}

	v := r.Data[wy*r.Width+px]
	if isNoData(v, r) {
		return 0, false
	}
	return v, true
}

// decodeRaster decodes a downloaded GeoTIFF, falling back to a windowed
// read covering only the rows the monitoring points touch when the full
// pixel buffer would exceed the configured memory ceiling.
func (s *Sampler) decodeRaster(data []byte, points []store.Point) (*Raster, error) {
	hdr, err := DecodeGeoTIFFHeader(data)
	if err != nil {
		return nil, err
	}
	fullBytes := int64(hdr.Width) * int64(hdr.Height) * 4
	if fullBytes <= s.cfg.GetMaxRasterBytes() {
		return DecodeGeoTIFF(data)
	}

	minRow, maxRow := rowWindow(hdr, points)
	return DecodeGeoTIFFWindow(data, minRow, maxRow)
}

// rowWindow returns the inclusive-exclusive pixel row range covering
// every point that projects into r, padded by a small margin against
// rounding at the window edges.
func rowWindow(r *Raster, points []store.Point) (int, int) {
	minRow, maxRow := r.Height, 0
	for _, p := range points {
		_, py, ok := pixelCoords(r, p.Lon, p.Lat)
		if !ok || py < 0 || py >= r.Height {
			continue
		}
		if py < minRow {
			minRow = py
		}
		if py+1 > maxRow {
			maxRow = py + 1
		}
	}
	const margin = 2
	minRow -= margin
	maxRow += margin
	if minRow < 0 {
		minRow = 0
	}
	if maxRow > r.Height {
		maxRow = r.Height
	}
	if minRow >= maxRow {
		return 0, 0
	}
	return minRow, maxRow
}

// pixelCoords projects (lon, lat) into r's pixel grid without bounds
// checking. ok=false means the reprojection into r's CRS failed.
func pixelCoords(r *Raster, lon, lat float64) (int, int, bool) {
	x, y := lon, lat
	if r.EPSG != 0 && r.EPSG != 4326 {
		tx, ty, err := reproject(lon, lat, r.EPSG)
		if err != nil {
			monitoring.Logf("raster sample: reprojection to EPSG:%d failed: %v", r.EPSG, err)
			return 0, 0, false
		}
		x, y = tx, ty
	}
	px := int(math.Round((x - r.OriginLon) / r.PixelWidth))
	py := int(math.Round((r.OriginLat - y) / r.PixelHeight))
	return px, py, true
}

// isNoData applies the declared-tag -> NaN -> -9999 priority order.
func isNoData(v float32, r *Raster) bool {
	if r.HasNoData && float64(v) == r.NoData {
		return true
	}
	if math32IsNaN(v) {
		return true
	}
	return v == -9999
}

func math32IsNaN(v float32) bool {
	return v != v
}

func findBySuffix(files []OutputFile, suffix string) (OutputFile, bool) {
	for _, f := range files {
		if strings.HasSuffix(f.Filename, suffix) {
			return f, true
		}
	}
	return OutputFile{}, false
}

// parseAcquisitionDate extracts the secondary (later) date from a
// filename carrying the processing service's "..._YYYYMMDD_YYYYMMDD_..."
// naming convention.
func parseAcquisitionDate(filename string) (time.Time, error) {
	m := acquisitionDatePattern.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}, fmt.Errorf("filename %q does not carry a date pair", filename)
	}
	return time.Parse("20060102", m[2])
}

func (s *Sampler) downloadWithRetry(ctx context.Context, url string) ([]byte, error) {
	timeout := time.Duration(s.cfg.GetDownloadTimeoutMs()) * time.Millisecond
	var body []byte
	operation := func() error {
		dlCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		b, err := s.downloader.Download(dlCtx, url)
		if err != nil {
			monitoring.Logf("raster download attempt failed for %s: %v", url, err)
			return err
		}
		body = b
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: download %s: %v", errs.ErrIOTransient, url, err)
	}
	return body, nil
}

// reproject transforms (lon, lat) from WGS84 into the raster's CRS.
// Only WGS84 UTM zones (EPSG:326xx north, 327xx south) are supported
// beyond the geographic case; the processing service's own outputs only
// ever use UTM or EPSG:4326, and proj.Parse takes a proj4 string, not a
// bare EPSG code, so there is no registry to consult for anything else.
func reproject(lon, lat float64, epsg int) (float64, float64, error) {
	proj4, err := proj4ForEPSG(epsg)
	if err != nil {
		return 0, 0, err
	}

	wgs84, err := proj.Parse("+proj=longlat +datum=WGS84 +no_defs")
	if err != nil {
		return 0, 0, fmt.Errorf("parse WGS84 source CRS: %w", err)
	}
	dest, err := proj.Parse(proj4)
	if err != nil {
		return 0, 0, fmt.Errorf("parse destination CRS %q: %w", proj4, err)
	}
	transform, err := wgs84.NewTransform(dest)
	if err != nil {
		return 0, 0, fmt.Errorf("build transform to %q: %w", proj4, err)
	}
	return transform(lon, lat)
}

func proj4ForEPSG(epsg int) (string, error) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", epsg-32600), nil
	case epsg >= 32701 && epsg <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", epsg-32700), nil
	default:
		return "", fmt.Errorf("%w: unsupported projected CRS EPSG:%d", errs.ErrCorruptedRaster, epsg)
	}
}

