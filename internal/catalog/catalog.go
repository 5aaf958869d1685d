// Package catalog implements Pair Discovery: querying an external
// Sentinel-1 SLC catalog for an AOI and date window, grouping results
// into orbital tracks, and scoring every candidate reference/secondary
// pair.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ctessum/geom"

	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/errs"
	"github.com/groundline/insar-pipeline/internal/geo"
	"github.com/groundline/insar-pipeline/internal/httputil"
	"github.com/groundline/insar-pipeline/internal/monitoring"
)

// Granule is one Sentinel-1 SLC acquisition as reported by the catalog.
type Granule struct {
	Name            string    `json:"name"`
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	Path            int       `json:"path"`
	Frame           int       `json:"frame"`
	Polarization    string    `json:"polarization"`
	FlightDirection string    `json:"flight_direction"`
	FootprintWKT    string    `json:"footprint"`
}

type searchResponse struct {
	Granules []Granule `json:"granules"`
}

// PairCandidate is a scored (reference, secondary) granule pairing, not
// itself persisted.
type PairCandidate struct {
	ReferenceGranule     string
	SecondaryGranule     string
	TemporalBaselineDays int
	PerpBaselineM        float64
	OrbitPath            int
	QualityScore         float64
}

// placeholderPerpBaselineM is used whenever the catalog response omits
// perpendicular baseline data, which the public Sentinel-1 search API
// does not carry; this constant approximates a typical favorable
// baseline and is explicitly a placeholder, not a measurement.
const placeholderPerpBaselineM = 80.0

// Client queries the upstream granule search endpoint and scores pairs.
type Client struct {
	http    httputil.HTTPClient
	baseURL string
	cfg     config.PairsConfig
	timeout time.Duration
}

// New constructs a catalog Client. baseURL is the search endpoint root,
// e.g. "https://api.daac.asf.alaska.edu/services/search/param".
func New(client httputil.HTTPClient, baseURL string, cfg config.PairsConfig) *Client {
	return &Client{http: client, baseURL: baseURL, cfg: cfg, timeout: 30 * time.Second}
}

// FindPairs queries the catalog for granules intersecting aoi within
// [start, end), groups them by path, and returns every viable pair
// ordered by descending quality score.
func (c *Client) FindPairs(ctx context.Context, aoi geo.Polygon, start, end time.Time) ([]PairCandidate, error) {
	granules, err := c.searchWithRetry(ctx, aoi, start, end)
	if err != nil {
		return nil, err
	}
	granules = dedupeGranulesByName(granules)

	byPath := make(map[int][]Granule)
	for _, g := range granules {
		byPath[g.Path] = append(byPath[g.Path], g)
	}

	// scoreCache memoizes score() by granule-name pair for the lifetime
	// of this call. Granules are deduped by name before being grouped by
	// path, so each (ref, sec) name pair is reached at most once here.
	scoreCache := make(map[[2]string]float64)

	var candidates []PairCandidate
	for path, track := range byPath {
		sort.Slice(track, func(i, j int) bool { return track[i].Start.Before(track[j].Start) })
		for i := 0; i < len(track); i++ {
			for j := i + 1; j < len(track); j++ {
				baselineDays := int(track[j].Start.Sub(track[i].Start).Hours() / 24)
				if baselineDays < c.cfg.GetMinBaselineDays() || baselineDays > c.cfg.GetMaxBaselineDays() {
					continue
				}
				key := [2]string{track[i].Name, track[j].Name}
				score, cached := scoreCache[key]
				if !cached {
					score = c.score(aoi, track[i], track[j], baselineDays)
					scoreCache[key] = score
				}
				candidates = append(candidates, PairCandidate{
					ReferenceGranule:     track[i].Name,
					SecondaryGranule:     track[j].Name,
					TemporalBaselineDays: baselineDays,
					PerpBaselineM:        placeholderPerpBaselineM,
					OrbitPath:            path,
					QualityScore:         score,
				})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].QualityScore > candidates[j].QualityScore })

	minScore := c.cfg.GetMinQualityScore()
	qualified := candidates[:0:0]
	for _, cand := range candidates {
		if cand.QualityScore >= minScore {
			qualified = append(qualified, cand)
		}
	}

	if len(qualified) == 0 {
		return nil, errs.ErrNoSuitablePairs
	}
	return qualified, nil
}

// score combines the temporal, baseline, and coverage factors per the
// configured optimal baseline and maximum perpendicular baseline.
func (c *Client) score(aoi geo.Polygon, ref, sec Granule, baselineDays int) float64 {
	temporal := temporalFactor(baselineDays, c.cfg.GetOptimalBaselineDays(), c.cfg.GetMinBaselineDays(), c.cfg.GetMaxBaselineDays())
	baseline := baselineFactor(placeholderPerpBaselineM, c.cfg.GetMaxPerpBaselineM())
	coverage := coverageFactor(aoi, ref.FootprintWKT, sec.FootprintWKT)
	return temporal * baseline * coverage
}

// temporalFactor peaks at optimalDays and falls linearly to 0 at either
// edge of [minDays, maxDays].
func temporalFactor(days, optimalDays, minDays, maxDays int) float64 {
	if days <= minDays || days >= maxDays {
		return 0
	}
	if days <= optimalDays {
		return float64(days-minDays) / float64(optimalDays-minDays)
	}
	return float64(maxDays-days) / float64(maxDays-optimalDays)
}

// baselineFactor is 1.0 at a 0m perpendicular baseline, falling
// linearly to 0 at maxPerpM, clamped to [0, 1].
func baselineFactor(perpM, maxPerpM float64) float64 {
	if maxPerpM <= 0 {
		return 0
	}
	f := 1 - math.Abs(perpM)/maxPerpM
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// coverageFactor estimates the fraction of the AOI's bounding box
// covered by the intersection of both granules' footprint bounding
// boxes. A full polygon-intersection computation is unnecessary at
// Sentinel-1 scene scale (each scene spans roughly 250km x 170km,
// dwarfing any AOI this pipeline targets), so this approximates
// coverage from axis-aligned bounding boxes rather than true polygon
// clipping.
func coverageFactor(aoi geo.Polygon, refFootprintWKT, secFootprintWKT string) float64 {
	aoiBounds := geo.Bounds(aoi)
	if aoiBounds.Empty() {
		return 0
	}
	aoiArea := (aoiBounds.Max.X - aoiBounds.Min.X) * (aoiBounds.Max.Y - aoiBounds.Min.Y)
	if aoiArea <= 0 {
		return 0
	}

	refPoly, err1 := geo.ParseWKTPolygon(refFootprintWKT)
	secPoly, err2 := geo.ParseWKTPolygon(secFootprintWKT)
	if err1 != nil || err2 != nil {
		// Missing or malformed footprints: assume full coverage rather
		// than discarding an otherwise-viable pair outright.
		return 1
	}

	footprint := rectIntersection(geo.Bounds(refPoly), geo.Bounds(secPoly))
	covered := rectIntersection(aoiBounds, footprint)
	overlap := rectArea(covered)
	if overlap <= 0 {
		return 0
	}
	fraction := overlap / aoiArea
	if fraction > 1 {
		fraction = 1
	}
	return fraction
}

// rectIntersection returns the overlapping axis-aligned rectangle of a
// and b, or an empty bounds (zero area) if they do not overlap.
func rectIntersection(a, b *geom.Bounds) *geom.Bounds {
	if !a.Overlaps(b) {
		return geom.NewBounds()
	}
	return &geom.Bounds{
		Min: geom.Point{X: math.Max(a.Min.X, b.Min.X), Y: math.Max(a.Min.Y, b.Min.Y)},
		Max: geom.Point{X: math.Min(a.Max.X, b.Max.X), Y: math.Min(a.Max.Y, b.Max.Y)},
	}
}

func rectArea(b *geom.Bounds) float64 {
	if b.Empty() {
		return 0
	}
	return (b.Max.X - b.Min.X) * (b.Max.Y - b.Min.Y)
}

// dedupeGranulesByName drops repeat granule records, keeping the first
// occurrence of each name. The upstream catalog can report the same
// granule more than once when its bbox query spans overlapping tiles;
// left undeduplicated this would let the same acquisition participate
// in the same pairing twice under different in-memory copies.
func dedupeGranulesByName(granules []Granule) []Granule {
	seen := make(map[string]struct{}, len(granules))
	out := make([]Granule, 0, len(granules))
	for _, g := range granules {
		if _, ok := seen[g.Name]; ok {
			continue
		}
		seen[g.Name] = struct{}{}
		out = append(out, g)
	}
	return out
}

func (c *Client) searchWithRetry(ctx context.Context, aoi geo.Polygon, start, end time.Time) ([]Granule, error) {
	var granules []Granule
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		g, err := c.search(reqCtx, aoi, start, end)
		if err != nil {
			monitoring.Logf("catalog search attempt failed: %v", err)
			return err
		}
		granules = g
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCatalogUnavailable, err)
	}
	return granules, nil
}

func (c *Client) search(ctx context.Context, aoi geo.Polygon, start, end time.Time) ([]Granule, error) {
	b := geo.Bounds(aoi)
	q := url.Values{}
	q.Set("platform", "Sentinel-1")
	q.Set("processingLevel", "SLC")
	q.Set("beamMode", "IW")
	q.Set("bbox", fmt.Sprintf("%v,%v,%v,%v", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y))
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: catalog returned status %d", errs.ErrUpstreamTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read catalog response: %v", errs.ErrIOTransient, err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrParseError, err)
	}
	return parsed.Granules, nil
}
