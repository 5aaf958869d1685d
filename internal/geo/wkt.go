package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
)

// ToWKT renders p as WGS84 well-known text, the form Postgres/PostGIS's
// ST_GeomFromText expects.
func ToWKT(p Polygon) string {
	var b strings.Builder
	b.WriteString("POLYGON(")
	for i, ring := range p {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j, pt := range closedRing(ring) {
			if j > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%v %v", pt.X, pt.Y)
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// ParseWKTPolygon decodes a "POLYGON((...), (...))" well-known text
// string into a Polygon. There is no well-known-text library in this
// module's dependency set, so this is a small hand-written parser
// limited to the POLYGON subset this pipeline itself produces and
// reads back from storage; it does not attempt to support the full WKT
// grammar (other geometry types, Z/M coordinates, SRID prefixes).
func ParseWKTPolygon(s string) (Polygon, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return nil, fmt.Errorf("not a POLYGON WKT string: %q", truncate(s, 40))
	}
	body := strings.TrimSpace(s[len("POLYGON"):])
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")

	rings, err := splitRings(body)
	if err != nil {
		return nil, err
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("polygon WKT has no rings")
	}

	p := make(Polygon, 0, len(rings))
	for _, ringStr := range rings {
		ring, err := parseRing(ringStr)
		if err != nil {
			return nil, err
		}
		p = append(p, ring)
	}
	return p, nil
}

// splitRings splits "(x1 y1, x2 y2),(x3 y3, x4 y4)" into its
// parenthesized ring substrings, respecting nesting depth.
func splitRings(s string) ([]string, error) {
	var rings []string
	depth := 0
	start := -1
	for i, r := range s {
		switch r {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in polygon WKT")
			}
			if depth == 0 {
				rings = append(rings, s[start:i])
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in polygon WKT")
	}
	return rings, nil
}

func parseRing(s string) ([]geom.Point, error) {
	parts := strings.Split(s, ",")
	ring := make([]geom.Point, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed coordinate pair %q in polygon WKT", part)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse longitude %q: %w", fields[0], err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse latitude %q: %w", fields[1], err)
		}
		ring = append(ring, geom.Point{X: x, Y: y})
	}
	return ring, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
