// Package routefile converts routes to and from their portable representations.
package routefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trackrec/trackrec/internal/track"
)

// Route file errors.
var (
	ErrMalformedRoute = errors.New("malformed route")
	ErrEmptyRoute     = errors.New("route has no recorded points")
)

// Format is an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatGPX  Format = "gpx"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatGPX {
		return "application/gpx+xml"
	}
	return "application/json"
}

// Extension returns the file extension of the format, without the dot.
func (f Format) Extension() string {
	if f == FormatGPX {
		return "gpx"
	}
	return "json"
}

// ParseFormat parses a format name, defaulting to JSON for an empty string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatGPX:
		return FormatGPX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

type fileRoute struct {
	Name     string          `json:"name"`
	Segments json.RawMessage `json:"segments"`
	Distance *float64        `json:"distance,omitempty"`
	Duration string          `json:"duration,omitempty"`

	// TotalTime is the elapsed milliseconds written by older exports.
	TotalTime *int64 `json:"totalTime,omitempty"`
}

type filePoint struct {
	Lat     *float64        `json:"lat"`
	Lon     *float64        `json:"lon"`
	Alt     *float64        `json:"alt"`
	Time    string          `json:"time"`
	Speed   *float64        `json:"speed"`
	Motion  track.Motion    `json:"motion"`
	Weather json.RawMessage `json:"weather"`
}

// DefaultName returns the display name given to routes saved without one.
func DefaultName(t time.Time) string {
	return "Route " + t.Format("2006-01-02 15:04")
}

// Marshal encodes the route. The distance field is always recomputed from
// the segments; the duration is written when the route carries one.
func Marshal(r *track.Route) ([]byte, error) {
	return marshal(r, false)
}

// MarshalIndent is like Marshal but indents the output for humans.
func MarshalIndent(r *track.Route) ([]byte, error) {
	return marshal(r, true)
}

func marshal(r *track.Route, indent bool) ([]byte, error) {
	if r == nil {
		r = &track.Route{}
	}

	segments := make([][]filePoint, len(r.Segments))
	for i, seg := range r.Segments {
		pts := make([]filePoint, len(seg))
		for j, p := range seg {
			pts[j] = toFilePoint(p)
		}
		segments[i] = pts
	}

	rawSegments, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("encoding segments: %w", err)
	}

	distance := track.RouteDistance(r)
	out := fileRoute{
		Name:     r.Name,
		Segments: rawSegments,
		Distance: &distance,
	}
	if r.Duration != nil {
		out.Duration = track.FormatDuration(*r.Duration)
	}

	if indent {
		return json.MarshalIndent(out, "", "  ")
	}
	return json.Marshal(out)
}

// Unmarshal decodes a route. It fails with ErrMalformedRoute when the
// segments field is missing or its contents are not points.
func Unmarshal(data []byte) (*track.Route, error) {
	var in fileRoute
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedRoute, err.Error())
	}

	raw := bytes.TrimSpace(in.Segments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing segments", ErrMalformedRoute)
	}

	var segments [][]filePoint
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil, fmt.Errorf("%w: segments: %s", ErrMalformedRoute, err.Error())
	}

	route := &track.Route{
		Name:     in.Name,
		Segments: make([]track.Segment, len(segments)),
		Distance: in.Distance,
	}

	for i, seg := range segments {
		points := make(track.Segment, len(seg))
		for j, fp := range seg {
			p, err := fromFilePoint(fp)
			if err != nil {
				return nil, fmt.Errorf("%w: segment %d point %d: %s", ErrMalformedRoute, i, j, err.Error())
			}
			points[j] = p
		}
		route.Segments[i] = points
	}

	switch {
	case in.Duration != "":
		d, err := track.ParseDuration(in.Duration)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedRoute, err.Error())
		}
		route.Duration = &d
	case in.TotalTime != nil:
		d := time.Duration(*in.TotalTime) * time.Millisecond
		route.Duration = &d
	}

	return route, nil
}

// Export encodes a non-empty route in the requested format.
func Export(r *track.Route, format Format) ([]byte, error) {
	if r == nil || r.PointCount() == 0 {
		return nil, ErrEmptyRoute
	}

	switch format {
	case FormatGPX:
		return MarshalGPX(r)
	default:
		return MarshalIndent(r)
	}
}

func toFilePoint(p track.Point) filePoint {
	lat, lon := p.Lat, p.Lon
	fp := filePoint{
		Lat:    &lat,
		Lon:    &lon,
		Alt:    p.Altitude,
		Speed:  p.Speed,
		Motion: p.Motion,
	}
	if fp.Motion == "" {
		fp.Motion = track.MotionUnknown
	}
	if !p.Time.IsZero() {
		fp.Time = p.Time.UTC().Format(time.RFC3339Nano)
	}
	if len(p.Enrichment.Payload) > 0 {
		fp.Weather = p.Enrichment.Payload
	}
	return fp
}

func fromFilePoint(fp filePoint) (track.Point, error) {
	if fp.Lat == nil || fp.Lon == nil {
		return track.Point{}, errors.New("lat and lon are required")
	}

	p := track.Point{
		Lat:      *fp.Lat,
		Lon:      *fp.Lon,
		Altitude: fp.Alt,
		Speed:    fp.Speed,
		Motion:   fp.Motion,
		Time:     parseTime(fp.Time),
	}

	if p.Motion == "" {
		p.Motion = track.MotionUnknown
	}
	if !p.Motion.Valid() {
		return track.Point{}, fmt.Errorf("unknown motion %q", fp.Motion)
	}

	weather := bytes.TrimSpace(fp.Weather)
	if len(weather) > 0 && !bytes.Equal(weather, []byte("null")) {
		p.Enrichment = track.Enrichment{
			Status:  track.EnrichmentAvailable,
			Payload: append(json.RawMessage(nil), weather...),
		}
	}

	return p, nil
}

// timeLayouts are tried in order; files written by other tools may carry
// locale-formatted times that none of them match.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
