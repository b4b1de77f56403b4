package models

import (
	"time"

	"github.com/trackrec/trackrec/internal/routefile"
	"github.com/trackrec/trackrec/internal/track"
)

// RouteResponse is the recorded route with derived totals.
type RouteResponse struct {
	Name       string          `json:"name,omitempty"`
	Segments   []track.Segment `json:"segments"`
	Points     int             `json:"points"`
	DistanceKm float64         `json:"distanceKm"`
	Duration   string          `json:"duration"`
	Start      *track.Point    `json:"start,omitempty"`
	Finish     *track.Point    `json:"finish,omitempty"`
}

// NewRouteResponse builds the response for r. The distance is always
// recomputed from the points; duration is the session's elapsed time.
func NewRouteResponse(r *track.Route, elapsed time.Duration) RouteResponse {
	segments := make([]track.Segment, len(r.Segments))
	for i, seg := range r.Segments {
		if seg == nil {
			seg = track.Segment{}
		}
		segments[i] = seg
	}
	return RouteResponse{
		Name:       r.Name,
		Segments:   segments,
		Points:     r.PointCount(),
		DistanceKm: track.RouteDistance(r),
		Duration:   track.FormatDuration(elapsed),
		Start:      r.Start(),
		Finish:     r.Finish(),
	}
}

// RouteSaved acknowledges a persisted route.
type RouteSaved struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Points     int       `json:"points"`
	DistanceKm float64   `json:"distanceKm"`
	Duration   string    `json:"duration"`
	SavedAt    Timestamp `json:"savedAt"`
}

// PolylineResponse carries encoded segment geometry for map layers.
type PolylineResponse struct {
	Precision int                         `json:"precision"`
	Segments  []routefile.SegmentPolyline `json:"segments"`
}

// SeriesResponse carries the per-point chart series.
type SeriesResponse struct {
	Points []track.SeriesPoint `json:"points"`
}

// EnrichedPoint is a recorded point after an enrichment lookup.
type EnrichedPoint struct {
	Segment int          `json:"segment"`
	Index   int          `json:"index"`
	Point   *track.Point `json:"point"`
}
