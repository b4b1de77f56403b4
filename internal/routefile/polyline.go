package routefile

import (
	"github.com/trackrec/trackrec/internal/track"
	"github.com/trackrec/trackrec/pkg/polyline"
)

// SegmentPolyline is the encoded geometry of one segment.
type SegmentPolyline struct {
	Index    int     `json:"index"`
	Points   int     `json:"points"`
	Polyline string  `json:"polyline"`
	Distance float64 `json:"distanceKm"`
}

// Polylines encodes every segment of the route, keeping empty segments so
// indexes line up with the route.
func Polylines(r *track.Route, p polyline.Precision) []SegmentPolyline {
	if r == nil {
		return nil
	}

	out := make([]SegmentPolyline, len(r.Segments))
	for i, seg := range r.Segments {
		coords := make([]polyline.Coordinate, len(seg))
		for j, pt := range seg {
			coords[j] = polyline.Coordinate{Lat: pt.Lat, Lon: pt.Lon}
		}
		out[i] = SegmentPolyline{
			Index:    i,
			Points:   len(seg),
			Polyline: polyline.EncodePrecision(coords, p),
			Distance: track.PathLength(seg),
		}
	}
	return out
}
