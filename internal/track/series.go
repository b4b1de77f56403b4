package track

import (
	"encoding/json"
	"math"
)

// SeriesPoint is one sample of the derived per-point series used for charting.
type SeriesPoint struct {
	Seconds    int64    `json:"seconds"`
	Altitude   *float64 `json:"altitude"`
	Speed      *float64 `json:"speed"`
	DistanceKm float64  `json:"distanceKm"`
	Motion     Motion   `json:"motion"`

	Temperature *float64 `json:"temperature"`
	WindSpeed   *float64 `json:"windSpeed"`
}

// weatherFields is the subset of an enrichment payload charted alongside the track.
type weatherFields struct {
	Temperature *float64 `json:"temp"`
	Wind        *float64 `json:"wind"`
}

// Series flattens the route into chartable samples. Seconds are measured
// from the first point of the route; cumulative distance only grows within
// a segment, never across the gap between two segments.
func Series(r *Route) []SeriesPoint {
	if r == nil {
		return nil
	}
	start := r.Start()
	if start == nil {
		return nil
	}

	out := make([]SeriesPoint, 0, r.PointCount())
	var dist float64
	for _, seg := range r.Segments {
		for i, p := range seg {
			if i > 0 {
				dist += Distance(seg[i-1], p)
			}
			sp := SeriesPoint{
				Altitude:   p.Altitude,
				Speed:      p.Speed,
				DistanceKm: math.Round(dist*100) / 100,
				Motion:     p.Motion,
			}
			if !p.Time.IsZero() && !start.Time.IsZero() {
				sp.Seconds = int64(p.Time.Sub(start.Time).Seconds())
			}
			if len(p.Enrichment.Payload) > 0 {
				var w weatherFields
				if err := json.Unmarshal(p.Enrichment.Payload, &w); err == nil {
					sp.Temperature = w.Temperature
					sp.WindSpeed = w.Wind
				}
			}
			out = append(out, sp)
		}
	}
	return out
}
