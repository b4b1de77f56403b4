// Package track provides the recorded-track domain model and the pure
// algorithms that operate on it: smoothing, distance, admission and motion
// classification.
package track

import (
	"encoding/json"
	"time"
)

// Fix is a single raw reading delivered by a location provider.
type Fix struct {
	Lat float64
	Lon float64

	// Accuracy is the horizontal accuracy radius in meters.
	Accuracy float64

	// Altitude in meters, nil when the device cannot supply it.
	Altitude *float64

	// Speed in meters per second, nil when the device cannot supply it.
	Speed *float64

	Time time.Time
}

// Motion labels how a point was being traversed.
type Motion string

const (
	MotionUnknown Motion = "unknown"
	MotionWalk    Motion = "walk"
	MotionVehicle Motion = "vehicle"
)

// Valid reports whether m is one of the known motion labels.
func (m Motion) Valid() bool {
	switch m {
	case MotionUnknown, MotionWalk, MotionVehicle:
		return true
	default:
		return false
	}
}

// EnrichmentStatus tells apart "never requested" from "requested and failed".
type EnrichmentStatus string

const (
	EnrichmentNone        EnrichmentStatus = ""
	EnrichmentAvailable   EnrichmentStatus = "available"
	EnrichmentUnavailable EnrichmentStatus = "unavailable"
)

// Enrichment is contextual data attached to a point by an external
// collaborator. Payload is opaque to the recorder.
type Enrichment struct {
	Status  EnrichmentStatus `json:"status,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`

	// Elevation is used to fill Point.Altitude when the fix had none.
	Elevation *float64 `json:"elevation,omitempty"`
}

// Point is a fix after smoothing, classification and admission.
type Point struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Altitude *float64  `json:"alt"`
	Time     time.Time `json:"time"`
	Speed    *float64  `json:"speed"`
	Motion   Motion    `json:"motion"`

	Enrichment Enrichment `json:"enrichment"`
}

// Segment is one continuous recording interval.
type Segment []Point

// Last returns the final point of the segment, or nil when it is empty.
func (s Segment) Last() *Point {
	if len(s) == 0 {
		return nil
	}
	p := s[len(s)-1]
	return &p
}

// Route is a full activity record.
type Route struct {
	Name     string
	Segments []Segment

	// Distance is the recorded total in kilometers, if one was stored.
	Distance *float64

	// Duration is the recorded elapsed time, if one was stored.
	Duration *time.Duration
}

// PointCount returns the number of points across all segments.
func (r *Route) PointCount() int {
	n := 0
	for _, seg := range r.Segments {
		n += len(seg)
	}
	return n
}

// Start returns the first recorded point of the route.
func (r *Route) Start() *Point {
	for _, seg := range r.Segments {
		if len(seg) > 0 {
			p := seg[0]
			return &p
		}
	}
	return nil
}

// Finish returns the last recorded point of the route.
func (r *Route) Finish() *Point {
	for i := len(r.Segments) - 1; i >= 0; i-- {
		if p := r.Segments[i].Last(); p != nil {
			return p
		}
	}
	return nil
}

// Clone returns a deep copy of the route.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := &Route{Name: r.Name}
	if r.Distance != nil {
		d := *r.Distance
		out.Distance = &d
	}
	if r.Duration != nil {
		d := *r.Duration
		out.Duration = &d
	}
	out.Segments = make([]Segment, len(r.Segments))
	for i, seg := range r.Segments {
		cp := make(Segment, len(seg))
		for j, p := range seg {
			cp[j] = p.Clone()
		}
		out.Segments[i] = cp
	}
	return out
}

// Clone returns a copy of p that shares no memory with it.
func (p Point) Clone() Point {
	out := p
	out.Altitude = cloneFloat(p.Altitude)
	out.Speed = cloneFloat(p.Speed)
	out.Enrichment.Elevation = cloneFloat(p.Enrichment.Elevation)
	if p.Enrichment.Payload != nil {
		out.Enrichment.Payload = append(json.RawMessage(nil), p.Enrichment.Payload...)
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v. Handy for optional fields.
func Float(v float64) *float64 {
	return &v
}
