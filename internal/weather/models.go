// Package weather enriches recorded points with current weather and terrain
// elevation.
package weather

import (
	"errors"
	"math"
	"time"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Observation is the current weather at a location.
type Observation struct {
	Lat float64
	Lon float64

	// Temperature in Celsius.
	Temperature float64

	// WindSpeed in m/s at 10 m.
	WindSpeed float64

	// WindDirection in degrees, 0=N, 90=E.
	WindDirection float64

	ObservedAt time.Time
	FetchedAt  time.Time
}

// compassPoints are the 8 principal winds, clockwise from north.
var compassPoints = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// CompassLabel returns the 8-point compass label for a bearing in degrees.
func CompassLabel(deg float64) string {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	idx := int(math.Round(deg/45)) % len(compassPoints)
	return compassPoints[idx]
}

// Payload is the enrichment attached to a recorded point. The temp and wind
// keys are also read back when deriving chart series.
type Payload struct {
	Temperature  float64   `json:"temp"`
	WindSpeed    float64   `json:"wind"`
	Direction    string    `json:"dir"`
	DirectionDeg float64   `json:"dirDeg"`
	ObservedAt   time.Time `json:"observedAt"`
	ProviderName string    `json:"provider"`
}

// NewPayload builds the payload for an observation.
func NewPayload(obs *Observation, provider string) Payload {
	return Payload{
		Temperature:  obs.Temperature,
		WindSpeed:    obs.WindSpeed,
		Direction:    CompassLabel(obs.WindDirection),
		DirectionDeg: obs.WindDirection,
		ObservedAt:   obs.ObservedAt,
		ProviderName: provider,
	}
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
