// Package location implements the location providers that feed fixes into a
// recording session: HTTP push, Google Cloud Pub/Sub and Kafka.
package location

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trackrec/trackrec/internal/track"
)

var (
	// ErrInvalidFix is returned for messages that do not describe a usable fix.
	ErrInvalidFix = errors.New("invalid fix message")

	// ErrNoSubscriber is returned by PushProvider.Push when nobody is recording.
	ErrNoSubscriber = errors.New("no active subscription")
)

// DeviceError is a failure reported by the device itself, e.g. a revoked
// location permission. It ends the subscription.
type DeviceError struct {
	Reason string
}

func (e *DeviceError) Error() string {
	return "device reported: " + e.Reason
}

// Message is the wire form of a fix shared by every transport.
type Message struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	AccuracyMeters float64  `json:"accuracyMeters"`
	Altitude       *float64 `json:"altitude,omitempty"`
	SpeedMps       *float64 `json:"speedMps,omitempty"`
	Time           string   `json:"time,omitempty"`

	// Error, when set, reports a device failure instead of a fix.
	Error string `json:"error,omitempty"`
}

// Decode parses one message. It returns a *DeviceError for error reports
// and ErrInvalidFix for anything that is not a usable fix.
func Decode(data []byte) (track.Fix, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return track.Fix{}, fmt.Errorf("%w: %s", ErrInvalidFix, err.Error())
	}
	return msg.Fix()
}

// Fix validates the message and converts it.
func (m Message) Fix() (track.Fix, error) {
	if m.Error != "" {
		return track.Fix{}, &DeviceError{Reason: m.Error}
	}
	if m.Latitude == nil || m.Longitude == nil {
		return track.Fix{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidFix)
	}

	lat, lon := *m.Latitude, *m.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return track.Fix{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidFix)
	}
	if m.AccuracyMeters < 0 {
		return track.Fix{}, fmt.Errorf("%w: negative accuracy", ErrInvalidFix)
	}
	if m.SpeedMps != nil && *m.SpeedMps < 0 {
		return track.Fix{}, fmt.Errorf("%w: negative speed", ErrInvalidFix)
	}

	fix := track.Fix{
		Lat:      lat,
		Lon:      lon,
		Accuracy: m.AccuracyMeters,
		Altitude: m.Altitude,
		Speed:    m.SpeedMps,
	}
	if m.Time != "" {
		t, err := time.Parse(time.RFC3339Nano, m.Time)
		if err != nil {
			return track.Fix{}, fmt.Errorf("%w: time: %s", ErrInvalidFix, err.Error())
		}
		fix.Time = t
	}
	return fix, nil
}
