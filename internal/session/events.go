package session

import (
	"time"

	"github.com/trackrec/trackrec/internal/track"
)

// State is the recording lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Status is the user-facing recording status.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusRecording        Status = "recording"
	StatusWaitingForSignal Status = "waiting_for_signal"
)

// EventType names a change notification.
type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventPointAccepted    EventType = "point_accepted"
	EventLivePosition     EventType = "live_position"
	EventProviderError    EventType = "provider_error"
	EventRouteLoaded      EventType = "route_loaded"
	EventRouteCleared     EventType = "route_cleared"
	EventWaitingForSignal EventType = "waiting_for_signal"
	EventPointEnriched    EventType = "point_enriched"
)

// PointRef addresses a recorded point.
type PointRef struct {
	Segment int `json:"segment"`
	Index   int `json:"index"`
}

// Event is a change notification for display layers.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Time      time.Time    `json:"time"`
	State     State        `json:"state"`
	Status    Status       `json:"status"`
	Point     *track.Point `json:"point,omitempty"`
	Ref       *PointRef    `json:"ref,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Notifier receives change events. Notify is called outside the manager's
// locks and must not block for long.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f.
func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
