package models

import (
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/track"
)

// SessionResponse is the recording state shown by display layers.
type SessionResponse struct {
	SessionID      string         `json:"sessionId"`
	State          session.State  `json:"state"`
	Status         session.Status `json:"status"`
	Elapsed        string         `json:"elapsed"`
	ElapsedSeconds int64          `json:"elapsedSeconds"`
	Live           *track.Point   `json:"live,omitempty"`
	Motion         track.Motion   `json:"motion"`
	Segments       int            `json:"segments"`
	Points         int            `json:"points"`
	DistanceKm     float64        `json:"distanceKm"`
}

// NewSessionResponse converts a session summary.
func NewSessionResponse(s session.Summary) SessionResponse {
	return SessionResponse{
		SessionID:      s.SessionID,
		State:          s.State,
		Status:         s.Status,
		Elapsed:        s.ElapsedText,
		ElapsedSeconds: int64(s.Elapsed.Seconds()),
		Live:           s.Live,
		Motion:         s.Motion,
		Segments:       s.Segments,
		Points:         s.Points,
		DistanceKm:     s.DistanceKm,
	}
}

// FixAccepted acknowledges a pushed fix.
type FixAccepted struct {
	Accepted bool           `json:"accepted"`
	Status   session.Status `json:"status"`
}
