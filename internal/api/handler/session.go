package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/api/models"
	"github.com/trackrec/trackrec/internal/api/response"
	"github.com/trackrec/trackrec/internal/location"
	"github.com/trackrec/trackrec/internal/session"
)

// maxFixBytes bounds a pushed fix body.
const maxFixBytes = 4 << 10

// SessionHandler drives the recording lifecycle.
type SessionHandler struct {
	manager *session.Manager
	push    *location.PushProvider
	logger  zerolog.Logger
}

// NewSessionHandler creates a SessionHandler. push is nil when fixes come
// from a broker rather than HTTP.
func NewSessionHandler(manager *session.Manager, push *location.PushProvider, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, push: push, logger: logger}
}

// GetSession handles GET /v1/session.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewSessionResponse(h.manager.Summary()))
}

// Start handles POST /v1/session/start.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Start(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSessionResponse(h.manager.Summary()))
}

// Stop handles POST /v1/session/stop. Stopping an idle session is a no-op.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.manager.Stop()
	response.JSON(w, r, http.StatusOK, models.NewSessionResponse(h.manager.Summary()))
}

// Clear handles POST /v1/session/clear.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.manager.Clear()
	response.JSON(w, r, http.StatusOK, models.NewSessionResponse(h.manager.Summary()))
}

// PushFix handles POST /v1/session/fixes. The fix is queued for the active
// recording and processed asynchronously.
func (h *SessionHandler) PushFix(w http.ResponseWriter, r *http.Request) {
	if h.push == nil {
		response.NotFound(w, r, "fixes are not accepted over HTTP on this server")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFixBytes))
	if err != nil {
		response.BadRequest(w, r, "request body too large or unreadable", nil)
		return
	}

	fix, err := location.Decode(body)
	var deviceErr *location.DeviceError
	if errors.As(err, &deviceErr) {
		// The device reports it can no longer locate; end the recording's
		// subscription the way a broker-delivered report would.
		if err := h.push.Fail(deviceErr); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		response.JSON(w, r, http.StatusAccepted, models.FixAccepted{Status: h.manager.Status()})
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.push.Push(r.Context(), fix); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusAccepted, models.FixAccepted{
		Accepted: true,
		Status:   h.manager.Status(),
	})
}
