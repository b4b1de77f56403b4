package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/api/middleware"
	"github.com/trackrec/trackrec/internal/api/models"
	"github.com/trackrec/trackrec/internal/api/response"
	"github.com/trackrec/trackrec/internal/location"
	"github.com/trackrec/trackrec/internal/routefile"
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/storage"
)

// writeError maps domain errors to Problem responses. Unknown errors are
// logged and reported as 500 without their detail.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	traceID := middleware.GetRequestID(r.Context())

	switch {
	case errors.Is(err, session.ErrProviderUnavailable):
		response.ServiceUnavailable(w, r, "location provider unavailable")
	case errors.Is(err, session.ErrAlreadyRecording):
		response.Conflict(w, r, "a recording is in progress")
	case errors.Is(err, session.ErrNotRecording):
		response.Conflict(w, r, "not recording")
	case errors.Is(err, session.ErrUnknownPoint):
		response.NotFound(w, r, "no such point")
	case errors.Is(err, session.ErrEnrichmentUnavailable):
		response.ServiceUnavailable(w, r, "enrichment unavailable")
	case errors.Is(err, location.ErrNoSubscriber):
		response.Conflict(w, r, "no recording is listening for fixes")
	case errors.Is(err, location.ErrInvalidFix):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, routefile.ErrEmptyRoute):
		response.Error(w, r, models.NewEmptyRoute(traceID))
	case errors.Is(err, routefile.ErrMalformedRoute):
		response.Error(w, r, models.NewMalformedRoute(traceID, err.Error()))
	case errors.Is(err, storage.ErrNotFound):
		response.NotFound(w, r, "no saved route")
	default:
		log.Error().Err(err).Str("request_id", traceID).Str("path", r.URL.Path).Msg("request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
