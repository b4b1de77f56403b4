package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/api/models"
	"github.com/trackrec/trackrec/internal/api/response"
	"github.com/trackrec/trackrec/internal/routefile"
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/storage"
	"github.com/trackrec/trackrec/internal/track"
	"github.com/trackrec/trackrec/pkg/polyline"
)

// maxRouteBytes bounds an imported route document.
const maxRouteBytes = 16 << 20

// RouteHandler serves the recorded route and its persistence.
type RouteHandler struct {
	manager *session.Manager
	archive *storage.Archive
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(manager *session.Manager, archive *storage.Archive, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{
		manager: manager,
		archive: archive,
		logger:  logger,
		now:     time.Now,
	}
}

// GetRoute handles GET /v1/route.
func (h *RouteHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewRouteResponse(h.manager.Route(), h.manager.Elapsed()))
}

// Export handles GET /v1/route/export?format=json|gpx.
func (h *RouteHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := routefile.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "format", Message: "must be json or gpx", Code: "INVALID_ENUM"},
		})
		return
	}

	route := h.manager.Route()
	if route.Name == "" {
		route.Name = routefile.DefaultName(h.now())
	}
	elapsed := h.manager.Elapsed()
	route.Duration = &elapsed

	data, err := routefile.Export(route, format)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Attachment(w, r, format.ContentType(), fileName(route.Name)+format.Extension(), data)
}

// Import handles POST /v1/route/import. The body is a route document; it
// replaces the in-memory route only when it parses.
func (h *RouteHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRouteBytes))
	if err != nil {
		response.BadRequest(w, r, "request body too large or unreadable", nil)
		return
	}

	route, err := routefile.Unmarshal(body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.load(w, r, route)
}

// Save handles POST /v1/route/save.
func (h *RouteHandler) Save(w http.ResponseWriter, r *http.Request) {
	elapsed := h.manager.Elapsed()
	saved, err := h.archive.Save(r.Context(), h.manager.Route(), elapsed)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.RouteSaved{
		Key:        storage.LastRouteKey,
		Name:       saved.Name,
		Points:     saved.PointCount(),
		DistanceKm: track.RouteDistance(saved),
		Duration:   track.FormatDuration(elapsed),
		SavedAt:    models.Timestamp(h.now()),
	})
}

// Load handles POST /v1/route/load, restoring the last saved route.
func (h *RouteHandler) Load(w http.ResponseWriter, r *http.Request) {
	route, err := h.archive.Load(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.load(w, r, route)
}

func (h *RouteHandler) load(w http.ResponseWriter, r *http.Request, route *track.Route) {
	var duration time.Duration
	if route.Duration != nil {
		duration = *route.Duration
	}
	if err := h.manager.LoadRoute(route, duration); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewRouteResponse(h.manager.Route(), h.manager.Elapsed()))
}

// Polyline handles GET /v1/route/polyline?precision=5|6.
func (h *RouteHandler) Polyline(w http.ResponseWriter, r *http.Request) {
	precision := polyline.Precision5
	switch r.URL.Query().Get("precision") {
	case "", "5":
	case "6":
		precision = polyline.Precision6
	default:
		response.BadRequest(w, r, "unsupported precision", []models.FieldError{
			{Field: "precision", Message: "must be 5 or 6", Code: "INVALID_ENUM"},
		})
		return
	}

	response.JSON(w, r, http.StatusOK, models.PolylineResponse{
		Precision: int(precision),
		Segments:  routefile.Polylines(h.manager.Route(), precision),
	})
}

// Series handles GET /v1/route/series.
func (h *RouteHandler) Series(w http.ResponseWriter, r *http.Request) {
	points := track.Series(h.manager.Route())
	if points == nil {
		points = []track.SeriesPoint{}
	}
	response.JSON(w, r, http.StatusOK, models.SeriesResponse{Points: points})
}

// EnrichPoint handles POST /v1/route/points/{segment}/{index}/enrichment,
// looking up enrichment for a point that is already recorded.
func (h *RouteHandler) EnrichPoint(w http.ResponseWriter, r *http.Request) {
	var fieldErrors []models.FieldError
	segment, err := strconv.Atoi(chi.URLParam(r, "segment"))
	if err != nil || segment < 0 {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "segment", Message: "must be a non-negative integer", Code: "INVALID_VALUE"})
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "index", Message: "must be a non-negative integer", Code: "INVALID_VALUE"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid point reference", fieldErrors)
		return
	}

	p, err := h.manager.EnrichPoint(r.Context(), session.PointRef{Segment: segment, Index: index})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.EnrichedPoint{Segment: segment, Index: index, Point: p})
}

// fileName makes a route name safe for Content-Disposition.
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '"', '\r', '\n':
			return '.'
		}
		return r
	}, name)
}
