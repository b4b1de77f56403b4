package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackrec/trackrec/internal/api"
	"github.com/trackrec/trackrec/internal/api/handler"
	"github.com/trackrec/trackrec/internal/api/models"
	"github.com/trackrec/trackrec/internal/auth"
	"github.com/trackrec/trackrec/internal/location"
	"github.com/trackrec/trackrec/internal/provider/resilience"
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/storage"
	"github.com/trackrec/trackrec/internal/stream"
	"github.com/trackrec/trackrec/internal/track"
)

type testServer struct {
	handler http.Handler
	manager *session.Manager
	tokens  *auth.TokenService
	hub     *stream.Hub
	store   *storage.MemoryStore
}

type serverOptions struct {
	checks   []handler.Check
	enricher session.Enricher
}

func newTestServer(t *testing.T, checks ...handler.Check) *testServer {
	t.Helper()
	return newTestServerWith(t, serverOptions{checks: checks})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "trackrec",
		Audience:   "trackrec-api",
	})
	require.NoError(t, err)

	hub := stream.NewHub(stream.HubConfig{Logger: logger})
	push := location.NewPushProvider(16)
	manager, err := session.NewManager(session.Config{
		Provider: push,
		Notifier: hub,
		Enricher: opts.enricher,
		Logger:   logger,
	})
	require.NoError(t, err)

	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("open-meteo")
	cfg.Registry = registry
	resilience.NewClient(cfg)

	store := storage.NewMemoryStore()
	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2024-01-01T00:00:00Z",
		Logger:    logger,
		Manager:   manager,
		Archive:   storage.NewArchive(store),
		Push:      push,
		Tokens:    tokens,
		Stream:    stream.NewHandler(hub, stream.HandlerConfig{Logger: logger}),
		Registry:  registry,
		Checks:    opts.checks,
	})

	return &testServer{handler: router, manager: manager, tokens: tokens, hub: hub, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) bearer(t *testing.T) []string {
	t.Helper()
	token, _, err := s.tokens.Issue("dev_test")
	require.NoError(t, err)
	return []string{"Authorization", "Bearer " + token}
}

func (s *testServer) pushFix(t *testing.T, lat, lon float64) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"latitude":%v,"longitude":%v,"accuracyMeters":5,"speedMps":1.2,"time":"2024-05-01T08:30:00Z"}`, lat, lon)
	return s.do(t, http.MethodPost, "/v1/session/fixes", body, s.bearer(t)...)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertProblem(t *testing.T, rec *httptest.ResponseRecorder, status int, problemType string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	if problemType != "" {
		assert.Equal(t, problemType, decode[models.Problem](t, rec).Type)
	}
}

func TestOps_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/v1/ops/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestOps_ReadyFailsWhenDependencyDown(t *testing.T) {
	s := newTestServer(t,
		handler.Check{Name: "memory", Probe: func(context.Context) error { return nil }},
		handler.Check{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := s.do(t, http.MethodGet, "/v1/ops/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, "connection refused", health.Details["redis"])

	rec = s.do(t, http.MethodGet, "/v1/ops/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.SystemStatus](t, rec)
	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.Len(t, status.Subsystems, 2)
}

func TestOps_StatusListsProviders(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/ops/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[models.SystemStatus](t, rec)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "open-meteo", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
}

func TestSession_RecordExportSaveLoad(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateIdle, decode[models.SessionResponse](t, rec).State)

	rec = s.do(t, http.MethodPost, "/v1/session/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateRecording, decode[models.SessionResponse](t, rec).State)

	for i := 0; i < 3; i++ {
		rec = s.pushFix(t, 31.0+float64(i)*0.001, 35.0)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.True(t, decode[models.FixAccepted](t, rec).Accepted)
	}

	require.Eventually(t, func() bool {
		return s.manager.Route().PointCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodPost, "/v1/session/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateIdle, decode[models.SessionResponse](t, rec).State)

	rec = s.do(t, http.MethodGet, "/v1/route", "")
	require.Equal(t, http.StatusOK, rec.Code)
	route := decode[models.RouteResponse](t, rec)
	assert.Equal(t, 3, route.Points)
	assert.Greater(t, route.DistanceKm, 0.05)
	require.NotNil(t, route.Start)

	rec = s.do(t, http.MethodGet, "/v1/route/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `.json"`)
	assert.Contains(t, rec.Body.String(), `"segments"`)

	rec = s.do(t, http.MethodGet, "/v1/route/export?format=gpx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gpx+xml", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("<?xml")))

	rec = s.do(t, http.MethodGet, "/v1/route/polyline?precision=6", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decode[models.PolylineResponse](t, rec)
	assert.Equal(t, 6, lines.Precision)
	require.Len(t, lines.Segments, 1)
	assert.Equal(t, 3, lines.Segments[0].Points)

	rec = s.do(t, http.MethodGet, "/v1/route/series", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.SeriesResponse](t, rec).Points, 3)

	rec = s.do(t, http.MethodPost, "/v1/route/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode[models.RouteSaved](t, rec)
	assert.Equal(t, storage.LastRouteKey, saved.Key)
	assert.True(t, strings.HasPrefix(saved.Name, "Route "))
	assert.Equal(t, 3, saved.Points)

	rec = s.do(t, http.MethodPost, "/v1/session/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[models.SessionResponse](t, rec).Points)

	rec = s.do(t, http.MethodPost, "/v1/route/load", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loaded := decode[models.RouteResponse](t, rec)
	assert.Equal(t, 3, loaded.Points)
	assert.Equal(t, saved.Name, loaded.Name)
	assert.InDelta(t, route.DistanceKm, loaded.DistanceKm, 1e-9)
}

func TestSession_StartTwiceConflicts(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/session/start", "").Code)
	defer s.manager.Stop()

	assertProblem(t, s.do(t, http.MethodPost, "/v1/session/start", ""), http.StatusConflict, models.ProblemTypeConflict)
}

func TestSession_StopWhenIdle(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/session/stop", "").Code)
}

func TestFixes_RequireAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/v1/session/fixes", `{"latitude":1,"longitude":1}`)
	assertProblem(t, rec, http.StatusUnauthorized, models.ProblemTypeUnauthorized)
}

func TestFixes_Rejected(t *testing.T) {
	s := newTestServer(t)

	// Nobody is recording.
	assertProblem(t, s.pushFix(t, 1, 1), http.StatusConflict, models.ProblemTypeConflict)

	rec := s.do(t, http.MethodPost, "/v1/session/fixes", `{"latitude":91,"longitude":1}`, s.bearer(t)...)
	assertProblem(t, rec, http.StatusBadRequest, models.ProblemTypeValidation)

	rec = s.do(t, http.MethodPost, "/v1/session/fixes", `{"latitude":1,"longitude":1}`,
		append(s.bearer(t), "Content-Type", "text/plain")...)
	assertProblem(t, rec, http.StatusUnsupportedMediaType, models.ProblemTypeUnsupportedType)
}

func TestFixes_DeviceErrorEndsRecording(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/session/start", "").Code)

	rec := s.do(t, http.MethodPost, "/v1/session/fixes", `{"error":"permission revoked"}`, s.bearer(t)...)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, decode[models.FixAccepted](t, rec).Accepted)

	require.Eventually(t, func() bool {
		return s.manager.State() == session.StateIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoute_ExportEmpty(t *testing.T) {
	s := newTestServer(t)
	assertProblem(t, s.do(t, http.MethodGet, "/v1/route/export", ""), http.StatusConflict, models.ProblemTypeEmptyRoute)
	assertProblem(t, s.do(t, http.MethodPost, "/v1/route/save", ""), http.StatusConflict, models.ProblemTypeEmptyRoute)
}

func TestRoute_ExportBadFormat(t *testing.T) {
	s := newTestServer(t)
	assertProblem(t, s.do(t, http.MethodGet, "/v1/route/export?format=kml", ""), http.StatusBadRequest, models.ProblemTypeValidation)
	assertProblem(t, s.do(t, http.MethodGet, "/v1/route/polyline?precision=7", ""), http.StatusBadRequest, models.ProblemTypeValidation)
}

func TestRoute_LoadNothingSaved(t *testing.T) {
	s := newTestServer(t)
	assertProblem(t, s.do(t, http.MethodPost, "/v1/route/load", ""), http.StatusNotFound, models.ProblemTypeNotFound)
}

const importedRoute = `{"name":"Imported","segments":[` +
	`[{"lat":31,"lon":35,"alt":null,"time":"2024-05-01T08:30:00Z","speed":null,"motion":"walk","weather":null},` +
	`{"lat":31.01,"lon":35,"alt":null,"time":"2024-05-01T08:35:00Z","speed":null,"motion":"walk","weather":null}],` +
	`[{"lat":31.02,"lon":35,"alt":null,"time":"2024-05-01T08:40:00Z","speed":null,"motion":"unknown","weather":null}]` +
	`],"duration":"00:10:00"}`

func TestRoute_Import(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/route/import", importedRoute)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	route := decode[models.RouteResponse](t, rec)
	assert.Equal(t, "Imported", route.Name)
	assert.Equal(t, 3, route.Points)
	assert.Greater(t, route.DistanceKm, 1.0)
	assert.Equal(t, "00:10:00", route.Duration)

	before := s.manager.Route()
	rec = s.do(t, http.MethodPost, "/v1/route/import", `{"segments":"not-an-array"}`)
	assertProblem(t, rec, http.StatusBadRequest, models.ProblemTypeMalformedRoute)

	after := s.manager.Route()
	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, before.Segments, after.Segments)
	assert.Equal(t, 3, after.PointCount())
	assert.Equal(t, 10*time.Minute, s.manager.Elapsed())

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/session/start", "").Code)
	defer s.manager.Stop()
	rec = s.do(t, http.MethodPost, "/v1/route/import", `{"segments":[]}`)
	assertProblem(t, rec, http.StatusConflict, models.ProblemTypeConflict)
}

func TestRoute_LoadCorruptBlobKeepsRoute(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/route/import", importedRoute).Code)
	before := s.manager.Route()

	require.NoError(t, s.store.Set(context.Background(), storage.LastRouteKey, []byte(`{"segments":"not-an-array"}`)))

	rec := s.do(t, http.MethodPost, "/v1/route/load", "")
	assertProblem(t, rec, http.StatusBadRequest, models.ProblemTypeMalformedRoute)

	after := s.manager.Route()
	assert.Equal(t, "Imported", after.Name)
	assert.Equal(t, before.Segments, after.Segments)
	assert.Equal(t, 10*time.Minute, s.manager.Elapsed())
}

func TestRoute_EnrichPoint(t *testing.T) {
	var calls []float64
	s := newTestServerWith(t, serverOptions{
		enricher: session.EnricherFunc(func(_ context.Context, lat, _ float64) (*track.Enrichment, error) {
			calls = append(calls, lat)
			return &track.Enrichment{Elevation: track.Float(812), Payload: json.RawMessage(`{"tempC":21}`)}, nil
		}),
	})
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/route/import", importedRoute).Code)

	rec := s.do(t, http.MethodPost, "/v1/route/points/1/0/enrichment", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	enriched := decode[models.EnrichedPoint](t, rec)
	assert.Equal(t, 1, enriched.Segment)
	assert.Equal(t, 0, enriched.Index)
	require.NotNil(t, enriched.Point)
	assert.Equal(t, track.EnrichmentAvailable, enriched.Point.Enrichment.Status)
	require.NotNil(t, enriched.Point.Altitude)
	assert.Equal(t, 812.0, *enriched.Point.Altitude)
	assert.Equal(t, []float64{31.02}, calls)

	stored := s.manager.Route().Segments[1][0]
	assert.Equal(t, track.EnrichmentAvailable, stored.Enrichment.Status)
	assert.JSONEq(t, `{"tempC":21}`, string(stored.Enrichment.Payload))

	assertProblem(t, s.do(t, http.MethodPost, "/v1/route/points/5/0/enrichment", ""), http.StatusNotFound, models.ProblemTypeNotFound)
	assertProblem(t, s.do(t, http.MethodPost, "/v1/route/points/0/x/enrichment", ""), http.StatusBadRequest, models.ProblemTypeValidation)
}

func TestRoute_EnrichPointWithoutEnricher(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/route/import", importedRoute).Code)

	rec := s.do(t, http.MethodPost, "/v1/route/points/0/0/enrichment", "")
	assertProblem(t, rec, http.StatusServiceUnavailable, models.ProblemTypeUnavailable)
	assert.Equal(t, track.EnrichmentNone, s.manager.Route().Segments[0][0].Enrichment.Status)
}

func TestStream_DeliversEventsThroughMiddleware(t *testing.T) {
	s := newTestServer(t)
	server := httptest.NewServer(s.handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Post(server.URL+"/v1/session/start", "application/json", http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	defer s.manager.Stop()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event session.Event
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, session.EventStateChanged, event.Type)
	assert.Equal(t, session.StateRecording, event.State)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/nope", "").Code)
}
