package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackrec/trackrec/internal/api/middleware"
)

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 3, WindowLength: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Another client is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = "10.0.0.2:12345"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByDevice_KeysOnDevice(t *testing.T) {
	svc := newTokenService(t)
	tokenA, _, err := svc.Issue("dev_a")
	require.NoError(t, err)
	tokenB, _, err := svc.Issue("dev_b")
	require.NoError(t, err)

	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 30 * time.Second}
	handler := middleware.Auth(svc)(middleware.RateLimitByDevice(cfg)(okHandler()))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/session/fixes", http.NoBody)
		req.RemoteAddr = "192.168.7.7:1000"
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(tokenA))
	assert.Equal(t, http.StatusTooManyRequests, send(tokenA))
	assert.Equal(t, http.StatusOK, send(tokenB), "same IP, different device")
}

func TestRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 600, middleware.IngestRateLimit.RequestLimit)
	assert.Greater(t, middleware.StandardRateLimit.RequestLimit, middleware.ExportRateLimit.RequestLimit)
}
