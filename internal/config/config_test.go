package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackrec/trackrec/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.New(""))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, config.StoreMemory, cfg.Store.Backend)
	assert.Equal(t, config.LocationPush, cfg.Location.Provider)
	assert.Equal(t, 15.0, cfg.Recording.AccuracyCeilingMeters)
	assert.Equal(t, 0.003, cfg.Recording.AdmissionThresholdKm)
	assert.Equal(t, 3*time.Second, cfg.Recording.EnrichTimeout)
	assert.True(t, cfg.Recording.AutoReload)
	assert.True(t, cfg.Weather.Enabled)
	assert.Empty(t, cfg.Auth.SigningKey)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TRACKREC_SERVER_ADDR", ":9090")
	t.Setenv("TRACKREC_LOG_LEVEL", "debug")
	t.Setenv("TRACKREC_STORE_BACKEND", "redis")
	t.Setenv("TRACKREC_LOCATION_PROVIDER", "kafka")
	t.Setenv("TRACKREC_LOCATION_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRACKREC_RECORDING_ADMISSION_THRESHOLD_KM", "0.01")
	t.Setenv("TRACKREC_WEATHER_CACHE_TTL", "5m")

	cfg, err := config.Load(config.New(""))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, config.StoreRedis, cfg.Store.Backend)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Location.Kafka.Brokers)
	assert.Equal(t, 0.01, cfg.Recording.AdmissionThresholdKm)
	assert.Equal(t, 5*time.Minute, cfg.Weather.CacheTTL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: postgres
  postgres:
    host: db.internal
    password: secret
location:
  provider: pubsub
  pubsub:
    project_id: fleet
    subscription: fixes-sub
stream:
  allowed_origins:
    - https://app.example.com
`), 0o600))

	t.Setenv("TRACKREC_STORE_POSTGRES_HOST", "db.override")

	cfg, err := config.Load(config.New(path))
	require.NoError(t, err)

	assert.Equal(t, config.StorePostgres, cfg.Store.Backend)
	assert.Equal(t, "fleet", cfg.Location.PubSub.ProjectID)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Stream.AllowedOrigins)

	db := cfg.Database()
	assert.Equal(t, "db.override", db.Host, "environment wins over the file")
	assert.Equal(t, 5432, db.Port)
	assert.Equal(t, "secret", db.Password)
	assert.Equal(t, "disable", db.SSLMode)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(config.New(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"TRACKREC_STORE_BACKEND": "s3"}},
		{name: "unknown provider", env: map[string]string{"TRACKREC_LOCATION_PROVIDER": "serial"}},
		{name: "kafka without brokers", env: map[string]string{"TRACKREC_LOCATION_PROVIDER": "kafka"}},
		{name: "pubsub without subscription", env: map[string]string{
			"TRACKREC_LOCATION_PROVIDER":          "pubsub",
			"TRACKREC_LOCATION_PUBSUB_PROJECT_ID": "fleet",
		}},
		{name: "bad log level", env: map[string]string{"TRACKREC_LOG_LEVEL": "loud"}},
		{name: "zero accuracy ceiling", env: map[string]string{"TRACKREC_RECORDING_ACCURACY_CEILING_M": "0"}},
		{name: "cert without key", env: map[string]string{"TRACKREC_SERVER_TLS_CERT": "/tls/cert.pem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(config.New(""))
			assert.Error(t, err)
		})
	}
}

func TestUsesRedis_StreamRelay(t *testing.T) {
	t.Setenv("TRACKREC_STREAM_REDIS_RELAY", "true")

	cfg, err := config.Load(config.New(""))
	require.NoError(t, err)
	assert.True(t, cfg.UsesRedis())
}
