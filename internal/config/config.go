// Package config loads trackrec configuration from defaults, an optional
// YAML file and TRACKREC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/trackrec/trackrec/internal/database"
)

// EnvPrefix prefixes every environment variable, e.g. TRACKREC_SERVER_ADDR.
const EnvPrefix = "TRACKREC"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Location providers.
const (
	LocationPush   = "push"
	LocationPubSub = "pubsub"
	LocationKafka  = "kafka"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Location  LocationConfig  `mapstructure:"location"`
	Recording RecordingConfig `mapstructure:"recording"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequireTLS rejects plain-HTTP requests that did not arrive through a
	// TLS-terminating proxy.
	RequireTLS bool   `mapstructure:"require_tls"`
	TLSCert    string `mapstructure:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LocationConfig struct {
	Provider   string       `mapstructure:"provider"`
	PushBuffer int          `mapstructure:"push_buffer"`
	PubSub     PubSubConfig `mapstructure:"pubsub"`
	Kafka      KafkaConfig  `mapstructure:"kafka"`
}

type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RecordingConfig struct {
	AccuracyCeilingMeters float64       `mapstructure:"accuracy_ceiling_m"`
	AdmissionThresholdKm  float64       `mapstructure:"admission_threshold_km"`
	EnrichTimeout         time.Duration `mapstructure:"enrich_timeout"`

	// AutoReload restores the last saved route at startup.
	AutoReload bool `mapstructure:"auto_reload"`
}

type WeatherConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	StaleIfErrorTTL time.Duration `mapstructure:"stale_if_error_ttl"`
}

type AuthConfig struct {
	// SigningKey enables device tokens on the fixes endpoint when set.
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type StreamConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// RedisRelay fans events out through Redis so every instance's
	// websocket clients see them.
	RedisRelay bool   `mapstructure:"redis_relay"`
	Channel    string `mapstructure:"channel"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Environment string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.require_tls", false)
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "trackrec:")
	v.SetDefault("store.redis.ttl", time.Duration(0))
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "trackrec")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.database", "trackrec")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.max_conns", 5)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("location.provider", LocationPush)
	v.SetDefault("location.push_buffer", 64)
	v.SetDefault("location.pubsub.project_id", "")
	v.SetDefault("location.pubsub.subscription", "")
	v.SetDefault("location.kafka.brokers", []string{})
	v.SetDefault("location.kafka.topic", "gps-fixes")
	v.SetDefault("location.kafka.group_id", "trackrec")

	v.SetDefault("recording.accuracy_ceiling_m", 15.0)
	v.SetDefault("recording.admission_threshold_km", 0.003)
	v.SetDefault("recording.enrich_timeout", 3*time.Second)
	v.SetDefault("recording.auto_reload", true)

	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.base_url", "")
	v.SetDefault("weather.timeout", 5*time.Second)
	v.SetDefault("weather.max_retries", 2)
	v.SetDefault("weather.cache_ttl", 10*time.Minute)
	v.SetDefault("weather.stale_if_error_ttl", time.Hour)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "trackrec")
	v.SetDefault("auth.audience", "trackrec-devices")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("stream.allowed_origins", []string{})
	v.SetDefault("stream.redis_relay", false)
	v.SetDefault("stream.channel", "trackrec:events")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.environment", "development")
}

// New returns a viper instance with defaults and environment binding, and
// the config file set when path is not empty. Callers may bind flags to it
// before calling Load.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("trackrec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/trackrec")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, when present, and decodes v. A missing file
// is only an error when it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	switch c.Location.Provider {
	case LocationPush:
	case LocationPubSub:
		if c.Location.PubSub.ProjectID == "" || c.Location.PubSub.Subscription == "" {
			errs = append(errs, errors.New("location.pubsub: project_id and subscription are required"))
		}
	case LocationKafka:
		if len(c.Location.Kafka.Brokers) == 0 || c.Location.Kafka.Topic == "" {
			errs = append(errs, errors.New("location.kafka: brokers and topic are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("location.provider: unknown provider %q", c.Location.Provider))
	}

	if c.Recording.AccuracyCeilingMeters <= 0 {
		errs = append(errs, errors.New("recording.accuracy_ceiling_m: must be positive"))
	}
	if c.Recording.AdmissionThresholdKm <= 0 {
		errs = append(errs, errors.New("recording.admission_threshold_km: must be positive"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server: tls_cert and tls_key must be set together"))
	}

	return errors.Join(errs...)
}

// LogLevel returns the parsed log level, info when unparseable.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == StoreRedis || c.Stream.RedisRelay
}

// Database converts the postgres section for database.Connect.
func (c *Config) Database() database.Config {
	p := c.Store.Postgres
	return database.Config{
		Host:            p.Host,
		Port:            p.Port,
		User:            p.User,
		Password:        p.Password,
		Database:        p.Database,
		SSLMode:         p.SSLMode,
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
	}
}
