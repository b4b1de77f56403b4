package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trackrec/trackrec/internal/api"
	"github.com/trackrec/trackrec/internal/api/handler"
	"github.com/trackrec/trackrec/internal/api/middleware"
	"github.com/trackrec/trackrec/internal/auth"
	"github.com/trackrec/trackrec/internal/config"
	"github.com/trackrec/trackrec/internal/database"
	"github.com/trackrec/trackrec/internal/location"
	"github.com/trackrec/trackrec/internal/provider/resilience"
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/storage"
	"github.com/trackrec/trackrec/internal/stream"
	"github.com/trackrec/trackrec/internal/telemetry"
	"github.com/trackrec/trackrec/internal/track"
	"github.com/trackrec/trackrec/internal/weather"
	"github.com/trackrec/trackrec/internal/weather/openmeteo"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording API server",
		Long: `Run the HTTP API with the configured location provider, route store and
enrichment. The last saved route is restored at startup unless
recording.auto_reload is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg, os.Stdout))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// closers runs cleanup functions in reverse order of registration.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().Str("build_time", BuildTime).Msg("starting trackrec")

	var cleanup closers
	defer func() { cleanup.run() }()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	cleanup.add(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	})
	if cfg.Telemetry.Enabled {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.Endpoint).Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetricsWithMeter(tp.Meter)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	var checks []handler.Check

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = storage.ConnectRedis(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
		cleanup.add(func() { _ = redisClient.Close() })
		checks = append(checks, handler.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	store, err := openStore(ctx, cfg, redisClient, &cleanup, &checks, log)
	if err != nil {
		return err
	}
	archive := storage.NewArchive(store)

	registry := resilience.NewRegistry()
	var enricher session.Enricher
	if cfg.Weather.Enabled {
		enricher = newWeatherService(cfg, registry, log)
	}

	var relay *redis.Client
	if cfg.Stream.RedisRelay {
		relay = redisClient
	}
	hub := stream.NewHub(stream.HubConfig{Redis: relay, Channel: cfg.Stream.Channel, Logger: log})

	provider, push, err := openProvider(ctx, cfg, &cleanup, log)
	if err != nil {
		return err
	}

	manager, err := session.NewManager(session.Config{
		Provider:        provider,
		Enricher:        enricher,
		Notifier:        hub,
		Logger:          log,
		AccuracyCeiling: cfg.Recording.AccuracyCeilingMeters,
		Admission:       track.AdmissionPolicy{ThresholdKm: cfg.Recording.AdmissionThresholdKm},
		EnrichTimeout:   cfg.Recording.EnrichTimeout,
		Meter:           tp.Meter,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	cleanup.add(manager.Stop)

	if cfg.Recording.AutoReload {
		reloadLastRoute(ctx, archive, manager, log)
	}

	var tokens middleware.TokenValidator
	if cfg.Auth.SigningKey != "" {
		svc, err := auth.NewTokenService(auth.TokenConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			TTL:        cfg.Auth.TokenTTL,
		})
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
		tokens = svc
	} else if push != nil {
		log.Warn().Msg("auth.signing_key not set - fixes endpoint accepts unauthenticated pushes")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		ServiceName: serviceName,
		Logger:      log,
		Metrics:     metrics,
		Manager:     manager,
		Archive:     archive,
		Push:        push,
		Tokens:      tokens,
		Stream:      stream.NewHandler(hub, stream.HandlerConfig{AllowedOrigins: cfg.Stream.AllowedOrigins, Logger: log}),
		Registry:    registry,
		Checks:      checks,
		RequireTLS:  cfg.Server.RequireTLS,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()
	go func() {
		if err := hub.Run(hubCtx); err != nil {
			log.Error().Err(err).Msg("event relay stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Bool("tls", cfg.Server.TLSCert != "").Msg("server listening")

		var err error
		if cfg.Server.TLSCert != "" {
			err = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, cleanup *closers, checks *[]handler.Check, log zerolog.Logger) (storage.BlobStore, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		log.Info().Str("addr", cfg.Store.Redis.Addr).Msg("using redis route store")
		return storage.NewRedisStore(rdb, storage.RedisOptions{
			Prefix: cfg.Store.Redis.Prefix,
			TTL:    cfg.Store.Redis.TTL,
		}), nil

	case config.StorePostgres:
		dbConfig := cfg.Database()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		cleanup.add(pool.Close)
		if err := database.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		*checks = append(*checks, handler.Check{Name: "postgres", Probe: pingPool(pool)})
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
		return storage.NewPostgresStore(pool), nil

	default:
		log.Warn().Msg("using in-memory route store - saved routes are lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func pingPool(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

// openProvider returns the configured location provider. The push
// provider is also returned on its own so the API can feed it.
func openProvider(ctx context.Context, cfg *config.Config, cleanup *closers, log zerolog.Logger) (session.LocationProvider, *location.PushProvider, error) {
	switch cfg.Location.Provider {
	case config.LocationPubSub:
		p, err := location.NewPubSubProvider(ctx, location.PubSubConfig{
			ProjectID:    cfg.Location.PubSub.ProjectID,
			Subscription: cfg.Location.PubSub.Subscription,
			Logger:       log,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { _ = p.Close() })
		log.Info().Str("subscription", cfg.Location.PubSub.Subscription).Msg("using pubsub location provider")
		return p, nil, nil

	case config.LocationKafka:
		p, err := location.NewKafkaProvider(location.KafkaConfig{
			Brokers: cfg.Location.Kafka.Brokers,
			Topic:   cfg.Location.Kafka.Topic,
			GroupID: cfg.Location.Kafka.GroupID,
			Logger:  log,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info().Strs("brokers", cfg.Location.Kafka.Brokers).Str("topic", cfg.Location.Kafka.Topic).Msg("using kafka location provider")
		return p, nil, nil

	default:
		p := location.NewPushProvider(cfg.Location.PushBuffer)
		log.Info().Msg("using push location provider")
		return p, p, nil
	}
}

func newWeatherService(cfg *config.Config, registry *resilience.Registry, log zerolog.Logger) *weather.Service {
	clientCfg := resilience.DefaultClientConfig(openmeteo.ProviderName)
	clientCfg.Timeout = cfg.Weather.Timeout
	clientCfg.MaxRetries = cfg.Weather.MaxRetries
	clientCfg.Registry = registry
	clientCfg.Logger = log

	client := openmeteo.NewClient(openmeteo.ClientConfig{
		BaseURL:    cfg.Weather.BaseURL,
		HTTPClient: resilience.NewClient(clientCfg),
		Logger:     log,
	})
	return weather.NewService(weather.ServiceConfig{
		Provider:        client,
		Logger:          log,
		CacheTTL:        cfg.Weather.CacheTTL,
		StaleIfErrorTTL: cfg.Weather.StaleIfErrorTTL,
	})
}

// reloadLastRoute restores the last saved route. Failures leave the session
// empty and are only logged.
func reloadLastRoute(ctx context.Context, archive *storage.Archive, manager *session.Manager, log zerolog.Logger) {
	route, err := archive.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Debug().Msg("no saved route to reload")
		return
	case err != nil:
		log.Warn().Err(err).Msg("failed to reload last route")
		return
	}

	var duration time.Duration
	if route.Duration != nil {
		duration = *route.Duration
	}
	if err := manager.LoadRoute(route, duration); err != nil {
		log.Warn().Err(err).Msg("failed to restore last route")
	}
}
