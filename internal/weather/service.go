package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/track"
)

// Provider fetches weather and elevation data.
type Provider interface {
	// CurrentWeather fetches the current weather for a location.
	CurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error)

	// Elevation returns the terrain elevation in meters.
	Elevation(ctx context.Context, lat, lon float64) (float64, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long an observation is fresh (default 10 minutes).
	CacheTTL time.Duration

	// CacheGridSize groups nearby points into one cached observation, in
	// degrees (default 0.05, about 5 km).
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale observations on provider errors (default 1 hour).
	StaleIfErrorTTL time.Duration

	// ElevationGridSize groups points sharing an elevation, in degrees
	// (default 0.0005, about 50 m).
	ElevationGridSize float64

	// MaxElevationEntries bounds the elevation cache (default 10000).
	MaxElevationEntries int

	Now func() time.Time
}

// Service provides cached weather and elevation lookups and implements the
// session enricher.
type Service struct {
	provider          Provider
	logger            zerolog.Logger
	cacheTTL          time.Duration
	gridSize          float64
	staleIfErrorTTL   time.Duration
	elevationGridSize float64
	maxElevation      int
	now               func() time.Time

	mu          sync.Mutex
	weather     map[string]*cachedObservation
	elevation   map[string]float64
	lastCleanup time.Time
}

type cachedObservation struct {
	observation *Observation
	fetchedAt   time.Time
	expiresAt   time.Time
}

// NewService creates a weather service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		provider:          cfg.Provider,
		logger:            cfg.Logger.With().Str("component", "weather").Logger(),
		cacheTTL:          cfg.CacheTTL,
		gridSize:          cfg.CacheGridSize,
		staleIfErrorTTL:   cfg.StaleIfErrorTTL,
		elevationGridSize: cfg.ElevationGridSize,
		maxElevation:      cfg.MaxElevationEntries,
		now:               cfg.Now,
		weather:           make(map[string]*cachedObservation),
		elevation:         make(map[string]float64),
	}
	if s.cacheTTL == 0 {
		s.cacheTTL = 10 * time.Minute
	}
	if s.gridSize == 0 {
		s.gridSize = 0.05
	}
	if s.staleIfErrorTTL == 0 {
		s.staleIfErrorTTL = time.Hour
	}
	if s.elevationGridSize == 0 {
		s.elevationGridSize = 0.0005
	}
	if s.maxElevation == 0 {
		s.maxElevation = 10000
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CurrentWeather returns the weather at a location, from cache when fresh.
// A stale observation is served when the provider fails within StaleIfErrorTTL.
func (s *Service) CurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	key := gridKey(lat, lon, s.gridSize)
	now := s.now()

	s.mu.Lock()
	cached, ok := s.weather[key]
	s.mu.Unlock()
	if ok && now.Before(cached.expiresAt) {
		return cached.observation, nil
	}

	obs, err := s.provider.CurrentWeather(ctx, lat, lon)
	if err != nil {
		if ok && now.Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().Err(err).Time("fetched_at", cached.fetchedAt).Msg("serving stale weather after provider error")
			return cached.observation, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	s.mu.Lock()
	s.weather[key] = &cachedObservation{
		observation: obs,
		fetchedAt:   now,
		expiresAt:   now.Add(s.cacheTTL),
	}
	s.cleanupLocked(now)
	s.mu.Unlock()

	return obs, nil
}

// Elevation returns the terrain elevation at a location. Elevations never
// expire; the cache is reset once it holds MaxElevationEntries.
func (s *Service) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return 0, err
	}

	key := gridKey(lat, lon, s.elevationGridSize)

	s.mu.Lock()
	elev, ok := s.elevation[key]
	s.mu.Unlock()
	if ok {
		return elev, nil
	}

	elev, err := s.provider.Elevation(ctx, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	s.mu.Lock()
	if len(s.elevation) >= s.maxElevation {
		s.elevation = make(map[string]float64)
	}
	s.elevation[key] = elev
	s.mu.Unlock()

	return elev, nil
}

// Enrich looks up weather and elevation concurrently. It fails only when
// both lookups fail; a partial result carries whatever was found.
func (s *Service) Enrich(ctx context.Context, lat, lon float64) (*track.Enrichment, error) {
	var (
		wg      sync.WaitGroup
		obs     *Observation
		elev    float64
		obsErr  error
		elevErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		obs, obsErr = s.CurrentWeather(ctx, lat, lon)
	}()
	go func() {
		defer wg.Done()
		elev, elevErr = s.Elevation(ctx, lat, lon)
	}()
	wg.Wait()

	if obsErr != nil && elevErr != nil {
		return nil, errors.Join(obsErr, elevErr)
	}

	e := &track.Enrichment{Status: track.EnrichmentAvailable}
	if obsErr == nil {
		payload, err := json.Marshal(NewPayload(obs, s.provider.Name()))
		if err != nil {
			return nil, fmt.Errorf("encoding weather payload: %w", err)
		}
		e.Payload = payload
	} else {
		s.logger.Debug().Err(obsErr).Msg("weather missing from enrichment")
	}
	if elevErr == nil {
		e.Elevation = &elev
	} else {
		s.logger.Debug().Err(elevErr).Msg("elevation missing from enrichment")
	}
	return e, nil
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather = make(map[string]*cachedObservation)
	s.elevation = make(map[string]float64)
}

// cleanupLocked drops observations past their stale window, at most every 5 minutes.
func (s *Service) cleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < 5*time.Minute {
		return
	}
	s.lastCleanup = now

	expired := 0
	for key, c := range s.weather {
		if now.After(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.weather, key)
			expired++
		}
	}
	if expired > 0 {
		s.logger.Debug().Int("expired_entries", expired).Msg("cleaned up weather cache")
	}
}

// gridKey snaps a location to the cell of the given size.
func gridKey(lat, lon, size float64) string {
	return fmt.Sprintf("%d:%d", int64(math.Floor(lat/size)), int64(math.Floor(lon/size)))
}
