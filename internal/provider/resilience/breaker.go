// Package resilience wraps outbound calls to enrichment providers with a
// circuit breaker, per-call timeouts and exponential backoff retries.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open (default 1).
	MaxRequests uint32

	// Interval clears the counts periodically while closed; zero never clears.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before probing (default 30s).
	OpenTimeout time.Duration

	// ReadyToTrip decides when to open; TripOnFailureRatio when nil.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultBreakerConfig suits enrichment lookups made once per recorded
// point: a short open period so a recovered provider is probed again soon.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		OpenTimeout: 30 * time.Second,
		ReadyToTrip: TripOnFailureRatio(5, 0.5),
	}
}

// TripOnFailureRatio opens the breaker once at least minRequests were made
// and the failure ratio reached ratio.
func TripOnFailureRatio(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(c gobreaker.Counts) bool {
		if c.Requests < minRequests || c.Requests == 0 {
			return false
		}
		return float64(c.TotalFailures)/float64(c.Requests) >= ratio
	}
}

func newBreaker[T any](name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = TripOnFailureRatio(5, 0.5)
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: cfg.ReadyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := logger.Info()
			if to == gobreaker.StateOpen {
				ev = logger.Warn()
			}
			ev.Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}
