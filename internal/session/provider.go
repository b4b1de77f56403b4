package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/trackrec/trackrec/internal/track"
)

// Session errors.
var (
	// ErrProviderUnavailable means no location provider can be used; recording cannot start.
	ErrProviderUnavailable = errors.New("location provider unavailable")

	// ErrProviderFailed is matched by every ProviderError.
	ErrProviderFailed = errors.New("location provider failed")

	ErrAlreadyRecording = errors.New("session is already recording")
	ErrNotRecording     = errors.New("session is not recording")
	ErrUnknownPoint     = errors.New("no recorded point at reference")

	// ErrEnrichmentUnavailable means no enricher is configured or the lookup failed.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")
)

// ProviderError reports a subscription that failed mid-session.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("location provider failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProviderFailed) hold for any ProviderError.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailed
}

// LocationProvider pushes fixes to a subscriber until the subscription is
// cancelled or fails. onFix is never called concurrently with itself for a
// single subscription. After onError the provider delivers nothing more.
type LocationProvider interface {
	Subscribe(ctx context.Context, onFix func(context.Context, track.Fix), onError func(error)) (Subscription, error)
}

// Subscription is a live fix feed.
type Subscription interface {
	// Cancel stops delivery. It must not block on an in-flight onFix call.
	Cancel()
}

// Enricher looks up contextual data for a location.
type Enricher interface {
	Enrich(ctx context.Context, lat, lon float64) (*track.Enrichment, error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, lat, lon float64) (*track.Enrichment, error)

// Enrich calls f.
func (f EnricherFunc) Enrich(ctx context.Context, lat, lon float64) (*track.Enrichment, error) {
	return f(ctx, lat, lon)
}
