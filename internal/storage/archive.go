package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/trackrec/trackrec/internal/routefile"
	"github.com/trackrec/trackrec/internal/track"
)

// LastRouteKey is the well-known key of the auto-reloaded route.
const LastRouteKey = "lastRoute"

// Archive saves and reloads routes through a BlobStore.
type Archive struct {
	store BlobStore
	key   string
	now   func() time.Time
}

// NewArchive creates an archive writing under LastRouteKey.
func NewArchive(store BlobStore) *Archive {
	return &Archive{store: store, key: LastRouteKey, now: time.Now}
}

// Save stores a copy of the route with the given elapsed duration. Routes
// without a name get a timestamped default. Routes without points are
// refused with routefile.ErrEmptyRoute.
func (a *Archive) Save(ctx context.Context, r *track.Route, elapsed time.Duration) (*track.Route, error) {
	if r == nil || r.PointCount() == 0 {
		return nil, routefile.ErrEmptyRoute
	}

	saved := r.Clone()
	if saved.Name == "" {
		saved.Name = routefile.DefaultName(a.now())
	}
	saved.Duration = &elapsed
	dist := track.RouteDistance(saved)
	saved.Distance = &dist

	data, err := routefile.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("encoding route: %w", err)
	}
	if err := a.store.Set(ctx, a.key, data); err != nil {
		return nil, fmt.Errorf("saving route: %w", err)
	}
	return saved, nil
}

// Load returns the last saved route. It fails with ErrNotFound when nothing
// was saved and with routefile.ErrMalformedRoute when the blob is corrupt.
func (a *Archive) Load(ctx context.Context) (*track.Route, error) {
	data, err := a.store.Get(ctx, a.key)
	if err != nil {
		return nil, err
	}
	return routefile.Unmarshal(data)
}
