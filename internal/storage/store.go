// Package storage persists named blobs of bytes and the last recorded route.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob is stored under the key.
var ErrNotFound = errors.New("blob not found")

// BlobStore reads and writes named blobs.
type BlobStore interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data under key, replacing any previous blob.
	Set(ctx context.Context, key string, data []byte) error
}
