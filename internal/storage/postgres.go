package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trackrec/trackrec/internal/database"
)

// PostgresStore keeps blobs in the route_blobs table.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a store over a pool or any Querier.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the blob stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT data FROM route_blobs WHERE key = $1`

	var data []byte
	if err := s.db.QueryRow(ctx, query, key).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select blob %s: %w", key, err)
	}
	return data, nil
}

// Set upserts data under key.
func (s *PostgresStore) Set(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO route_blobs (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`

	if _, err := s.db.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("upsert blob %s: %w", key, err)
	}
	return nil
}
