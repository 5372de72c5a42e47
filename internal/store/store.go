// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// ContentRepository persists content bodies keyed by their commitment hash.
type ContentRepository interface {
	// PutContent stores a record if its hash is not yet known.
	// It reports whether a new row was written; re-storing is a no-op.
	PutContent(ctx context.Context, rec *domain.ContentRecord) (bool, error)

	// GetContent returns the record for hash, or nil if none is stored.
	GetContent(ctx context.Context, hash common.Hash) (*domain.ContentRecord, error)
}

// SessionKeyRepository persists sealed session keys on the client.
type SessionKeyRepository interface {
	// SaveSessionKey creates or updates a session key record.
	SaveSessionKey(ctx context.Context, key *domain.StoredSessionKey) error

	// GetSessionKey returns the key for address, or nil if none is stored.
	GetSessionKey(ctx context.Context, address string) (*domain.StoredSessionKey, error)

	// LatestSessionKey returns the most recently created key, or nil.
	LatestSessionKey(ctx context.Context) (*domain.StoredSessionKey, error)

	// DeleteSessionKey removes the key for address.
	DeleteSessionKey(ctx context.Context, address string) error

	// DeleteSessionKeysBefore removes keys created before cutoff.
	DeleteSessionKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository is the full persistence surface backed by one database.
type Repository interface {
	ContentRepository
	SessionKeyRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
