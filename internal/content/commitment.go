// Package content computes content commitments and keeps bodies resolvable by
// hash, independently of chain confirmation.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ashureev/gasless-relay/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultCacheBytes is the memory tier size used when none is configured.
const DefaultCacheBytes = 32 * 1024 * 1024

var (
	// ErrNotFound is returned when no tier holds the body for a hash.
	ErrNotFound = errors.New("content not found")

	// ErrHashMismatch is returned when a fetched body does not hash to the requested key.
	ErrHashMismatch = errors.New("content does not match hash")
)

// Fallback is an external off-chain store consulted on a local miss.
// It returns ErrNotFound when it does not hold the hash either.
type Fallback interface {
	Fetch(ctx context.Context, hash common.Hash) (string, error)
}

// Digest returns the keccak-256 commitment of body.
func Digest(body string) common.Hash {
	return crypto.Keccak256Hash([]byte(body))
}

// Commitment stores content bodies under their commitment hash.
type Commitment struct {
	repo     store.ContentRepository
	mem      *fastcache.Cache
	fallback Fallback
	logger   *slog.Logger
}

// Option configures a Commitment.
type Option func(*Commitment)

// WithFallback sets the external store consulted on a local miss.
func WithFallback(f Fallback) Option {
	return func(c *Commitment) { c.fallback = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Commitment) { c.logger = l }
}

// NewCommitment creates a Commitment over repo with a memory tier of
// cacheBytes (DefaultCacheBytes when <= 0).
func NewCommitment(repo store.ContentRepository, cacheBytes int, opts ...Option) *Commitment {
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}
	c := &Commitment{
		repo:   repo,
		mem:    fastcache.New(cacheBytes),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit stores body durably under its digest and returns the digest.
// It must complete before the digest is signed, so the body stays resolvable
// even if the relay later fails. Committing the same body twice is a no-op.
func (c *Commitment) Commit(ctx context.Context, body string) (common.Hash, error) {
	hash := Digest(body)

	inserted, err := c.repo.PutContent(ctx, &domain.ContentRecord{
		Hash:     hash,
		Body:     body,
		CachedAt: time.Now(),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit content %s: %w", hash.Hex(), err)
	}
	c.mem.Set(hash.Bytes(), []byte(body))

	if inserted {
		c.logger.Debug("Content committed", "hash", hash.Hex(), "size", len(body))
	}
	return hash, nil
}

// Resolve returns the body committed under hash.
func (c *Commitment) Resolve(ctx context.Context, hash common.Hash) (string, error) {
	if body, ok := c.mem.HasGet(nil, hash.Bytes()); ok {
		return string(body), nil
	}

	rec, err := c.repo.GetContent(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("resolve content %s: %w", hash.Hex(), err)
	}
	if rec != nil {
		c.mem.Set(hash.Bytes(), []byte(rec.Body))
		return rec.Body, nil
	}

	if c.fallback == nil {
		return "", ErrNotFound
	}
	return c.resolveFallback(ctx, hash)
}

func (c *Commitment) resolveFallback(ctx context.Context, hash common.Hash) (string, error) {
	body, err := c.fallback.Fetch(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("fetch content %s from fallback: %w", hash.Hex(), err)
	}
	if Digest(body) != hash {
		c.logger.Warn("Fallback store returned mismatched content", "hash", hash.Hex())
		return "", ErrHashMismatch
	}

	if _, err := c.repo.PutContent(ctx, &domain.ContentRecord{Hash: hash, Body: body, CachedAt: time.Now()}); err != nil {
		c.logger.Warn("Failed to cache fallback content", "hash", hash.Hex(), "error", err)
	}
	c.mem.Set(hash.Bytes(), []byte(body))
	return body, nil
}

// Reset drops the memory tier. Durable records are kept.
func (c *Commitment) Reset() {
	c.mem.Reset()
}
