package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ashureev/gasless-relay/internal/shared"
	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS content_records (
		hash TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		cached_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_keys (
		address TEXT PRIMARY KEY,
		sealed_key BLOB NOT NULL,
		nonce INTEGER NOT NULL DEFAULT 0,
		is_on_chain INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_keys_created ON session_keys(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// PutContent stores a content record. Existing hashes are left untouched.
func (s *SQLiteStore) PutContent(ctx context.Context, rec *domain.ContentRecord) (bool, error) {
	query := `
	INSERT INTO content_records (hash, body, cached_at)
	VALUES (?, ?, ?)
	ON CONFLICT(hash) DO NOTHING`

	var inserted bool
	err := shared.RetryOnConflict(ctx, "put content", func() error {
		result, err := s.db.ExecContext(ctx, query, rec.Hash.Hex(), rec.Body, rec.CachedAt.Unix())
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		inserted = rows > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("put content: %w", err)
	}
	return inserted, nil
}

// GetContent retrieves a content record by hash.
func (s *SQLiteStore) GetContent(ctx context.Context, hash common.Hash) (*domain.ContentRecord, error) {
	query := `SELECT hash, body, cached_at FROM content_records WHERE hash = ?`

	var rec domain.ContentRecord
	var hashHex string
	var cachedAt int64

	err := s.db.QueryRowContext(ctx, query, hash.Hex()).Scan(&hashHex, &rec.Body, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan content row: %w", err)
	}

	rec.Hash = common.HexToHash(hashHex)
	rec.CachedAt = time.Unix(cachedAt, 0)
	return &rec, nil
}

// SaveSessionKey creates or updates a session key record.
func (s *SQLiteStore) SaveSessionKey(ctx context.Context, key *domain.StoredSessionKey) error {
	query := `
	INSERT INTO session_keys (address, sealed_key, nonce, is_on_chain, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(address) DO UPDATE SET
		nonce = excluded.nonce,
		is_on_chain = excluded.is_on_chain,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, "save session key", func() error {
		_, err := s.db.ExecContext(ctx, query,
			key.Address, key.SealedKey, int64(key.Nonce), key.IsOnChain,
			key.CreatedAt.Unix(), time.Now().Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save session key: %w", err)
	}
	return nil
}

// GetSessionKey retrieves a session key by address.
func (s *SQLiteStore) GetSessionKey(ctx context.Context, address string) (*domain.StoredSessionKey, error) {
	query := `
		SELECT address, sealed_key, nonce, is_on_chain, created_at, updated_at
		FROM session_keys WHERE address = ?`
	return s.scanSessionKey(s.db.QueryRowContext(ctx, query, address))
}

// LatestSessionKey retrieves the most recently created session key.
func (s *SQLiteStore) LatestSessionKey(ctx context.Context) (*domain.StoredSessionKey, error) {
	query := `
		SELECT address, sealed_key, nonce, is_on_chain, created_at, updated_at
		FROM session_keys ORDER BY created_at DESC, rowid DESC LIMIT 1`
	return s.scanSessionKey(s.db.QueryRowContext(ctx, query))
}

func (s *SQLiteStore) scanSessionKey(row *sql.Row) (*domain.StoredSessionKey, error) {
	var key domain.StoredSessionKey
	var nonce, createdAt, updatedAt int64

	err := row.Scan(&key.Address, &key.SealedKey, &nonce, &key.IsOnChain, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session key: %w", err)
	}

	key.Nonce = uint64(nonce)
	key.CreatedAt = time.Unix(createdAt, 0)
	key.UpdatedAt = time.Unix(updatedAt, 0)
	return &key, nil
}

// DeleteSessionKey removes a session key.
func (s *SQLiteStore) DeleteSessionKey(ctx context.Context, address string) error {
	err := shared.RetryOnConflict(ctx, "delete session key", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM session_keys WHERE address = ?`, address)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session key: %w", err)
	}
	return nil
}

// DeleteSessionKeysBefore removes session keys created before cutoff.
func (s *SQLiteStore) DeleteSessionKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM session_keys WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired session keys: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		slog.Info("Expired session keys removed", "count", rows)
	}
	return rows, nil
}
