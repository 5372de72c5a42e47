package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ethereum/go-ethereum/crypto"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContentWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := crypto.Keccak256Hash([]byte("hello"))

	inserted, err := s.PutContent(ctx, &domain.ContentRecord{Hash: hash, Body: "hello", CachedAt: time.Now()})
	if err != nil {
		t.Fatalf("PutContent: %v", err)
	}
	if !inserted {
		t.Error("Expected first put to insert")
	}

	inserted, err = s.PutContent(ctx, &domain.ContentRecord{Hash: hash, Body: "other", CachedAt: time.Now()})
	if err != nil {
		t.Fatalf("PutContent: %v", err)
	}
	if inserted {
		t.Error("Expected second put to be a no-op")
	}

	rec, err := s.GetContent(ctx, hash)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if rec == nil || rec.Body != "hello" {
		t.Fatalf("Expected original body, got %+v", rec)
	}
	if rec.Hash != hash {
		t.Errorf("Expected hash %s, got %s", hash.Hex(), rec.Hash.Hex())
	}
}

func TestGetContentMissing(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetContent(context.Background(), crypto.Keccak256Hash([]byte("absent")))
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record, got %+v", rec)
	}
}

func TestSessionKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := &domain.StoredSessionKey{Address: "0xold", SealedKey: []byte("a"), CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &domain.StoredSessionKey{Address: "0xnew", SealedKey: []byte("b"), Nonce: 2, CreatedAt: now}
	for _, k := range []*domain.StoredSessionKey{old, fresh} {
		if err := s.SaveSessionKey(ctx, k); err != nil {
			t.Fatalf("SaveSessionKey: %v", err)
		}
	}

	fresh.Nonce = 3
	fresh.IsOnChain = true
	if err := s.SaveSessionKey(ctx, fresh); err != nil {
		t.Fatalf("SaveSessionKey update: %v", err)
	}

	got, err := s.GetSessionKey(ctx, "0xnew")
	if err != nil || got == nil {
		t.Fatalf("GetSessionKey: %v %v", got, err)
	}
	if got.Nonce != 3 || !got.IsOnChain {
		t.Errorf("Expected nonce 3 on-chain, got %d %v", got.Nonce, got.IsOnChain)
	}
	if string(got.SealedKey) != "b" {
		t.Errorf("Expected sealed key to be preserved, got %q", got.SealedKey)
	}

	latest, err := s.LatestSessionKey(ctx)
	if err != nil || latest == nil || latest.Address != "0xnew" {
		t.Fatalf("Expected latest 0xnew, got %+v (%v)", latest, err)
	}

	deleted, err := s.DeleteSessionKeysBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSessionKeysBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 expired key deleted, got %d", deleted)
	}

	if err := s.DeleteSessionKey(ctx, "0xnew"); err != nil {
		t.Fatalf("DeleteSessionKey: %v", err)
	}
	if got, _ := s.GetSessionKey(ctx, "0xnew"); got != nil {
		t.Errorf("Expected key to be deleted, got %+v", got)
	}
}
