package sessionkey

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ashureev/gasless-relay/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Store owns creation-time persistence and retrieval of session keys,
// independent of any UI lifecycle.
type Store interface {
	Save(ctx context.Context, key *domain.SessionKey) error
	// Load returns ErrNoSessionKey when address is unknown.
	Load(ctx context.Context, address common.Address) (*domain.SessionKey, error)
	// Latest returns ErrNoSessionKey when the store is empty.
	Latest(ctx context.Context) (*domain.SessionKey, error)
	Delete(ctx context.Context, address common.Address) error
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// MemoryStore keeps session keys in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[common.Address]domain.SessionKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[common.Address]domain.SessionKey)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, key *domain.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.Address] = *key
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, address common.Address) (*domain.SessionKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[address]
	if !ok {
		return nil, ErrNoSessionKey
	}
	return &key, nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context) (*domain.SessionKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.keys) == 0 {
		return nil, ErrNoSessionKey
	}
	all := make([]domain.SessionKey, 0, len(m.keys))
	for _, k := range m.keys {
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return &all[0], nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, address common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, address)
	return nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var n int64
	for addr, k := range m.keys {
		if k.Expired(ttl, now) {
			delete(m.keys, addr)
			n++
		}
	}
	return n, nil
}

// SealedStore persists session keys in a repository with the private key
// sealed before it is written.
type SealedStore struct {
	repo   store.SessionKeyRepository
	sealer Sealer
}

// NewSealedStore creates a SealedStore.
func NewSealedStore(repo store.SessionKeyRepository, sealer Sealer) *SealedStore {
	return &SealedStore{repo: repo, sealer: sealer}
}

// Save implements Store.
func (s *SealedStore) Save(ctx context.Context, key *domain.SessionKey) error {
	sealed, err := s.sealer.Seal(crypto.FromECDSA(key.PrivateKey))
	if err != nil {
		return fmt.Errorf("seal session key: %w", err)
	}
	return s.repo.SaveSessionKey(ctx, &domain.StoredSessionKey{
		Address:   key.Address.Hex(),
		SealedKey: sealed,
		Nonce:     key.Nonce,
		IsOnChain: key.IsOnChain,
		CreatedAt: key.CreatedAt,
	})
}

// Load implements Store.
func (s *SealedStore) Load(ctx context.Context, address common.Address) (*domain.SessionKey, error) {
	rec, err := s.repo.GetSessionKey(ctx, address.Hex())
	if err != nil {
		return nil, err
	}
	return s.open(rec)
}

// Latest implements Store.
func (s *SealedStore) Latest(ctx context.Context) (*domain.SessionKey, error) {
	rec, err := s.repo.LatestSessionKey(ctx)
	if err != nil {
		return nil, err
	}
	return s.open(rec)
}

// Delete implements Store.
func (s *SealedStore) Delete(ctx context.Context, address common.Address) error {
	return s.repo.DeleteSessionKey(ctx, address.Hex())
}

// DeleteExpired implements Store.
func (s *SealedStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	return s.repo.DeleteSessionKeysBefore(ctx, time.Now().Add(-ttl))
}

func (s *SealedStore) open(rec *domain.StoredSessionKey) (*domain.SessionKey, error) {
	if rec == nil {
		return nil, ErrNoSessionKey
	}
	raw, err := s.sealer.Open(rec.SealedKey)
	if err != nil {
		return nil, fmt.Errorf("open session key %s: %w", rec.Address, err)
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("decode session key %s: %w", rec.Address, err)
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	if addr.Hex() != rec.Address {
		return nil, fmt.Errorf("session key %s: stored address does not match key", rec.Address)
	}
	return &domain.SessionKey{
		Address:    addr,
		PrivateKey: priv,
		Nonce:      rec.Nonce,
		IsOnChain:  rec.IsOnChain,
		CreatedAt:  rec.CreatedAt,
	}, nil
}
