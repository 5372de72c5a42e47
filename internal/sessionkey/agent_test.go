package sessionkey

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/gasless-relay/internal/delegation"
	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ashureev/gasless-relay/internal/store"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	testUser = "0x00000000000000000000000000000000000000aa"
	testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

type fakeNonces struct {
	mu    sync.Mutex
	nonce uint64
	err   error
	calls int
}

func (f *fakeNonces) CurrentNonce(_ context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonce, f.err
}

func (f *fakeNonces) set(n uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce, f.err = n, err
}

func testAction() Action {
	return Action{SubjectID: "1", ContentHash: testHash, UserAddress: testUser}
}

func TestAgent_SignProducesVerifiableRequest(t *testing.T) {
	nonces := &fakeNonces{nonce: 4}
	agent := NewAgent(NewMemoryStore(), nonces, nil)
	ctx := context.Background()

	key, err := agent.CreateKey(ctx)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if key.IsOnChain {
		t.Error("Expected new key to be off-chain until registered")
	}

	if _, err := agent.NextNonce(ctx); err != nil {
		t.Fatalf("NextNonce: %v", err)
	}
	req, err := agent.Sign(ctx, testAction())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if req.Nonce != 4 {
		t.Errorf("Expected nonce 4, got %d", req.Nonce)
	}
	if req.ParentID != domain.NoParent {
		t.Errorf("Expected parent sentinel, got %q", req.ParentID)
	}
	if req.SessionPublicKey != key.Address.Hex() {
		t.Errorf("Expected session key %s, got %s", key.Address.Hex(), req.SessionPublicKey)
	}

	ok, err := delegation.ECDSAVerifier{}.Verify(req)
	if err != nil || !ok {
		t.Fatalf("Expected request to verify, ok=%v err=%v", ok, err)
	}
}

func TestAgent_SignAdvancesNonce(t *testing.T) {
	agent := NewAgent(NewMemoryStore(), &fakeNonces{}, nil)
	ctx := context.Background()
	if _, err := agent.CreateKey(ctx); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	for want := uint64(0); want < 3; want++ {
		req, err := agent.Sign(ctx, testAction())
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if req.Nonce != want {
			t.Errorf("Expected nonce %d, got %d", want, req.Nonce)
		}
	}

	cur, _ := agent.Current()
	if cur.Nonce != 3 {
		t.Errorf("Expected local nonce 3, got %d", cur.Nonce)
	}
}

func TestAgent_FailedRelayReusesNonce(t *testing.T) {
	nonces := &fakeNonces{nonce: 7}
	agent := NewAgent(NewMemoryStore(), nonces, nil)
	ctx := context.Background()
	if _, err := agent.CreateKey(ctx); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	_, _ = agent.NextNonce(ctx)
	first, _ := agent.Sign(ctx, testAction())

	// The relay failed and nothing landed: chain still expects 7.
	n, err := agent.NextNonce(ctx)
	if err != nil {
		t.Fatalf("NextNonce: %v", err)
	}
	if n != first.Nonce {
		t.Errorf("Expected nonce %d to be reused, got %d", first.Nonce, n)
	}

	// The retry landed: chain moved to 8.
	second, _ := agent.Sign(ctx, testAction())
	nonces.set(8, nil)
	n, _ = agent.NextNonce(ctx)
	if n != second.Nonce+1 {
		t.Errorf("Expected nonce %d after landing, got %d", second.Nonce+1, n)
	}
}

func TestAgent_NonceQueryFailureKeepsLocalNonce(t *testing.T) {
	nonces := &fakeNonces{nonce: 2}
	agent := NewAgent(NewMemoryStore(), nonces, nil)
	ctx := context.Background()
	if _, err := agent.CreateKey(ctx); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	_, _ = agent.NextNonce(ctx)

	nonces.set(99, errors.New("rpc unavailable"))
	_, err := agent.NextNonce(ctx)

	var infra *InfraError
	if !errors.As(err, &infra) {
		t.Fatalf("Expected *InfraError, got %v", err)
	}
	if !infra.Retryable() {
		t.Error("Expected nonce failure to be retryable")
	}
	cur, _ := agent.Current()
	if cur.Nonce != 2 {
		t.Errorf("Expected local nonce to stay 2, got %d", cur.Nonce)
	}
}

func TestAgent_NoKey(t *testing.T) {
	agent := NewAgent(NewMemoryStore(), &fakeNonces{}, nil)
	ctx := context.Background()

	if _, err := agent.NextNonce(ctx); !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("Expected ErrNoSessionKey, got %v", err)
	}
	if _, err := agent.Sign(ctx, testAction()); !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("Expected ErrNoSessionKey, got %v", err)
	}
	if _, err := agent.UseLatest(ctx); !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("Expected ErrNoSessionKey, got %v", err)
	}
}

func TestAgent_MarkOnChain(t *testing.T) {
	st := NewMemoryStore()
	agent := NewAgent(st, &fakeNonces{}, nil)
	ctx := context.Background()
	key, _ := agent.CreateKey(ctx)

	if err := agent.MarkOnChain(ctx); err != nil {
		t.Fatalf("MarkOnChain: %v", err)
	}
	stored, err := st.Load(ctx, key.Address)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !stored.IsOnChain {
		t.Error("Expected stored key to be marked on-chain")
	}
}

func TestSealedStore_RoundTrip(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = repo.Close() }()

	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "identity.txt"))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	sealed := NewSealedStore(repo, NewAgeSealer(id))
	ctx := context.Background()

	agent := NewAgent(sealed, &fakeNonces{nonce: 1}, nil)
	key, err := agent.CreateKey(ctx)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := agent.NextNonce(ctx); err != nil {
		t.Fatalf("NextNonce: %v", err)
	}
	if _, err := agent.Sign(ctx, testAction()); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	raw, err := repo.GetSessionKey(ctx, key.Address.Hex())
	if err != nil || raw == nil {
		t.Fatalf("GetSessionKey: %v", err)
	}
	if string(raw.SealedKey) == string(crypto.FromECDSA(key.PrivateKey)) {
		t.Fatal("Expected private key to be sealed at rest")
	}

	restored := NewAgent(sealed, &fakeNonces{}, nil)
	got, err := restored.UseLatest(ctx)
	if err != nil {
		t.Fatalf("UseLatest: %v", err)
	}
	if got.Address != key.Address {
		t.Errorf("Expected %s, got %s", key.Address.Hex(), got.Address.Hex())
	}
	if got.Nonce != 2 {
		t.Errorf("Expected persisted nonce 2, got %d", got.Nonce)
	}
}

func TestLoadOrCreateIdentity_Reuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id", "identity.txt")

	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if first.String() != second.String() {
		t.Error("Expected the stored identity to be reused")
	}
}
