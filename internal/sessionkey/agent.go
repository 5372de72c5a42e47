// Package sessionkey implements the client side of delegated authorization:
// an ephemeral session keypair, its nonce, and request signing.
package sessionkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/gasless-relay/internal/delegation"
	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoSessionKey is returned when no session key is loaded or stored.
var ErrNoSessionKey = errors.New("no session key")

// InfraError is a retryable infrastructure failure (key generation, nonce
// query, persistence).
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *InfraError) Unwrap() error { return e.Err }

// Retryable reports whether the operation may be retried as-is.
func (e *InfraError) Retryable() bool { return true }

// NonceSource reads the authorization contract's nonce for a session key.
type NonceSource interface {
	CurrentNonce(ctx context.Context, sessionKey string) (uint64, error)
}

// Action is one user write to be authorized.
type Action struct {
	SubjectID   string
	ContentHash string
	ParentID    string
	UserAddress string
}

// Agent owns one active session key and signs relay requests with it.
// Callers must serialise NextNonce, Sign and submission per action.
type Agent struct {
	store  Store
	nonces NonceSource
	logger *slog.Logger

	mu  sync.Mutex
	key *domain.SessionKey
}

// NewAgent creates an agent with no active key.
func NewAgent(store Store, nonces NonceSource, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: store, nonces: nonces, logger: logger}
}

// CreateKey generates and stores a new session key and makes it active.
// Registering it with the authorization contract is a separate step.
func (a *Agent) CreateKey(ctx context.Context) (*domain.SessionKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, &InfraError{Op: "generate session key", Err: err}
	}
	key := &domain.SessionKey{
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
		CreatedAt:  time.Now(),
	}
	if err := a.store.Save(ctx, key); err != nil {
		return nil, &InfraError{Op: "store session key", Err: err}
	}

	a.mu.Lock()
	a.key = key
	a.mu.Unlock()

	a.logger.Info("Session key created", "session_key", key.Address.Hex())
	return cloneKey(key), nil
}

// Use loads a stored key and makes it active.
func (a *Agent) Use(ctx context.Context, address common.Address) error {
	key, err := a.store.Load(ctx, address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.key = key
	a.mu.Unlock()
	return nil
}

// UseLatest loads the most recently created stored key and makes it active.
func (a *Agent) UseLatest(ctx context.Context) (*domain.SessionKey, error) {
	key, err := a.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.key = key
	a.mu.Unlock()
	return cloneKey(key), nil
}

// Current returns a copy of the active key.
func (a *Agent) Current() (*domain.SessionKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return nil, ErrNoSessionKey
	}
	return cloneKey(a.key), nil
}

// MarkOnChain records that the active key has been registered on-chain.
func (a *Agent) MarkOnChain(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return ErrNoSessionKey
	}
	a.key.IsOnChain = true
	if err := a.store.Save(ctx, a.key); err != nil {
		return &InfraError{Op: "store session key", Err: err}
	}
	return nil
}

// NextNonce queries the authorization contract for the active key's nonce and
// adopts it as the next value to sign with. The chain is authoritative: after
// a relay that never landed the same nonce comes back and is reused. A failed
// query leaves the local counter untouched and is returned as *InfraError.
func (a *Agent) NextNonce(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return 0, ErrNoSessionKey
	}

	n, err := a.nonces.CurrentNonce(ctx, a.key.Address.Hex())
	if err != nil {
		return 0, &InfraError{Op: "query session nonce", Err: err}
	}

	if n != a.key.Nonce {
		a.logger.Debug("Session nonce reconciled with chain",
			"session_key", a.key.Address.Hex(),
			"local", a.key.Nonce,
			"chain", n)
	}
	a.key.Nonce = n
	if err := a.store.Save(ctx, a.key); err != nil {
		return 0, &InfraError{Op: "store session key", Err: err}
	}
	return n, nil
}

// Sign builds and signs a relay request for action with the active key's
// current nonce, then advances the nonce by one. The advance happens whether
// or not the request later lands.
func (a *Agent) Sign(ctx context.Context, action Action) (*domain.RelayRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return nil, ErrNoSessionKey
	}

	parent := action.ParentID
	if parent == "" {
		parent = domain.NoParent
	}
	fields := delegation.Fields{
		SubjectID:   action.SubjectID,
		ContentHash: action.ContentHash,
		ParentID:    parent,
		UserAddress: action.UserAddress,
		Nonce:       a.key.Nonce,
	}
	sig, err := delegation.Sign(fields, a.key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign action: %w", err)
	}

	req := &domain.RelayRequest{
		SubjectID:        action.SubjectID,
		ContentHash:      action.ContentHash,
		ParentID:         parent,
		SessionPublicKey: a.key.Address.Hex(),
		UserAddress:      action.UserAddress,
		Signature:        hexutil.Encode(sig),
		Nonce:            fields.Nonce,
	}

	a.key.Nonce++
	if err := a.store.Save(ctx, a.key); err != nil {
		return nil, &InfraError{Op: "store session key", Err: err}
	}
	return req, nil
}

func cloneKey(k *domain.SessionKey) *domain.SessionKey {
	c := *k
	return &c
}
