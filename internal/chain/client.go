// Package chain abstracts the ledger behind the narrow interface the relay
// needs: submit a delegated call, wait for its confirmation, and read the
// authorization contract's nonce for a session key.
package chain

import (
	"context"
	"errors"
)

// Method selects the contract entry point a Call targets.
type Method string

const (
	// MethodComment executes a session-key authorized comment or reply.
	MethodComment Method = "comment"
	// MethodPublish publishes a subject through the relayer's own authority.
	MethodPublish Method = "publish"
)

var (
	// ErrReverted is returned by Confirm when the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")

	// ErrReadOnly is returned by Submit on a client without a relayer key.
	ErrReadOnly = errors.New("chain client has no relayer key")
)

// Call is one contract call executed by the relayer.
type Call struct {
	Method      Method
	SubjectID   string
	ContentHash string
	ParentID    string
	UserAddress string
	SessionKey  string
	Signature   string
	Nonce       uint64
}

// Tx is a handle to a submitted transaction.
type Tx struct {
	Hash string
	// Raw is the implementation's own transaction value, if any.
	Raw any
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Client is the ledger surface used by the relay and the session-key agent.
type Client interface {
	// Submit sends call as a relayer-signed transaction and returns once the
	// node has accepted it.
	Submit(ctx context.Context, call Call) (*Tx, error)

	// Confirm blocks until tx is mined or ctx is done.
	Confirm(ctx context.Context, tx *Tx) (*Receipt, error)

	// CurrentNonce returns the authorization contract's next expected nonce
	// for sessionKey.
	CurrentNonce(ctx context.Context, sessionKey string) (uint64, error)
}
