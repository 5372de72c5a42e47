package domain

import (
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SessionKey is a short-lived delegated signing key owned by one client.
// PrivateKey must never be sent over the network.
type SessionKey struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
	Nonce      uint64
	IsOnChain  bool
	CreatedAt  time.Time
}

// PublicKey returns the uncompressed secp256k1 public key bytes.
func (k *SessionKey) PublicKey() []byte {
	return crypto.FromECDSAPub(&k.PrivateKey.PublicKey)
}

// Expired reports whether the key is older than ttl.
func (k *SessionKey) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(k.CreatedAt) > ttl
}

// StoredSessionKey is the at-rest form of a SessionKey. SealedKey holds the
// private key encrypted for the local owner.
type StoredSessionKey struct {
	Address   string
	SealedKey []byte
	Nonce     uint64
	IsOnChain bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
