// Package domain contains core domain types for the relay.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ContentRecord is an off-chain content body keyed by its on-chain commitment.
// Hash always equals the keccak-256 digest of Body.
type ContentRecord struct {
	Hash     common.Hash `json:"hash"`
	Body     string      `json:"body"`
	CachedAt time.Time   `json:"cached_at"`
}
