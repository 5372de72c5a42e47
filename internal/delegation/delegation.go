// Package delegation implements the session-key authorization protocol shared
// by the signing client and the relay: the ordered-field digest, signing and
// signature verification.
package delegation

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrInvalidUint      = errors.New("invalid uint256 value")
	ErrInvalidHash      = errors.New("content hash must be 32 bytes")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidSignature = errors.New("invalid signature encoding")
	ErrInvalidKey       = errors.New("invalid session key")
)

// Fields are the signed values in protocol order. Changing the order, or the
// encoding of any field, yields signatures the other side cannot verify.
type Fields struct {
	SubjectID   string
	ContentHash string
	ParentID    string
	UserAddress string
	Nonce       uint64
}

// FieldsFromRequest extracts the signed fields of a relay request.
func FieldsFromRequest(req *domain.RelayRequest) Fields {
	return Fields{
		SubjectID:   req.SubjectID,
		ContentHash: req.ContentHash,
		ParentID:    req.Parent(),
		UserAddress: req.UserAddress,
		Nonce:       req.Nonce,
	}
}

// Digest returns keccak256(abi.encodePacked(uint256 subjectId, bytes32
// contentHash, uint256 parentId, address user, uint256 nonce)).
func Digest(f Fields) (common.Hash, error) {
	subject, err := ParseUint256(f.SubjectID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("subject id: %w", err)
	}
	parentID := f.ParentID
	if parentID == "" {
		parentID = domain.NoParent
	}
	parent, err := ParseUint256(parentID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("parent id: %w", err)
	}
	contentHash, err := ParseHash(f.ContentHash)
	if err != nil {
		return common.Hash{}, err
	}
	if !common.IsHexAddress(f.UserAddress) {
		return common.Hash{}, fmt.Errorf("user address %q: %w", f.UserAddress, ErrInvalidAddress)
	}
	user := common.HexToAddress(f.UserAddress)
	nonce := new(big.Int).SetUint64(f.Nonce)

	packed := make([]byte, 0, 32+32+32+common.AddressLength+32)
	packed = append(packed, math.U256Bytes(subject)...)
	packed = append(packed, contentHash.Bytes()...)
	packed = append(packed, math.U256Bytes(parent)...)
	packed = append(packed, user.Bytes()...)
	packed = append(packed, math.U256Bytes(nonce)...)

	return crypto.Keccak256Hash(packed), nil
}

// Sign signs the EIP-191 personal-message hash of the fields' digest.
// The returned signature uses V in {27, 28}.
func Sign(f Fields, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Digest(f)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Verify reports whether signature over f was produced by sessionKey.
// sessionKey may be a 20-byte address or a 65-byte uncompressed public key.
// A malformed input is reported as an error rather than as a false result.
func Verify(f Fields, sessionKey string, signature string) (bool, error) {
	expected, err := SessionAddress(sessionKey)
	if err != nil {
		return false, err
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != SignatureLength {
		return false, ErrInvalidSignature
	}
	// Copy before normalising V so the caller's bytes are left alone.
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest, err := Digest(f)
	if err != nil {
		return false, err
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest.Bytes()), sig)
	if err != nil {
		return false, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub) == expected, nil
}

// Verifier checks a relay request's signature against its session key.
type Verifier interface {
	Verify(req *domain.RelayRequest) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(req *domain.RelayRequest) (bool, error)

// Verify calls f.
func (f VerifierFunc) Verify(req *domain.RelayRequest) (bool, error) { return f(req) }

// ECDSAVerifier verifies secp256k1 signatures produced by Sign.
type ECDSAVerifier struct{}

// Verify implements Verifier.
func (ECDSAVerifier) Verify(req *domain.RelayRequest) (bool, error) {
	return Verify(FieldsFromRequest(req), req.SessionPublicKey, req.Signature)
}

// SessionAddress resolves a session key given as an address or as an
// uncompressed public key to its address.
func SessionAddress(key string) (common.Address, error) {
	if common.IsHexAddress(key) {
		return common.HexToAddress(key), nil
	}
	raw, err := hexutil.Decode(key)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseUint256 parses a base-10 or 0x-prefixed unsigned integer.
func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUint, s)
	}
	return n, nil
}

// ParseHash decodes a 0x-prefixed 32-byte hash.
func ParseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return common.BytesToHash(raw), nil
}
