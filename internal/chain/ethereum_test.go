package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ashureev/gasless-relay/internal/delegation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestPackArgs_Comment(t *testing.T) {
	key, _ := crypto.GenerateKey()
	pub := hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))
	sig := hexutil.Encode(make([]byte, 65))

	method, args, err := packArgs(Call{
		Method:      MethodComment,
		SubjectID:   "1",
		ContentHash: testHash,
		ParentID:    "0",
		UserAddress: "0x00000000000000000000000000000000000000aa",
		SessionKey:  pub,
		Signature:   sig,
		Nonce:       9,
	})
	if err != nil {
		t.Fatalf("packArgs: %v", err)
	}
	if method != methodAddComment {
		t.Errorf("Expected %s, got %s", methodAddComment, method)
	}
	if parent := args[2].(*big.Int); parent.Sign() != 0 {
		t.Errorf("Expected parent 0, got %s", parent)
	}
	if got := args[4].(common.Address); got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("Expected session key converted to address, got %s", got.Hex())
	}
	if nonce := args[5].(*big.Int); nonce.Uint64() != 9 {
		t.Errorf("Expected nonce 9, got %s", nonce)
	}

	if _, err := parsedSocialABI.Pack(method, args...); err != nil {
		t.Errorf("ABI pack failed: %v", err)
	}
}

func TestPackArgs_Publish(t *testing.T) {
	method, args, err := packArgs(Call{Method: MethodPublish, SubjectID: "5", ContentHash: testHash})
	if err != nil {
		t.Fatalf("packArgs: %v", err)
	}
	if method != methodPublishPost {
		t.Errorf("Expected %s, got %s", methodPublishPost, method)
	}
	if _, err := parsedSocialABI.Pack(method, args...); err != nil {
		t.Errorf("ABI pack failed: %v", err)
	}
}

func TestPackArgs_Invalid(t *testing.T) {
	valid := Call{
		Method:      MethodComment,
		SubjectID:   "1",
		ContentHash: testHash,
		ParentID:    "0",
		UserAddress: "0x00000000000000000000000000000000000000aa",
		SessionKey:  "0x00000000000000000000000000000000000000bb",
		Signature:   "0x01",
	}

	tests := []struct {
		name   string
		mutate func(*Call)
		want   error
	}{
		{"content hash", func(c *Call) { c.ContentHash = "0xabcdef" }, delegation.ErrInvalidHash},
		{"subject", func(c *Call) { c.SubjectID = "one" }, delegation.ErrInvalidUint},
		{"user", func(c *Call) { c.UserAddress = "0xuser123" }, delegation.ErrInvalidAddress},
		{"session key", func(c *Call) { c.SessionKey = "0xpubkey" }, delegation.ErrInvalidKey},
		{"signature", func(c *Call) { c.Signature = "0xsig123" }, delegation.ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if _, _, err := packArgs(c); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, _, err := packArgs(Call{Method: "bogus", SubjectID: "1", ContentHash: testHash}); err == nil {
		t.Error("Expected unknown method to fail")
	}
}

func TestIsTransportHealthy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{errors.New("execution reverted: bad nonce"), true},
		{errors.New("nonce too low"), true},
		{errors.New("dial tcp: connection refused"), false},
		{errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		if got := isTransportHealthy(tt.err); got != tt.want {
			t.Errorf("isTransportHealthy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
