package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/gasless-relay/internal/delegation"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
)

const socialABI = `[
	{"type":"function","name":"addCommentWithSessionKey","stateMutability":"nonpayable","inputs":[
		{"name":"postId","type":"uint256"},
		{"name":"contentHash","type":"bytes32"},
		{"name":"parentCommentId","type":"uint256"},
		{"name":"user","type":"address"},
		{"name":"sessionKey","type":"address"},
		{"name":"nonce","type":"uint256"},
		{"name":"signature","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"publishPost","stateMutability":"nonpayable","inputs":[
		{"name":"postId","type":"uint256"},
		{"name":"contentHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"sessionNonces","stateMutability":"view","inputs":[
		{"name":"sessionKey","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodAddComment   = "addCommentWithSessionKey"
	methodPublishPost  = "publishPost"
	methodSessionNonce = "sessionNonces"
)

var parsedSocialABI = mustParseABI(socialABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse social contract ABI: %v", err))
	}
	return parsed
}

// EthereumConfig configures an EVM-backed client.
type EthereumConfig struct {
	RPCURL string
	// ChainID is queried from the node when nil.
	ChainID *big.Int
	// RelayerKey signs submitted transactions. Nil makes the client read-only.
	RelayerKey *ecdsa.PrivateKey
	// SocialContract receives delegated calls.
	SocialContract common.Address
	// SessionKeyManager answers nonce queries. Defaults to SocialContract.
	SessionKeyManager common.Address
	DialTimeout       time.Duration
}

// Ethereum implements Client over a JSON-RPC endpoint.
type Ethereum struct {
	rpc      *ethclient.Client
	social   *bind.BoundContract
	manager  *bind.BoundContract
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	relayer  common.Address
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	submitMu sync.Mutex // the relayer account's pending nonce has one owner
}

var _ Client = (*Ethereum)(nil)

// DialEthereum connects to cfg.RPCURL and binds the configured contracts.
func DialEthereum(ctx context.Context, cfg EthereumConfig, logger *slog.Logger) (*Ethereum, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	rpc, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}

	chainID := cfg.ChainID
	if chainID == nil {
		chainID, err = rpc.ChainID(dialCtx)
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	managerAddr := cfg.SessionKeyManager
	if managerAddr == (common.Address{}) {
		managerAddr = cfg.SocialContract
	}

	e := &Ethereum{
		rpc:     rpc,
		social:  bind.NewBoundContract(cfg.SocialContract, parsedSocialABI, rpc, rpc, rpc),
		manager: bind.NewBoundContract(managerAddr, parsedSocialABI, rpc, rpc, rpc),
		chainID: chainID,
		key:     cfg.RelayerKey,
		breaker: newBreaker(logger),
		logger:  logger,
	}
	if cfg.RelayerKey != nil {
		e.relayer = crypto.PubkeyToAddress(cfg.RelayerKey.PublicKey)
	}

	logger.Info("Connected to chain", "chain_id", chainID, "relayer", e.relayer.Hex(), "social_contract", cfg.SocialContract.Hex())
	return e, nil
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chain-rpc",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isTransportHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// isTransportHealthy treats contract-level failures as a healthy endpoint so
// only transport errors open the breaker.
func isTransportHealthy(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "insufficient funds")
}

// RelayerAddress returns the address that signs submitted transactions.
func (e *Ethereum) RelayerAddress() common.Address {
	return e.relayer
}

// Submit sends call as a relayer-signed transaction.
func (e *Ethereum) Submit(ctx context.Context, call Call) (*Tx, error) {
	if e.key == nil {
		return nil, ErrReadOnly
	}

	method, args, err := packArgs(call)
	if err != nil {
		return nil, err
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	res, err := e.breaker.Execute(func() (interface{}, error) {
		return e.social.Transact(opts, method, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	tx := res.(*types.Transaction)

	e.logger.Info("Transaction submitted", "method", method, "tx_hash", tx.Hash().Hex(), "nonce", tx.Nonce())
	return &Tx{Hash: tx.Hash().Hex(), Raw: tx}, nil
}

// Confirm waits for tx to be mined and checks its status.
func (e *Ethereum) Confirm(ctx context.Context, tx *Tx) (*Receipt, error) {
	raw, ok := tx.Raw.(*types.Transaction)
	if !ok || raw == nil {
		return nil, fmt.Errorf("confirm %s: not an ethereum transaction", tx.Hash)
	}

	receipt, err := bind.WaitMined(ctx, e.rpc, raw)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s in block %d: %w", tx.Hash, receipt.BlockNumber.Uint64(), ErrReverted)
	}

	return &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// CurrentNonce reads sessionNonces(sessionKey) from the session key manager.
func (e *Ethereum) CurrentNonce(ctx context.Context, sessionKey string) (uint64, error) {
	addr, err := delegation.SessionAddress(sessionKey)
	if err != nil {
		return 0, err
	}

	res, err := e.breaker.Execute(func() (interface{}, error) {
		var out []interface{}
		if err := e.manager.Call(&bind.CallOpts{Context: ctx}, &out, methodSessionNonce, addr); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s(%s): %w", methodSessionNonce, addr.Hex(), err)
	}

	out := res.([]interface{})
	if len(out) != 1 {
		return 0, fmt.Errorf("%s: unexpected %d return values", methodSessionNonce, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("%s: nonce out of range", methodSessionNonce)
	}
	return n.Uint64(), nil
}

// Close closes the RPC connection.
func (e *Ethereum) Close() {
	e.rpc.Close()
}

func packArgs(call Call) (string, []interface{}, error) {
	subject, err := delegation.ParseUint256(call.SubjectID)
	if err != nil {
		return "", nil, fmt.Errorf("subject id: %w", err)
	}
	contentHash, err := delegation.ParseHash(call.ContentHash)
	if err != nil {
		return "", nil, err
	}

	switch call.Method {
	case MethodPublish:
		return methodPublishPost, []interface{}{subject, contentHash}, nil

	case MethodComment:
		parent, err := delegation.ParseUint256(call.ParentID)
		if err != nil {
			return "", nil, fmt.Errorf("parent id: %w", err)
		}
		if !common.IsHexAddress(call.UserAddress) {
			return "", nil, fmt.Errorf("user address %q: %w", call.UserAddress, delegation.ErrInvalidAddress)
		}
		sessionKey, err := delegation.SessionAddress(call.SessionKey)
		if err != nil {
			return "", nil, err
		}
		sig, err := hexutil.Decode(call.Signature)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", delegation.ErrInvalidSignature, err)
		}
		return methodAddComment, []interface{}{
			subject,
			contentHash,
			parent,
			common.HexToAddress(call.UserAddress),
			sessionKey,
			new(big.Int).SetUint64(call.Nonce),
			sig,
		}, nil
	}

	return "", nil, fmt.Errorf("unknown call method %q", call.Method)
}
