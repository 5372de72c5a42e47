// Package identity carries the connected wallet address through request
// contexts.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// WalletHeaderName is set by the frontend once a wallet is connected.
const WalletHeaderName = "X-Wallet-Address"

type contextKey int

const walletKey contextKey = iota

// WalletFromContext returns the wallet address attached by Middleware and
// whether one was present.
func WalletFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(walletKey).(common.Address)
	return addr, ok
}

// WithWallet returns a copy of ctx carrying addr.
func WithWallet(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, walletKey, addr)
}

// parseWallet accepts a 0x-prefixed or bare 20-byte hex address.
func parseWallet(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Middleware attaches the checksummed wallet address from WalletHeaderName.
// A missing header passes through anonymously; a malformed one is rejected
// with 400.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(WalletHeaderName)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			addr, ok := parseWallet(raw)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"invalid wallet address"}`, http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithWallet(r.Context(), addr)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
