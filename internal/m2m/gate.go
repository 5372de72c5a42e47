// Package m2m guards the machine-to-machine publish path with an API key and
// a fixed-window rate limit.
package m2m

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 10
	// DefaultWindow is the length of one rate-limit window.
	DefaultWindow = time.Minute
)

type window struct {
	start time.Time
	count int
}

// Gate validates API keys and counts requests per key in fixed windows.
type Gate struct {
	apiKey []byte
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[[sha256.Size]byte]*window
}

// Option configures a Gate.
type Option func(*Gate)

// WithLimit overrides the per-window request limit and window length.
func WithLimit(limit int, length time.Duration) Option {
	return func(g *Gate) {
		g.limit = limit
		g.window = length
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate accepting apiKey. An empty apiKey accepts nothing.
func NewGate(apiKey string, opts ...Option) *Gate {
	g := &Gate{
		apiKey:   []byte(apiKey),
		limit:    DefaultLimit,
		window:   DefaultWindow,
		now:      time.Now,
		counters: make(map[[sha256.Size]byte]*window),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether an API key is configured.
func (g *Gate) Enabled() bool {
	return len(g.apiKey) > 0
}

// Validate compares apiKey to the configured key in constant time.
func (g *Gate) Validate(apiKey string) bool {
	if !g.Enabled() || apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(apiKey), g.apiKey) == 1
}

// CheckRateLimit counts one request for apiKey and reports whether it is
// within the current window's limit.
func (g *Gate) CheckRateLimit(apiKey string) bool {
	id := sha256.Sum256([]byte(apiKey))
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.counters[id]
	if !ok || now.Sub(w.start) >= g.window {
		g.counters[id] = &window{start: now, count: 1}
		return true
	}
	if w.count >= g.limit {
		return false
	}
	w.count++
	return true
}

// Sweep drops windows that have ended and returns how many were removed.
func (g *Gate) Sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, w := range g.counters {
		if now.Sub(w.start) >= g.window {
			delete(g.counters, id)
			removed++
		}
	}
	return removed
}

func (g *Gate) tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.counters)
}
