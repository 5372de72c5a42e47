package m2m

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestValidate(t *testing.T) {
	g := NewGate("secret-key")

	if !g.Validate("secret-key") {
		t.Error("Expected configured key to validate")
	}
	for _, key := range []string{"", "secret", "secret-key2", "SECRET-KEY"} {
		if g.Validate(key) {
			t.Errorf("Expected %q to be rejected", key)
		}
	}
}

func TestValidate_NoKeyConfigured(t *testing.T) {
	g := NewGate("")
	if g.Enabled() {
		t.Error("Expected gate without key to be disabled")
	}
	if g.Validate("") {
		t.Error("Expected empty key to be rejected")
	}
}

func TestCheckRateLimit_FixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewGate("k", WithClock(clock.Now))

	for i := 0; i < DefaultLimit; i++ {
		if !g.CheckRateLimit("k") {
			t.Fatalf("Request %d rejected within limit", i+1)
		}
	}
	if g.CheckRateLimit("k") {
		t.Error("Expected 11th request in the window to be rejected")
	}

	clock.Advance(59 * time.Second)
	if g.CheckRateLimit("k") {
		t.Error("Expected window to still be closed at 59s")
	}

	clock.Advance(time.Second)
	if !g.CheckRateLimit("k") {
		t.Error("Expected new window after one minute")
	}
}

func TestCheckRateLimit_PerKey(t *testing.T) {
	g := NewGate("a", WithLimit(1, time.Minute))

	if !g.CheckRateLimit("a") || !g.CheckRateLimit("b") {
		t.Fatal("Expected first request per key to pass")
	}
	if g.CheckRateLimit("a") {
		t.Error("Expected second request for key a to be limited")
	}
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewGate("k", WithClock(clock.Now))

	g.CheckRateLimit("a")
	clock.Advance(30 * time.Second)
	g.CheckRateLimit("b")
	clock.Advance(31 * time.Second)

	if removed := g.Sweep(); removed != 1 {
		t.Errorf("Expected 1 ended window, got %d", removed)
	}
	if g.tracked() != 1 {
		t.Errorf("Expected 1 tracked window, got %d", g.tracked())
	}
}

func TestMiddleware(t *testing.T) {
	g := NewGate("k", WithLimit(1, time.Minute))
	reached := 0
	h := Middleware(g)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}))

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/m2m/publish", nil)
		if key != "" {
			req.Header.Set(HeaderAPIKey, key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do(""); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", code)
	}
	if code := do("wrong"); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong key, got %d", code)
	}
	if code := do("k"); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
	if code := do("k"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", code)
	}
	if reached != 1 {
		t.Errorf("Expected handler reached once, got %d", reached)
	}
}
