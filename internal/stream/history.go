package stream

import (
	"sync"

	"github.com/ashureev/gasless-relay/internal/domain"
)

// defaultHistory is how many recent events a new client is sent on connect.
const defaultHistory = 64

// history is a fixed-size ring of recent events. When full, the oldest event
// is overwritten.
type history struct {
	buf  []domain.DomainEvent
	size int
	head int // next write position
	full bool
	mu   sync.RWMutex
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistory
	}
	return &history{
		buf:  make([]domain.DomainEvent, size),
		size: size,
	}
}

func (h *history) add(event domain.DomainEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = event
	h.head = (h.head + 1) % h.size
	if h.head == 0 {
		h.full = true
	}
}

// snapshot returns the retained events oldest first.
func (h *history) snapshot() []domain.DomainEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]domain.DomainEvent, h.head)
		copy(out, h.buf[:h.head])
		return out
	}

	// Wrapped: head -> end, then start -> head.
	out := make([]domain.DomainEvent, 0, h.size)
	out = append(out, h.buf[h.head:]...)
	return append(out, h.buf[:h.head]...)
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return h.size
	}
	return h.head
}
