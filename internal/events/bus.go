// Package events provides the in-process publish/subscribe bus that announces
// completed writes to read-path subscribers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/google/uuid"
)

// Handler receives one emitted event.
type Handler func(ctx context.Context, event domain.DomainEvent) error

// Subscription identifies a single registration made with On.
type Subscription uint64

type registration struct {
	id      Subscription
	handler Handler
}

// Bus is a process-local event bus. It keeps no history: an event emitted
// with no subscribers is dropped.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventName][]registration
	nextID   Subscription
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[domain.EventName][]registration),
		logger:   logger,
	}
}

// On registers handler for name and returns a handle for Off.
func (b *Bus) On(name domain.EventName, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], registration{id: id, handler: handler})
	b.logger.Debug("Event handler registered", "event", name, "subscription", id, "total_handlers", len(b.handlers[name]))
	return id
}

// Off removes exactly the registration identified by sub.
// It reports whether a registration was removed.
func (b *Bus) Off(name domain.EventName, sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[name]
	for i, reg := range regs {
		if reg.id != sub {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, name)
		} else {
			b.handlers[name] = next
		}
		return true
	}
	return false
}

// Emit delivers an event to every current handler for name, synchronously and
// in registration order. A failing or panicking handler does not stop delivery
// to the ones after it; all failures are returned joined.
func (b *Bus) Emit(ctx context.Context, name domain.EventName, payload map[string]any) error {
	b.mu.RLock()
	regs := b.handlers[name]
	b.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}

	event := domain.DomainEvent{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		EmittedAt: time.Now(),
	}

	var errs []error
	for _, reg := range regs {
		if err := b.deliver(ctx, reg, event); err != nil {
			b.logger.Warn("Event handler failed", "event", name, "subscription", reg.id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, reg registration, event domain.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %d panicked: %v", reg.id, r)
		}
	}()
	return reg.handler(ctx, event)
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name domain.EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Destroy removes every registration.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[domain.EventName][]registration)
}
