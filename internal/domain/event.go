package domain

import "time"

// EventName identifies a domain event kind.
type EventName string

const (
	SubjectCreated   EventName = "subject:created"
	SubjectAdded     EventName = "subject:added"
	SubjectPublished EventName = "subject:published"
	SubjectScheduled EventName = "subject:scheduled"
)

// DomainEvent announces that a write has landed. Payloads carry identifiers
// for cache keys only, never full content.
type DomainEvent struct {
	ID        string         `json:"id"`
	Name      EventName      `json:"name"`
	Payload   map[string]any `json:"payload"`
	EmittedAt time.Time      `json:"emitted_at"`
}
