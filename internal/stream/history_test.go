package stream

import (
	"fmt"
	"testing"

	"github.com/ashureev/gasless-relay/internal/domain"
)

func ids(events []domain.DomainEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestHistory(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes int
		want   []string
	}{
		{name: "empty", size: 3, writes: 0, want: []string{}},
		{name: "partial", size: 3, writes: 2, want: []string{"e0", "e1"}},
		{name: "exactly full", size: 3, writes: 3, want: []string{"e0", "e1", "e2"}},
		{name: "wrapped", size: 3, writes: 5, want: []string{"e2", "e3", "e4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHistory(tt.size)
			for i := 0; i < tt.writes; i++ {
				h.add(domain.DomainEvent{ID: fmt.Sprintf("e%d", i)})
			}

			got := ids(h.snapshot())
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Expected %v, got %v", tt.want, got)
				}
			}
			if h.len() != len(tt.want) {
				t.Errorf("Expected len %d, got %d", len(tt.want), h.len())
			}
		})
	}
}

func TestHistory_DefaultSize(t *testing.T) {
	if h := newHistory(0); h.size != defaultHistory {
		t.Errorf("Expected default size %d, got %d", defaultHistory, h.size)
	}
}
