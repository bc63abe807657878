// Package memory records lead events in memory when Pub/Sub is not configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultLimit bounds how many recent events a Publisher retains.
const DefaultLimit = 1000

// Publisher keeps the most recent published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
	seq    int
	limit  int
}

// Event captures one publish call. Data holds the JSON encoding that Pub/Sub
// would have received.
type Event struct {
	ID   string
	Name string
	Data json.RawMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return NewWithLimit(DefaultLimit)
}

// NewWithLimit returns a memory Publisher retaining at most limit events.
func NewWithLimit(limit int) *Publisher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Publisher{limit: limit}
}

// Publish encodes the payload and records it under a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.events = append(p.events, Event{ID: id, Name: event, Data: data})
	if len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	return id, nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }
