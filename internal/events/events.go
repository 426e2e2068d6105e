// Package events publishes ledger events to downstream collaborators
// (reporting, notifications) after a mutation commits.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Type names a ledger event. It doubles as the AMQP routing key.
type Type string

const (
	BudgetCreated           Type = "budget.created"
	BudgetActivated         Type = "budget.activated"
	BudgetClosed            Type = "budget.closed"
	BudgetShared            Type = "budget.shared"
	BudgetUnshared          Type = "budget.unshared"
	BudgetArchived          Type = "budget.archived"
	EnvelopeCreated         Type = "envelope.created"
	TransactionRecorded     Type = "transaction.recorded"
	TransactionVoided       Type = "transaction.voided"
	TransactionStatusChange Type = "transaction.status_changed"
)

// Event is the payload published for every committed ledger change.
type Event struct {
	Type        Type            `json:"type"`
	BudgetID    string          `json:"budgetId"`
	EntityID    string          `json:"entityId"`
	PrincipalID string          `json:"principalId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// New builds an event, encoding data as its payload. Data that cannot be
// encoded is dropped rather than failing the already-committed mutation.
func New(t Type, budgetID, entityID, principalID string, data any) Event {
	e := Event{
		Type:        t,
		BudgetID:    budgetID,
		EntityID:    entityID,
		PrincipalID: principalID,
		OccurredAt:  time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Publisher hands events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records e.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
