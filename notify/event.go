/*
Package notify delivers ledger events to other subsystems after the fact.

PURPOSE:
  A committed entry is final the moment the store commits it. Telling the
  kitchen display, the back office or a data pipeline about it happens
  afterwards, asynchronously, and can never roll the entry back.

FLOW:
  Ledger.Apply --commit--> Dispatcher.Observe --queue--> worker --> Publisher
                                    |
                                    +-- queue full: event dropped, counted, logged

PUBLISHERS:
  - LogPublisher:   writes events to the structured log (development)
  - KafkaPublisher: one message per event, keyed by account id, behind a
                    circuit breaker so a dead broker fails fast

SEE ALSO:
  - reconcile/stockwatch.go: emits low_stock events through the Dispatcher
*/
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/warp/pos-ledger/ledger"
)

// Event types.
const (
	EventEntryCommitted = "ledger.entry.committed"
	EventAccountOpened  = "ledger.account.opened"
	EventLowStock       = "inventory.low_stock"
	EventRegisterClosed = "cash.register.closed"
	EventTierChanged    = "loyalty.tier.changed"
)

// Event is what publishers receive.
type Event struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	AccountID   ledger.AccountID   `json:"account_id"`
	AccountType ledger.AccountType `json:"account_type,omitempty"`
	Kind        ledger.Kind        `json:"kind,omitempty"`
	Entry       *ledger.Entry      `json:"entry,omitempty"`
	Balances    ledger.Balances    `json:"balances,omitempty"`
	Data        map[string]any     `json:"data,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// NewEvent stamps a fresh id and time.
func NewEvent(eventType string, accountID ledger.AccountID) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		AccountID:  accountID,
		OccurredAt: time.Now().UTC(),
	}
}

// FromOutcome builds the event of a successful open or apply. ok is false
// for failed operations, which produce no event.
func FromOutcome(o ledger.Outcome) (Event, bool) {
	if o.Err != nil || o.Account == nil {
		return Event{}, false
	}
	eventType := EventEntryCommitted
	if o.Op == "open" {
		eventType = EventAccountOpened
	}
	ev := NewEvent(eventType, o.Account.ID)
	ev.AccountType = o.Account.Type
	ev.Kind = o.Kind
	ev.Balances = o.Account.Balances.Clone()
	if o.Entry != nil {
		e := o.Entry.Clone()
		ev.Entry = &e
		ev.OccurredAt = e.CreatedAt
	}
	return ev, true
}

// Publisher delivers events to an external system.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}
