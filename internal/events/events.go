// Package events publishes ledger changes to interested consumers.
package events

import (
	"context"
	"time"

	"github.com/zombor/flashka/internal/ledger"
	"github.com/zombor/flashka/internal/money"
)

// Type names a ledger change
type Type string

const (
	EntryAdded   Type = "entry_added"
	EntryUpdated Type = "entry_updated"
	EntryToggled Type = "entry_toggled"
	EntryRemoved Type = "entry_removed"
)

// LedgerChanged is emitted after every successful ledger mutation
type LedgerChanged struct {
	Type             Type         `json:"type"`
	SessionID        string       `json:"session_id"`
	Entry            ledger.Entry `json:"entry"`
	Total            money.Amount `json:"total"`
	UnpurchasedTotal money.Amount `json:"unpurchased_total"`
	OccurredAt       time.Time    `json:"occurred_at"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event LedgerChanged) error
	Close() error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, LedgerChanged) error { return nil }
func (Nop) Close() error                                  { return nil }
