package domain

import (
	"context"
	"time"
)

// CheckpointStore persists open positions across restarts. Implementations
// must tolerate rows with a missing entry price/time; the loader marks those
// positions orphaned.
type CheckpointStore interface {
	SavePosition(ctx context.Context, pos Position) error
	DeletePosition(ctx context.Context, account, symbol string) error
	LoadOpen(ctx context.Context, account string) ([]Position, error)
}

// JournalEvent names the lifecycle event a journal row records.
type JournalEvent string

const (
	JournalOpened   JournalEvent = "opened"
	JournalClosed   JournalEvent = "closed"
	JournalReversed JournalEvent = "reversed"
)

// JournalEntry is one append-only record of an executed fill or close.
type JournalEntry struct {
	ID        string       `json:"id"`
	Account   string       `json:"account"`
	Symbol    string       `json:"symbol"`
	Event     JournalEvent `json:"event"`
	Side      OrderSide    `json:"side"`
	Quantity  float64      `json:"quantity"`
	Price     float64      `json:"price"`
	Notional  float64      `json:"notional"`
	PnL       float64      `json:"pnl"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// JournalStore persists the fill/close journal.
type JournalStore interface {
	Record(ctx context.Context, entry JournalEntry) error
	ListBefore(ctx context.Context, before time.Time) ([]JournalEntry, error)
}

// DustMirror mirrors the in-memory dust blacklist into external storage so
// operators can inspect and clear entries out-of-band. The in-memory set
// stays authoritative within a run; mirror writes are best-effort.
type DustMirror interface {
	Add(ctx context.Context, account, symbol string) error
	Load(ctx context.Context, account string) ([]string, error)
}

// EventBus is ephemeral pub/sub used for the status surface and for
// externally generated trade signals.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
