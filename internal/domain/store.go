package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MetaStore holds the operator's per-market records.
type MetaStore interface {
	Upsert(ctx context.Context, meta MarketMeta) error
	// Resolve finds a record by market id or by ledger key id.
	Resolve(ctx context.Context, ref string) (MarketMeta, error)
}

// Ledger is the authoritative settlement ledger as seen by the engine: reads
// plus proposed transitions. The ledger alone flips isFinalized and
// hasClaimed.
type Ledger interface {
	GetMarket(ctx context.Context, marketID string) (MarketState, error)
	GetAccount(ctx context.Context, marketID, participantID string) (AccountState, error)
	ListAccounts(ctx context.Context, marketID string) ([]AccountState, error)
	// ListPendingFinalize returns unfinalized markets with tickets whose end
	// time is at or before now, ordered by (end time, market id) and starting
	// strictly after the cursor. The zero cursor starts at the beginning.
	ListPendingFinalize(ctx context.Context, now time.Time, after PendingCursor, limit int) ([]MarketState, error)

	// SubmitFinalize returns ErrAlreadyFinalized when another caller won.
	SubmitFinalize(ctx context.Context, p FinalizeProposal) error
	// SubmitPayout returns ErrAlreadyClaimed when the account was paid before.
	SubmitPayout(ctx context.Context, p PayoutProposal) (PayoutReceipt, error)
}

// LedgerAdmin is the purchase-side surface of the reference ledgers.
type LedgerAdmin interface {
	CreateMarket(ctx context.Context, spec MarketSpec) (MarketState, error)
	BuyTickets(ctx context.Context, marketID, participantID, encodedChoice string, count uint64) (AccountState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PendingCursor is a position in the pending-finalize order.
type PendingCursor struct {
	EndTime  time.Time
	MarketID string
}

// CursorAt returns the cursor positioned on m.
func CursorAt(m MarketState) PendingCursor {
	return PendingCursor{EndTime: m.EndTime(), MarketID: m.MarketID}
}

// Precedes reports whether m sorts strictly after the cursor.
func (c PendingCursor) Precedes(m MarketState) bool {
	switch end := m.EndTime(); {
	case end.After(c.EndTime):
		return true
	case end.Equal(c.EndTime):
		return m.MarketID > c.MarketID
	default:
		return false
	}
}
