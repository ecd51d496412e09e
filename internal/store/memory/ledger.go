// Package memory provides in-process implementations of the store and ledger
// interfaces. They back the "memory" ledger backend and the unit tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/ledger"
)

// Ledger is a reference settlement ledger held in memory. One mutex
// serialises every transition, so the finalize and claim flags flip at most
// once.
type Ledger struct {
	mu       sync.Mutex
	rules    *ledger.Rules
	now      func() time.Time
	markets  map[string]*domain.MarketState
	byKey    map[string]string
	accounts map[string]map[string]*domain.AccountState
	balances map[string]uint64
	receipts []domain.PayoutReceipt
}

// NewLedger returns an empty ledger enforcing rules.
func NewLedger(rules *ledger.Rules) *Ledger {
	return &Ledger{
		rules:    rules,
		now:      time.Now,
		markets:  make(map[string]*domain.MarketState),
		byKey:    make(map[string]string),
		accounts: make(map[string]map[string]*domain.AccountState),
		balances: make(map[string]uint64),
	}
}

// WithClock replaces the ledger's clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// CreateMarket opens a new market.
func (l *Ledger) CreateMarket(_ context.Context, spec domain.MarketSpec) (domain.MarketState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.rules.NewMarket(spec, l.now())
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("memory: create market: %w", err)
	}
	if _, ok := l.markets[m.MarketID]; ok {
		return domain.MarketState{}, fmt.Errorf("memory: market %s: %w", m.MarketID, domain.ErrAlreadyExists)
	}
	if _, ok := l.byKey[m.LedgerKeyID]; ok {
		return domain.MarketState{}, fmt.Errorf("memory: ledger key %s: %w", m.LedgerKeyID, domain.ErrAlreadyExists)
	}
	l.markets[m.MarketID] = &m
	l.byKey[m.LedgerKeyID] = m.MarketID
	l.accounts[m.MarketID] = make(map[string]*domain.AccountState)
	return m, nil
}

// BuyTickets appends a choice to the participant's account, creating it on
// first purchase.
func (l *Ledger) BuyTickets(_ context.Context, marketRef, participantID, encodedChoice string, count uint64) (domain.AccountState, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return domain.AccountState{}, fmt.Errorf("memory: buy tickets: %w: participant id is required", domain.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.market(marketRef)
	if err != nil {
		return domain.AccountState{}, err
	}
	acct, ok := l.accounts[m.MarketID][participantID]
	if !ok {
		acct = &domain.AccountState{MarketID: m.MarketID, ParticipantID: participantID}
	}

	nm, na := *m, cloneAccount(*acct)
	price, err := l.rules.ApplyPurchase(&nm, &na, encodedChoice, count, l.now())
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("memory: buy tickets: %w", err)
	}
	*m = nm
	l.accounts[m.MarketID][participantID] = &na
	l.balances[m.MarketID] += price
	return cloneAccount(na), nil
}

// GetMarket returns a market by market id or ledger key id.
func (l *Ledger) GetMarket(_ context.Context, ref string) (domain.MarketState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(ref)
	if err != nil {
		return domain.MarketState{}, err
	}
	return *m, nil
}

// GetAccount returns one participant's account.
func (l *Ledger) GetAccount(_ context.Context, marketRef, participantID string) (domain.AccountState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(marketRef)
	if err != nil {
		return domain.AccountState{}, err
	}
	acct, ok := l.accounts[m.MarketID][participantID]
	if !ok {
		return domain.AccountState{}, domain.ErrNoAccount
	}
	return cloneAccount(*acct), nil
}

// ListAccounts returns every account of a market ordered by participant id.
func (l *Ledger) ListAccounts(_ context.Context, marketRef string) ([]domain.AccountState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(marketRef)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AccountState, 0, len(l.accounts[m.MarketID]))
	for _, a := range l.accounts[m.MarketID] {
		out = append(out, cloneAccount(*a))
	}
	slices.SortFunc(out, func(a, b domain.AccountState) int {
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out, nil
}

// ListPendingFinalize returns ended, unfinalized markets with tickets after
// the cursor, earliest end first.
func (l *Ledger) ListPendingFinalize(_ context.Context, now time.Time, after domain.PendingCursor, limit int) ([]domain.MarketState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.MarketState
	for _, m := range l.markets {
		if !m.IsFinalized && m.TotalTickets > 0 && m.Ended(now) && after.Precedes(*m) {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b domain.MarketState) int {
		if c := a.EndTime().Compare(b.EndTime()); c != 0 {
			return c
		}
		return strings.Compare(a.MarketID, b.MarketID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SubmitFinalize applies a finalize proposal.
func (l *Ledger) SubmitFinalize(_ context.Context, p domain.FinalizeProposal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(p.MarketID)
	if err != nil {
		return err
	}
	nm := *m
	if err := l.rules.ApplyFinalize(&nm, p, l.now()); err != nil {
		return fmt.Errorf("memory: finalize %s: %w", m.MarketID, err)
	}
	*m = nm
	return nil
}

// SubmitPayout applies a payout proposal and debits the market treasury.
func (l *Ledger) SubmitPayout(_ context.Context, p domain.PayoutProposal) (domain.PayoutReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.market(p.MarketID)
	if err != nil {
		return domain.PayoutReceipt{}, err
	}
	acct, ok := l.accounts[m.MarketID][p.ParticipantID]
	if !ok {
		return domain.PayoutReceipt{}, domain.ErrNoAccount
	}

	na := *acct
	rec, err := l.rules.ApplyPayout(*m, &na, p, l.balances[m.MarketID], l.now())
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("memory: payout %s/%s: %w", m.MarketID, p.ParticipantID, err)
	}
	acct.HasClaimed = true
	l.balances[m.MarketID] -= rec.Amount
	l.receipts = append(l.receipts, rec)
	return rec, nil
}

// Balance returns what a market's treasury still holds.
func (l *Ledger) Balance(marketID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[marketID]
}

// Receipts returns every accepted payout in order.
func (l *Ledger) Receipts() []domain.PayoutReceipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.receipts)
}

// market resolves ref; callers hold l.mu.
func (l *Ledger) market(ref string) (*domain.MarketState, error) {
	if m, ok := l.markets[ref]; ok {
		return m, nil
	}
	if id, ok := l.byKey[ref]; ok {
		return l.markets[id], nil
	}
	return nil, fmt.Errorf("memory: market %s: %w", ref, domain.ErrNotFound)
}

func cloneAccount(a domain.AccountState) domain.AccountState {
	a.Choices = slices.Clone(a.Choices)
	return a
}
