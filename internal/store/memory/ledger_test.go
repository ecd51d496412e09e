package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/ledger"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T) (*Ledger, *fakeClock, domain.MarketState) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLedger(ledger.NewRules(settlement.DefaultParams(), "fees", nil)).WithClock(clock.Now)
	m, err := l.CreateMarket(context.Background(), domain.MarketSpec{
		MarketID: "m1", LedgerKeyID: "k1", TicketPrice: 10, DurationSeconds: 60,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return l, clock, m
}

func TestLedgerPurchaseAndLookup(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	if _, err := l.CreateMarket(ctx, domain.MarketSpec{MarketID: "m1", TicketPrice: 1, DurationSeconds: 1}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate market: err = %v", err)
	}

	if _, err := l.BuyTickets(ctx, "k1", "bob", "enc-1", 2); err != nil {
		t.Fatalf("BuyTickets: %v", err)
	}
	if _, err := l.BuyTickets(ctx, "m1", "alice", "enc-2", 3); err != nil {
		t.Fatalf("BuyTickets: %v", err)
	}

	m, err := l.GetMarket(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalTickets != 5 || m.TotalAmount != 50 || l.Balance("m1") != 50 {
		t.Errorf("market = %+v balance = %d", m, l.Balance("m1"))
	}

	accts, err := l.ListAccounts(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(accts) != 2 || accts[0].ParticipantID != "alice" {
		t.Errorf("accounts = %+v", accts)
	}

	accts[0].Choices[0].TicketCount = 99
	again, _ := l.GetAccount(ctx, "m1", "alice")
	if again.Choices[0].TicketCount != 3 {
		t.Error("returned account aliases ledger state")
	}

	if _, err := l.GetAccount(ctx, "m1", "carol"); !errors.Is(err, domain.ErrNoAccount) {
		t.Errorf("missing account: err = %v", err)
	}
	if _, err := l.GetMarket(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing market: err = %v", err)
	}
}

func TestLedgerPendingFinalize(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newTestLedger(t)
	if _, err := l.CreateMarket(ctx, domain.MarketSpec{MarketID: "empty", TicketPrice: 1, DurationSeconds: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.BuyTickets(ctx, "m1", "alice", "enc", 1); err != nil {
		t.Fatal(err)
	}

	pending, _ := l.ListPendingFinalize(ctx, clock.Now(), domain.PendingCursor{}, 10)
	if len(pending) != 0 {
		t.Fatalf("pending before end = %d", len(pending))
	}
	clock.Advance(time.Minute)
	pending, _ = l.ListPendingFinalize(ctx, clock.Now(), domain.PendingCursor{}, 10)
	if len(pending) != 1 || pending[0].MarketID != "m1" {
		t.Errorf("pending = %+v", pending)
	}
	pending, _ = l.ListPendingFinalize(ctx, clock.Now(), domain.CursorAt(pending[0]), 10)
	if len(pending) != 0 {
		t.Errorf("pending after cursor = %+v", pending)
	}
}

func TestLedgerFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newTestLedger(t)
	if _, err := l.BuyTickets(ctx, "m1", "alice", "enc", 2); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)

	p := domain.FinalizeProposal{MarketID: "m1", TotalTicketsA: 2, TotalAmountA: 20, WinningSide: domain.SideA}

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.SubmitFinalize(ctx, p)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyFinalized):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || losses.Load() != 15 {
		t.Errorf("wins = %d losses = %d", wins.Load(), losses.Load())
	}
}

func TestLedgerPayoutOnce(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newTestLedger(t)
	if _, err := l.BuyTickets(ctx, "m1", "alice", "enc", 4); err != nil {
		t.Fatal(err)
	}
	if _, err := l.BuyTickets(ctx, "m1", "bob", "enc", 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if err := l.SubmitFinalize(ctx, domain.FinalizeProposal{
		MarketID: "m1", TotalTicketsA: 4, TotalTicketsB: 1, TotalAmountA: 40, TotalAmountB: 10, WinningSide: domain.SideA,
	}); err != nil {
		t.Fatal(err)
	}

	p := domain.PayoutProposal{MarketID: "m1", ParticipantID: "alice", Amount: 50}
	var paid, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.SubmitPayout(ctx, p)
			switch {
			case err == nil:
				paid.Add(1)
			case errors.Is(err, domain.ErrAlreadyClaimed):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if paid.Load() != 1 || rejected.Load() != 15 {
		t.Errorf("paid = %d rejected = %d", paid.Load(), rejected.Load())
	}

	rec := l.Receipts()
	if len(rec) != 1 || rec[0].FeeAmount != 2 || rec[0].UserAmount != 48 {
		t.Errorf("receipts = %+v", rec)
	}
	if l.Balance("m1") != 0 {
		t.Errorf("balance = %d", l.Balance("m1"))
	}
	a, _ := l.GetAccount(ctx, "m1", "alice")
	if !a.HasClaimed {
		t.Error("hasClaimed not set")
	}
	if _, err := l.SubmitPayout(ctx, domain.PayoutProposal{MarketID: "m1", ParticipantID: "carol", Amount: 1}); !errors.Is(err, domain.ErrNoAccount) {
		t.Errorf("unknown participant: err = %v", err)
	}
}

func TestMetaStoreResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMetaStore()
	if err := s.Upsert(ctx, domain.MarketMeta{MarketID: "m1", LedgerKeyID: "k1", EncryptionKey: "aa"}); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"m1", "k1"} {
		got, err := s.Resolve(ctx, ref)
		if err != nil || got.MarketID != "m1" || got.CreatedAt.IsZero() {
			t.Errorf("Resolve(%s) = %+v, %v", ref, got, err)
		}
	}
	if err := s.Upsert(ctx, domain.MarketMeta{MarketID: "m2", LedgerKeyID: "k1"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("key collision: err = %v", err)
	}
	if _, err := s.Resolve(ctx, "zz"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}

func TestAuditStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	for _, ev := range []string{"a", "b", "c"} {
		_ = s.Log(ctx, ev, map[string]any{"n": ev})
	}
	got, _ := s.List(ctx, domain.ListOpts{Limit: 2})
	if len(got) != 2 || got[0].Event != "c" || got[1].Event != "b" {
		t.Errorf("list = %+v", got)
	}
	got, _ = s.List(ctx, domain.ListOpts{Offset: 2})
	if len(got) != 1 || got[0].Event != "a" {
		t.Errorf("offset list = %+v", got)
	}
}
