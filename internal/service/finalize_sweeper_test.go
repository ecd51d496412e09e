package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	return nil, domain.ErrLockHeld
}

// freeLock always grants the lock. After loseAfter refreshes (when set) the
// lease reports it was lost.
type freeLock struct {
	keys      []string
	released  int
	refreshes int
	loseAfter int
}

func (l *freeLock) Acquire(_ context.Context, key string, _ time.Duration) (domain.Lease, error) {
	l.keys = append(l.keys, key)
	return l, nil
}

func (l *freeLock) Refresh(context.Context) error {
	l.refreshes++
	if l.loseAfter > 0 && l.refreshes >= l.loseAfter {
		return domain.ErrLockLost
	}
	return nil
}

func (l *freeLock) Release() { l.released++ }

func TestSweepFinalizesEndedMarkets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.openMarket(t, "m1")
	h.openMarket(t, "m2")
	h.buy(t, "m1", "x", domain.SideA, 2)
	h.buy(t, "m2", "x", domain.SideB, 1)

	// A ledger market without a key registered here is left alone.
	if _, err := h.ledger.CreateMarket(ctx, domain.MarketSpec{MarketID: "foreign", TicketPrice: price, DurationSeconds: 60}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.BuyTickets(ctx, "foreign", "x", "c2VhbGVk", 1); err != nil {
		t.Fatal(err)
	}

	lock := &freeLock{}
	sweeper := NewFinalizeSweeper(h.ledger, h.svc, lock, time.Minute, 50*time.Second, quietLogger()).
		WithClock(h.clock.Now)

	stats, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce before end: %v", err)
	}
	if stats.Pending != 0 {
		t.Errorf("pending before end = %d", stats.Pending)
	}

	h.clock.Advance(2 * time.Hour)
	stats, err = sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if stats != (SweepStats{Pending: 3, Finalized: 2, Skipped: 1}) {
		t.Errorf("stats = %+v", stats)
	}
	for _, id := range []string{"m1", "m2"} {
		m, _ := h.ledger.GetMarket(ctx, id)
		if !m.IsFinalized {
			t.Errorf("%s not finalized", id)
		}
	}
	if len(lock.keys) != 2 || lock.keys[0] != SweepLockKey || lock.released != 2 {
		t.Errorf("lock use = %v released %d", lock.keys, lock.released)
	}
	if lock.refreshes != 3 {
		t.Errorf("refreshes = %d, want one per pending market", lock.refreshes)
	}

	stats, err = sweeper.SweepOnce(ctx)
	if err != nil || stats.Pending != 1 {
		t.Errorf("third sweep = %+v, %v", stats, err)
	}
}

func TestSweepPagesPastUnfinalizableMarkets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Two ledger markets with no key registered here end first and can never
	// be finalized by this instance.
	for _, id := range []string{"foreign-1", "foreign-2"} {
		if _, err := h.ledger.CreateMarket(ctx, domain.MarketSpec{MarketID: id, TicketPrice: price, DurationSeconds: 60}); err != nil {
			t.Fatal(err)
		}
		if _, err := h.ledger.BuyTickets(ctx, id, "x", "c2VhbGVk", 1); err != nil {
			t.Fatal(err)
		}
	}
	h.openMarket(t, "m1")
	h.buy(t, "m1", "x", domain.SideA, 2)
	h.clock.Advance(2 * time.Hour)

	lock := &freeLock{}
	sweeper := NewFinalizeSweeper(h.ledger, h.svc, lock, time.Minute, 50*time.Second, quietLogger()).
		WithClock(h.clock.Now).
		WithBatch(1)

	stats, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if stats != (SweepStats{Pending: 3, Finalized: 1, Skipped: 2}) {
		t.Errorf("stats = %+v", stats)
	}
	m, _ := h.ledger.GetMarket(ctx, "m1")
	if !m.IsFinalized {
		t.Error("m1 starved behind markets this instance cannot finalize")
	}
	if lock.refreshes != 3 {
		t.Errorf("refreshes = %d, want one per market", lock.refreshes)
	}
}

func TestSweepStopsWhenLockLost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.openMarket(t, "m1")
	h.openMarket(t, "m2")
	h.buy(t, "m1", "x", domain.SideA, 2)
	h.buy(t, "m2", "x", domain.SideB, 1)
	h.clock.Advance(2 * time.Hour)

	lock := &freeLock{loseAfter: 1}
	sweeper := NewFinalizeSweeper(h.ledger, h.svc, lock, time.Minute, 50*time.Second, quietLogger()).
		WithClock(h.clock.Now)

	stats, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if stats.Pending != 2 || stats.Finalized != 1 {
		t.Errorf("stats = %+v, want one market finalized before the lock was lost", stats)
	}
	if lock.released != 1 {
		t.Errorf("released = %d", lock.released)
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	sweeper := NewFinalizeSweeper(h.ledger, h.svc, heldLock{}, time.Minute, time.Minute, quietLogger())

	stats, err := sweeper.SweepOnce(context.Background())
	if err != nil || stats != (SweepStats{}) {
		t.Errorf("SweepOnce = %+v, %v", stats, err)
	}
}

type failingFinalizer struct{ calls int }

func (f *failingFinalizer) Finalize(context.Context, string) (FinalizeResult, error) {
	f.calls++
	return FinalizeResult{}, errors.New("boom")
}

func TestSweepCountsFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.openMarket(t, "m1")
	h.buy(t, "m1", "x", domain.SideA, 1)
	h.clock.Advance(2 * time.Hour)

	fin := &failingFinalizer{}
	sweeper := NewFinalizeSweeper(h.ledger, fin, nil, time.Minute, 0, quietLogger()).WithClock(h.clock.Now)
	stats, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || fin.calls != 1 {
		t.Errorf("stats = %+v calls = %d", stats, fin.calls)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper := NewFinalizeSweeper(h.ledger, h.svc, nil, time.Hour, 0, quietLogger())
	if err := sweeper.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
