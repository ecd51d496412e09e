package ledger

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

const operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var t0 = time.Unix(1_700_000_000, 0).UTC()

func openMarket(t *testing.T, r *Rules) domain.MarketState {
	t.Helper()
	m, err := r.NewMarket(domain.MarketSpec{
		Title: "Rain tomorrow?", SideALabel: "yes", SideBLabel: "no",
		TicketPrice: 100, DurationSeconds: 60,
	}, t0)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	return m
}

func TestNewMarketValidation(t *testing.T) {
	r := NewRules(settlement.DefaultParams(), "treasury", nil)

	m := openMarket(t, r)
	if m.MarketID == "" || m.LedgerKeyID == "" || m.Treasury != "treasury" {
		t.Errorf("market = %+v", m)
	}
	if !m.EndTime().Equal(t0.Add(time.Minute)) {
		t.Errorf("end = %v", m.EndTime())
	}

	bad := []domain.MarketSpec{
		{Title: strings.Repeat("x", 65), TicketPrice: 1, DurationSeconds: 1},
		{Description: strings.Repeat("x", 513), TicketPrice: 1, DurationSeconds: 1},
		{SideALabel: strings.Repeat("x", 33), TicketPrice: 1, DurationSeconds: 1},
		{Category: strings.Repeat("x", 33), TicketPrice: 1, DurationSeconds: 1},
		{TicketPrice: 0, DurationSeconds: 1},
		{TicketPrice: 1, DurationSeconds: 0},
	}
	for i, spec := range bad {
		if _, err := r.NewMarket(spec, t0); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("spec %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestApplyPurchase(t *testing.T) {
	r := NewRules(settlement.DefaultParams(), "", nil)
	m := openMarket(t, r)
	a := domain.AccountState{MarketID: m.MarketID, ParticipantID: "alice"}

	price, err := r.ApplyPurchase(&m, &a, "enc", 3, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("ApplyPurchase: %v", err)
	}
	if price != 300 || m.TotalTickets != 3 || m.TotalAmount != 300 || a.TotalTickets != 3 || len(a.Choices) != 1 {
		t.Errorf("price=%d market=%+v account=%+v", price, m, a)
	}

	// Buying exactly at the end time is still allowed.
	if _, err := r.ApplyPurchase(&m, &a, "enc", 1, m.EndTime()); err != nil {
		t.Errorf("purchase at end: %v", err)
	}

	before := m
	tests := []struct {
		name    string
		encoded string
		count   uint64
		at      time.Time
		want    error
	}{
		{"closed", "enc", 1, m.EndTime().Add(time.Second), domain.ErrMarketClosed},
		{"zero count", "enc", 0, t0, domain.ErrInvalidInput},
		{"empty choice", "", 1, t0, domain.ErrInvalidInput},
		{"oversized choice", strings.Repeat("e", 257), 1, t0, domain.ErrInvalidInput},
		{"above cap", "enc", 97, t0, ErrUserTicketLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := a
			if _, err := r.ApplyPurchase(&m, &acct, tt.encoded, tt.count, tt.at); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if m.TotalTickets != before.TotalTickets || acct.TotalTickets != a.TotalTickets {
				t.Error("rejected purchase mutated state")
			}
		})
	}
}

func TestApplyPurchaseLimits(t *testing.T) {
	params := settlement.DefaultParams()
	params.MaxChoices = 2
	r := NewRules(params, "", nil)
	m := openMarket(t, r)
	a := domain.AccountState{ParticipantID: "alice"}

	for range 2 {
		if _, err := r.ApplyPurchase(&m, &a, "enc", 1, t0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.ApplyPurchase(&m, &a, "enc", 1, t0); !errors.Is(err, ErrTooManyChoices) {
		t.Errorf("third choice: err = %v", err)
	}

	if got := r.UserTicketLimit(1000); got != 250 {
		t.Errorf("limit(1000) = %d, want 250", got)
	}
	if got := r.UserTicketLimit(40); got != 100 {
		t.Errorf("limit(40) = %d, want 100", got)
	}

	m.IsFinalized = true
	b := domain.AccountState{ParticipantID: "bob"}
	if _, err := r.ApplyPurchase(&m, &b, "enc", 1, t0); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Errorf("finalized: err = %v", err)
	}
}

func finalizeProposal(m domain.MarketState, a, b uint64) domain.FinalizeProposal {
	return domain.FinalizeProposal{
		ID: "p", MarketID: m.MarketID,
		TotalTicketsA: a, TotalTicketsB: b,
		TotalAmountA: a * m.TicketPrice, TotalAmountB: b * m.TicketPrice,
		WinningSide: settlement.WinningSide(a, b),
		RevealedKey: strings.Repeat("ab", 32),
	}
}

func TestApplyFinalize(t *testing.T) {
	r := NewRules(settlement.DefaultParams(), "", nil)
	m := openMarket(t, r)
	m.TotalTickets, m.TotalAmount = 5, 500
	after := m.EndTime()

	if err := r.ApplyFinalize(&m, finalizeProposal(m, 3, 2), m.EndTime().Add(-time.Second)); !errors.Is(err, domain.ErrNotEnded) {
		t.Errorf("early: err = %v", err)
	}
	if err := r.ApplyFinalize(&m, finalizeProposal(m, 3, 1), after); !errors.Is(err, domain.ErrInconsistentTotals) {
		t.Errorf("short totals: err = %v", err)
	}
	wrongWinner := finalizeProposal(m, 3, 2)
	wrongWinner.WinningSide = domain.SideB
	if err := r.ApplyFinalize(&m, wrongWinner, after); !errors.Is(err, domain.ErrTallyMismatch) {
		t.Errorf("wrong winner: err = %v", err)
	}
	badSide := finalizeProposal(m, 3, 2)
	badSide.WinningSide = 7
	if err := r.ApplyFinalize(&m, badSide, after); !errors.Is(err, ErrInvalidWinner) {
		t.Errorf("side 7: err = %v", err)
	}
	if m.IsFinalized {
		t.Fatal("rejected proposals finalized the market")
	}

	if err := r.ApplyFinalize(&m, finalizeProposal(m, 3, 2), after); err != nil {
		t.Fatalf("ApplyFinalize: %v", err)
	}
	if !m.IsFinalized || !m.IsRevealed || m.WinningSide != domain.SideA || m.TotalAmountA != 300 {
		t.Errorf("market = %+v", m)
	}
	if err := r.ApplyFinalize(&m, finalizeProposal(m, 3, 2), after); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Errorf("second finalize: err = %v", err)
	}
}

func TestApplyPayout(t *testing.T) {
	r := NewRules(settlement.DefaultParams(), "fees", nil)
	m := openMarket(t, r)
	m.Treasury = "fees"
	a := domain.AccountState{ParticipantID: "alice", TotalAmount: 100}
	p := domain.PayoutProposal{ID: "p", MarketID: m.MarketID, ParticipantID: "alice", Amount: 1000}

	if _, err := r.ApplyPayout(m, &a, p, 1000, t0); !errors.Is(err, domain.ErrNotFinalized) {
		t.Errorf("open market: err = %v", err)
	}
	m.IsFinalized, m.WinningSide = true, domain.SideA

	if _, err := r.ApplyPayout(m, &a, p, 999, t0); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("insolvent: err = %v", err)
	}
	zero := p
	zero.Amount = 0
	if _, err := r.ApplyPayout(m, &a, zero, 1000, t0); !errors.Is(err, domain.ErrZeroClaim) {
		t.Errorf("zero: err = %v", err)
	}

	rec, err := r.ApplyPayout(m, &a, p, 1000, t0)
	if err != nil {
		t.Fatalf("ApplyPayout: %v", err)
	}
	if rec.FeeAmount != 50 || rec.UserAmount != 950 || rec.Treasury != "fees" || !a.HasClaimed {
		t.Errorf("receipt = %+v claimed=%v", rec, a.HasClaimed)
	}
	if _, err := r.ApplyPayout(m, &a, p, 1000, t0); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("second payout: err = %v", err)
	}

	m.WinningSide = domain.SideNone
	b := domain.AccountState{ParticipantID: "bob"}
	rec, err = r.ApplyPayout(m, &b, p, 1000, t0)
	if err != nil || rec.FeeAmount != 0 || rec.UserAmount != 1000 {
		t.Errorf("tie payout = %+v, %v", rec, err)
	}
}

func TestRulesVerifySignatures(t *testing.T) {
	signer, err := crypto.NewSigner(operatorKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := crypto.NewVerifier(signer.Address().Hex(), 1)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRules(settlement.DefaultParams(), "", verifier)
	m := openMarket(t, r)
	if m.Authority != signer.Address().Hex() {
		t.Errorf("authority = %q", m.Authority)
	}
	m.TotalTickets, m.TotalAmount = 1, 100

	p := finalizeProposal(m, 1, 0)
	if err := r.ApplyFinalize(&m, p, m.EndTime()); !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("unsigned: err = %v", err)
	}
	p.Signature, _ = signer.SignFinalize(p)
	if err := r.ApplyFinalize(&m, p, m.EndTime()); err != nil {
		t.Fatalf("signed: %v", err)
	}

	a := domain.AccountState{ParticipantID: "alice"}
	pp := domain.PayoutProposal{ID: "x", MarketID: m.MarketID, ParticipantID: "alice", Amount: 100}
	if _, err := r.ApplyPayout(m, &a, pp, 100, t0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("unsigned payout: err = %v", err)
	}
	pp.Signature, _ = signer.SignPayout(pp)
	if _, err := r.ApplyPayout(m, &a, pp, 100, t0); err != nil {
		t.Errorf("signed payout: %v", err)
	}
}
