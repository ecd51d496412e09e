package settlement

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// FinalizeDecision is the outcome of tallying a market: reconstructed side
// totals and the winning side they imply.
type FinalizeDecision struct {
	MarketID    string
	TicketsA    uint64
	TicketsB    uint64
	AmountA     uint64
	AmountB     uint64
	WinningSide domain.Side
	Skipped     int
}

// IsTie reports whether both sides hold the same number of tickets.
func (d FinalizeDecision) IsTie() bool { return d.WinningSide == domain.SideNone }

// TotalTickets returns TicketsA + TicketsB.
func (d FinalizeDecision) TotalTickets() uint64 { return d.TicketsA + d.TicketsB }

// TotalAmount returns AmountA + AmountB.
func (d FinalizeDecision) TotalAmount() uint64 { return d.AmountA + d.AmountB }

// Proposal converts the decision into a ledger proposal that reveals key.
func (d FinalizeDecision) Proposal(id, ledgerKeyID, revealedKey string, at time.Time) domain.FinalizeProposal {
	return domain.FinalizeProposal{
		ID:            id,
		MarketID:      d.MarketID,
		LedgerKeyID:   ledgerKeyID,
		TotalTicketsA: d.TicketsA,
		TotalTicketsB: d.TicketsB,
		TotalAmountA:  d.AmountA,
		TotalAmountB:  d.AmountB,
		WinningSide:   d.WinningSide,
		RevealedKey:   revealedKey,
		ProposedAt:    at,
	}
}

// WinningSide returns the side with strictly more tickets, or SideNone on a
// tie.
func WinningSide(ticketsA, ticketsB uint64) domain.Side {
	switch {
	case ticketsA > ticketsB:
		return domain.SideA
	case ticketsB > ticketsA:
		return domain.SideB
	default:
		return domain.SideNone
	}
}

// CheckFinalizable returns the first unmet finalize precondition.
func CheckFinalizable(m domain.MarketState, now time.Time) error {
	switch {
	case m.IsFinalized:
		return domain.ErrAlreadyFinalized
	case !m.Ended(now):
		return domain.ErrNotEnded
	case m.TotalTickets == 0:
		return domain.ErrNoTickets
	case m.TotalAmount == 0:
		return domain.ErrEmptyPool
	}
	return nil
}

// Tally sums the decoded positions of m and cross-checks them against the
// ledger's recorded totals. Any difference is a fatal ErrTallyMismatch; the
// returned decision still carries the reconstructed figures for reporting.
func Tally(m domain.MarketState, positions []Position, now time.Time) (FinalizeDecision, error) {
	if err := CheckFinalizable(m, now); err != nil {
		return FinalizeDecision{}, err
	}

	dec := FinalizeDecision{MarketID: m.MarketID}
	var carry uint64
	for _, p := range positions {
		var ca, cb uint64
		dec.TicketsA, ca = bits.Add64(dec.TicketsA, p.TicketsA, 0)
		dec.TicketsB, cb = bits.Add64(dec.TicketsB, p.TicketsB, 0)
		carry |= ca | cb
		dec.Skipped += p.Skipped()
	}
	if carry != 0 {
		return dec, overflowErr("side ticket totals")
	}

	var err error
	if dec.AmountA, err = mulChecked(dec.TicketsA, m.TicketPrice); err != nil {
		return dec, err
	}
	if dec.AmountB, err = mulChecked(dec.TicketsB, m.TicketPrice); err != nil {
		return dec, err
	}

	sumTickets, c1 := bits.Add64(dec.TicketsA, dec.TicketsB, 0)
	sumAmount, c2 := bits.Add64(dec.AmountA, dec.AmountB, 0)
	if c1|c2 != 0 {
		return dec, overflowErr("market totals")
	}
	dec.WinningSide = WinningSide(dec.TicketsA, dec.TicketsB)

	if sumTickets != m.TotalTickets || sumAmount != m.TotalAmount {
		return dec, fmt.Errorf("%w: decoded %d tickets / %d units, ledger recorded %d / %d (%d choices skipped)",
			domain.ErrTallyMismatch, sumTickets, sumAmount, m.TotalTickets, m.TotalAmount, dec.Skipped)
	}
	return dec, nil
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, overflowErr("tickets times price")
	}
	return lo, nil
}
