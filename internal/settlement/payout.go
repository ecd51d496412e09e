package settlement

import (
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// ClaimDecision holds the claim figures for one participant of a finalized
// market. ClaimAmount is what the ledger is asked to pay; the ledger keeps
// FeeAmount of it for the treasury, so NetAmount is what reaches the
// participant.
type ClaimDecision struct {
	MarketID            string      `json:"marketId"`
	ParticipantID       string      `json:"participantId"`
	HasAccount          bool        `json:"-"`
	HasTickets          bool        `json:"hasTickets"`
	HasClaimed          bool        `json:"hasClaimed"`
	CanClaim            bool        `json:"canClaim"`
	IsTie               bool        `json:"isTie"`
	WinningSide         domain.Side `json:"winningSide"`
	ClaimAmount         uint64      `json:"claimAmount"`
	FeeAmount           uint64      `json:"feeAmount"`
	NetAmount           uint64      `json:"netAmount"`
	UserWinningTickets  uint64      `json:"userWinningTickets"`
	WinningTotalTickets uint64      `json:"winningTotalTickets"`
	TotalPool           uint64      `json:"totalPool"`
	Skipped             int         `json:"skippedChoices"`
}

// Fee returns floor(amount * feeBps / 10000).
func Fee(amount, feeBps uint64) uint64 {
	f := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(feeBps))
	f.Quo(f, big.NewInt(BpsDenominator))
	return f.Uint64()
}

// EvaluateClaim computes the claim of the participant behind pos in the
// finalized market m. A nil pos means the participant never bought tickets;
// that yields an empty decision, not an error. A tie refunds the
// participant's whole stake without a fee; otherwise the claim is
// floor(pool * userWinningTickets / winningTotalTickets).
func EvaluateClaim(m domain.MarketState, pos *Position, feeBps uint64) (ClaimDecision, error) {
	if !m.IsFinalized {
		return ClaimDecision{}, domain.ErrNotFinalized
	}
	if m.TotalAmount == 0 {
		return ClaimDecision{}, domain.ErrEmptyPool
	}
	if m.WinningSide != domain.SideNone && !m.WinningSide.Valid() {
		return ClaimDecision{}, fmt.Errorf("%w: ledger reports winning side %d", domain.ErrTallyMismatch, m.WinningSide)
	}

	d := ClaimDecision{
		MarketID:            m.MarketID,
		IsTie:               m.WinningSide == domain.SideNone,
		WinningSide:         m.WinningSide,
		WinningTotalTickets: m.WinningTickets(),
		TotalPool:           m.TotalAmount,
	}
	if !d.IsTie && d.WinningTotalTickets == 0 {
		return ClaimDecision{}, fmt.Errorf("%w: winning side %s has no tickets", domain.ErrTallyMismatch, m.WinningSide)
	}
	if pos == nil {
		return d, nil
	}

	acct := pos.Account
	d.ParticipantID = acct.ParticipantID
	d.HasAccount = true
	d.HasClaimed = acct.HasClaimed
	d.HasTickets = acct.TotalAmount > 0
	d.Skipped = pos.Skipped()

	if d.IsTie {
		d.ClaimAmount = acct.TotalAmount
		d.NetAmount = d.ClaimAmount
	} else {
		d.UserWinningTickets = pos.TicketsOn(m.WinningSide)
		if d.UserWinningTickets > d.WinningTotalTickets {
			return ClaimDecision{}, fmt.Errorf("%w: participant holds %d winning tickets of %d recorded",
				domain.ErrTallyMismatch, d.UserWinningTickets, d.WinningTotalTickets)
		}
		share := new(big.Int).Mul(new(big.Int).SetUint64(m.TotalAmount), new(big.Int).SetUint64(d.UserWinningTickets))
		share.Quo(share, new(big.Int).SetUint64(d.WinningTotalTickets))
		d.ClaimAmount = share.Uint64()
		d.FeeAmount = Fee(d.ClaimAmount, feeBps)
		d.NetAmount = d.ClaimAmount - d.FeeAmount
	}

	d.CanClaim = !d.HasClaimed && d.ClaimAmount > 0
	return d, nil
}

// Payable returns nil when the decision may be turned into a payout, or the
// reason it may not.
func (d ClaimDecision) Payable() error {
	switch {
	case !d.HasAccount:
		return domain.ErrNoAccount
	case d.HasClaimed:
		return domain.ErrAlreadyClaimed
	case !d.HasTickets:
		return domain.ErrNoStake
	case !d.IsTie && d.UserWinningTickets == 0:
		return domain.ErrNoWinningTickets
	case d.ClaimAmount == 0:
		return domain.ErrZeroClaim
	}
	return nil
}

// Proposal converts a payable decision into a ledger payout proposal.
func (d ClaimDecision) Proposal(id, ledgerKeyID string, at time.Time) domain.PayoutProposal {
	return domain.PayoutProposal{
		ID:            id,
		MarketID:      d.MarketID,
		LedgerKeyID:   ledgerKeyID,
		ParticipantID: d.ParticipantID,
		Amount:        d.ClaimAmount,
		ProposedAt:    at,
	}
}
