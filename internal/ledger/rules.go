// Package ledger contains the transition rules of the reference settlement
// ledger. The in-memory and PostgreSQL ledgers apply the same Rules so that
// both behave like the production ledger the engine proposes to.
package ledger

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

// Field limits, in bytes.
const (
	MaxTitleLen       = 64
	MaxDescriptionLen = 512
	MaxSideLen        = 32
	MaxCategoryLen    = 32
	MaxRevealedKeyLen = 64
)

var (
	ErrUserTicketLimit = fmt.Errorf("%w: participant ticket limit exceeded", domain.ErrPrecondition)
	ErrTooManyChoices  = fmt.Errorf("%w: too many choices for participant", domain.ErrPrecondition)
	ErrInvalidWinner   = fmt.Errorf("%w: winning side must be 0, 1 or 2", domain.ErrInvalidInput)
)

// Verifier checks proposal signatures. *crypto.Verifier satisfies it.
type Verifier interface {
	Authority() string
	VerifyFinalize(p domain.FinalizeProposal) error
	VerifyPayout(p domain.PayoutProposal) error
}

// Rules validates and applies ledger transitions. Apply methods mutate their
// arguments only when every check passes.
type Rules struct {
	params   settlement.Params
	treasury string
	verifier Verifier
}

// NewRules returns Rules with the given parameters. A nil verifier accepts
// unsigned proposals.
func NewRules(p settlement.Params, treasury string, v Verifier) *Rules {
	return &Rules{params: p, treasury: treasury, verifier: v}
}

// Params returns the settlement parameters the rules enforce.
func (r *Rules) Params() settlement.Params { return r.params }

// NewMarket validates spec and returns the initial state of the market.
// Missing identifiers are generated.
func (r *Rules) NewMarket(spec domain.MarketSpec, now time.Time) (domain.MarketState, error) {
	checks := []struct {
		field string
		value string
		max   int
	}{
		{"title", spec.Title, MaxTitleLen},
		{"description", spec.Description, MaxDescriptionLen},
		{"sideA", spec.SideALabel, MaxSideLen},
		{"sideB", spec.SideBLabel, MaxSideLen},
		{"category", spec.Category, MaxCategoryLen},
	}
	for _, c := range checks {
		if len(c.value) > c.max {
			return domain.MarketState{}, fmt.Errorf("%w: %s longer than %d bytes", domain.ErrInvalidInput, c.field, c.max)
		}
	}
	if spec.TicketPrice == 0 {
		return domain.MarketState{}, fmt.Errorf("%w: ticket price must be > 0", domain.ErrInvalidInput)
	}
	if spec.DurationSeconds == 0 {
		return domain.MarketState{}, fmt.Errorf("%w: duration must be > 0", domain.ErrInvalidInput)
	}
	if _, carry := bits.Add64(uint64(now.Unix()), spec.DurationSeconds, 0); carry != 0 {
		return domain.MarketState{}, domain.ErrOverflow
	}

	m := domain.MarketState{
		MarketID:        strings.TrimSpace(spec.MarketID),
		LedgerKeyID:     strings.TrimSpace(spec.LedgerKeyID),
		Title:           spec.Title,
		Description:     spec.Description,
		Category:        spec.Category,
		SideALabel:      spec.SideALabel,
		SideBLabel:      spec.SideBLabel,
		TicketPrice:     spec.TicketPrice,
		CreationTime:    now.UTC().Truncate(time.Second),
		DurationSeconds: spec.DurationSeconds,
		Treasury:        r.treasury,
	}
	if m.MarketID == "" {
		m.MarketID = uuid.NewString()
	}
	if m.LedgerKeyID == "" {
		m.LedgerKeyID = uuid.NewString()
	}
	if r.verifier != nil {
		m.Authority = r.verifier.Authority()
	}
	return m, nil
}

// UserTicketLimit returns how many tickets one participant may hold once the
// market holds marketTickets: a quarter of the market, never below the
// absolute cap.
func (r *Rules) UserTicketLimit(marketTickets uint64) uint64 {
	return max(r.params.UserTicketCap, marketTickets/4)
}

// ApplyPurchase records count tickets bought by a with the given encoded
// choice and returns the price paid.
func (r *Rules) ApplyPurchase(m *domain.MarketState, a *domain.AccountState, encoded string, count uint64, now time.Time) (uint64, error) {
	if now.After(m.EndTime()) {
		return 0, domain.ErrMarketClosed
	}
	if m.IsFinalized {
		return 0, domain.ErrAlreadyFinalized
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: ticket count must be > 0", domain.ErrInvalidInput)
	}
	if encoded == "" || len(encoded) > r.params.MaxEncodedLen {
		return 0, fmt.Errorf("%w: encoded choice must be 1..%d bytes", domain.ErrInvalidInput, r.params.MaxEncodedLen)
	}

	hi, price := bits.Mul64(m.TicketPrice, count)
	marketTickets, c1 := bits.Add64(m.TotalTickets, count, 0)
	marketAmount, c2 := bits.Add64(m.TotalAmount, price, 0)
	userTickets, c3 := bits.Add64(a.TotalTickets, count, 0)
	userAmount, c4 := bits.Add64(a.TotalAmount, price, 0)
	if hi|c1|c2|c3|c4 != 0 {
		return 0, domain.ErrOverflow
	}
	if userTickets > r.UserTicketLimit(marketTickets) {
		return 0, ErrUserTicketLimit
	}
	if len(a.Choices) >= r.params.MaxChoices {
		return 0, ErrTooManyChoices
	}

	m.TotalTickets, m.TotalAmount = marketTickets, marketAmount
	a.TotalTickets, a.TotalAmount = userTickets, userAmount
	a.Choices = append(a.Choices, domain.Choice{
		EncodedChoice: encoded,
		TicketCount:   count,
		CreatedAt:     now.UTC(),
	})
	return price, nil
}

// ApplyFinalize closes m with the proposal's totals and reveals its key.
func (r *Rules) ApplyFinalize(m *domain.MarketState, p domain.FinalizeProposal, now time.Time) error {
	if r.verifier != nil {
		if err := r.verifier.VerifyFinalize(p); err != nil {
			return err
		}
	}
	if m.IsFinalized {
		return domain.ErrAlreadyFinalized
	}
	if !m.Ended(now) {
		return domain.ErrNotEnded
	}
	if p.WinningSide > domain.SideB {
		return ErrInvalidWinner
	}

	tickets, c1 := bits.Add64(p.TotalTicketsA, p.TotalTicketsB, 0)
	amount, c2 := bits.Add64(p.TotalAmountA, p.TotalAmountB, 0)
	if c1|c2 != 0 {
		return domain.ErrOverflow
	}
	if tickets != m.TotalTickets || amount != m.TotalAmount {
		return domain.ErrInconsistentTotals
	}
	if settlement.WinningSide(p.TotalTicketsA, p.TotalTicketsB) != p.WinningSide {
		return fmt.Errorf("%w: winning side %s contradicts ticket totals", domain.ErrInconsistentTotals, p.WinningSide)
	}
	if len(p.RevealedKey) > MaxRevealedKeyLen {
		return fmt.Errorf("%w: revealed key longer than %d bytes", domain.ErrInvalidInput, MaxRevealedKeyLen)
	}

	m.TotalTicketsA, m.TotalTicketsB = p.TotalTicketsA, p.TotalTicketsB
	m.TotalAmountA, m.TotalAmountB = p.TotalAmountA, p.TotalAmountB
	m.WinningSide = p.WinningSide
	m.RevealedKey = p.RevealedKey
	m.IsFinalized = true
	m.IsRevealed = true
	return nil
}

// ApplyPayout pays the proposal out of a market treasury holding balance,
// splitting off the settlement fee unless the market tied, and marks a as
// claimed.
func (r *Rules) ApplyPayout(m domain.MarketState, a *domain.AccountState, p domain.PayoutProposal, balance uint64, now time.Time) (domain.PayoutReceipt, error) {
	if r.verifier != nil {
		if err := r.verifier.VerifyPayout(p); err != nil {
			return domain.PayoutReceipt{}, err
		}
	}
	if !m.IsFinalized {
		return domain.PayoutReceipt{}, domain.ErrNotFinalized
	}
	if a.HasClaimed {
		return domain.PayoutReceipt{}, domain.ErrAlreadyClaimed
	}
	if p.Amount == 0 {
		return domain.PayoutReceipt{}, domain.ErrZeroClaim
	}
	if balance < p.Amount {
		return domain.PayoutReceipt{}, domain.ErrInsufficientFunds
	}

	var fee uint64
	if m.WinningSide != domain.SideNone {
		fee = settlement.Fee(p.Amount, r.params.FeeBps)
	}
	a.HasClaimed = true
	return domain.PayoutReceipt{
		ProposalID:    p.ID,
		MarketID:      m.MarketID,
		ParticipantID: a.ParticipantID,
		Amount:        p.Amount,
		UserAmount:    p.Amount - fee,
		FeeAmount:     fee,
		Treasury:      m.Treasury,
		PaidAt:        now.UTC(),
	}, nil
}
