// Package settlement holds the pure decision logic of the sealed-choice
// engine: reconstructing positions from encoded choices, tallying a market
// for finalize, computing claims and building the post-settlement
// leaderboard. Nothing in this package talks to a ledger or a store.
package settlement

import (
	"errors"
	"fmt"
)

// BpsDenominator is the number of basis points in one whole.
const BpsDenominator = 10_000

// Params are the fixed settlement parameters shared by the engine and the
// reference ledgers.
type Params struct {
	FeeBps        uint64
	UserTicketCap uint64
	MaxChoices    int
	MaxEncodedLen int
	DecodeWorkers int
}

// DefaultParams returns the production parameters.
func DefaultParams() Params {
	return Params{
		FeeBps:        500,
		UserTicketCap: 100,
		MaxChoices:    32,
		MaxEncodedLen: 256,
		DecodeWorkers: 8,
	}
}

// Validate reports every out-of-range parameter at once.
func (p Params) Validate() error {
	var errs []error
	if p.FeeBps > BpsDenominator {
		errs = append(errs, fmt.Errorf("fee_bps must be <= %d, got %d", BpsDenominator, p.FeeBps))
	}
	if p.UserTicketCap == 0 {
		errs = append(errs, errors.New("user_ticket_cap must be > 0"))
	}
	if p.MaxChoices <= 0 {
		errs = append(errs, errors.New("max_choices must be > 0"))
	}
	if p.MaxEncodedLen <= 0 {
		errs = append(errs, errors.New("max_encoded_len must be > 0"))
	}
	if p.DecodeWorkers <= 0 {
		errs = append(errs, errors.New("decode_workers must be > 0"))
	}
	return errors.Join(errs...)
}
