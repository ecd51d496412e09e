package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// ChoiceOpener opens one encoded choice. *crypto.Codec satisfies it.
type ChoiceOpener interface {
	Decode(encoded string, key []byte, expectedMarket string) (domain.ChoicePayload, error)
}

var (
	errChoiceTooLong   = errors.New("encoded choice exceeds maximum length")
	errChoiceOverLimit = errors.New("choice beyond per-participant limit")
)

// ChoiceFailure records a choice that was left out of a position.
type ChoiceFailure struct {
	ParticipantID string
	Index         int
	Err           error
}

// Position is one account with its choices resolved into per-side tickets.
// Choices that could not be opened count for neither side.
type Position struct {
	Account  domain.AccountState
	TicketsA uint64
	TicketsB uint64
	Failures []ChoiceFailure
}

// TicketsOn returns the decoded tickets on side s.
func (p Position) TicketsOn(s domain.Side) uint64 {
	switch s {
	case domain.SideA:
		return p.TicketsA
	case domain.SideB:
		return p.TicketsB
	default:
		return 0
	}
}

// Skipped returns how many choices were left out.
func (p Position) Skipped() int { return len(p.Failures) }

// Decoder turns accounts into positions with a bounded worker group.
type Decoder struct {
	opener     ChoiceOpener
	workers    int
	maxChoices int
	maxEncoded int
}

// NewDecoder returns a Decoder that opens choices with opener under p's
// limits.
func NewDecoder(opener ChoiceOpener, p Params) *Decoder {
	workers := p.DecodeWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Decoder{
		opener:     opener,
		workers:    workers,
		maxChoices: p.MaxChoices,
		maxEncoded: p.MaxEncodedLen,
	}
}

// Account resolves a single account. Decode failures are recorded on the
// position, never returned. The only error is a ticket sum that does not fit
// in 64 bits, which the ledger's checked arithmetic rules out.
func (d *Decoder) Account(key []byte, marketID string, acct domain.AccountState) (Position, error) {
	pos := Position{Account: acct}
	for i, ch := range acct.Choices {
		if ch.TicketCount == 0 {
			continue
		}
		if d.maxChoices > 0 && i >= d.maxChoices {
			pos.Failures = append(pos.Failures, ChoiceFailure{acct.ParticipantID, i, errChoiceOverLimit})
			continue
		}
		if d.maxEncoded > 0 && len(ch.EncodedChoice) > d.maxEncoded {
			pos.Failures = append(pos.Failures, ChoiceFailure{acct.ParticipantID, i, errChoiceTooLong})
			continue
		}
		payload, err := d.opener.Decode(ch.EncodedChoice, key, marketID)
		if err != nil {
			pos.Failures = append(pos.Failures, ChoiceFailure{acct.ParticipantID, i, err})
			continue
		}

		var carry uint64
		switch payload.Side {
		case domain.SideA:
			pos.TicketsA, carry = bits.Add64(pos.TicketsA, ch.TicketCount, 0)
		case domain.SideB:
			pos.TicketsB, carry = bits.Add64(pos.TicketsB, ch.TicketCount, 0)
		}
		if carry != 0 {
			return Position{}, overflowErr("tickets of " + acct.ParticipantID)
		}
	}
	return pos, nil
}

// Accounts resolves every account in parallel. The result is index-aligned
// with accounts.
func (d *Decoder) Accounts(ctx context.Context, key []byte, marketID string, accounts []domain.AccountState) ([]Position, error) {
	out := make([]Position, len(accounts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range accounts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pos, err := d.Account(key, marketID, accounts[i])
			if err != nil {
				return err
			}
			out[i] = pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("settlement: decode accounts: %w", err)
	}
	return out, nil
}

// Failures flattens the failures of all positions.
func Failures(positions []Position) []ChoiceFailure {
	var out []ChoiceFailure
	for _, p := range positions {
		out = append(out, p.Failures...)
	}
	return out
}

func overflowErr(what string) error {
	return fmt.Errorf("%w: %w: %s", domain.ErrTallyMismatch, domain.ErrOverflow, what)
}
