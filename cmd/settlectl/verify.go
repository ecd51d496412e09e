package main

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

// verifyReport is what verify prints for a bundle that checks out.
type verifyReport struct {
	MarketID         string      `json:"marketId"`
	WinningSide      domain.Side `json:"winningSide"`
	IsTie            bool        `json:"isTie"`
	TicketsA         uint64      `json:"ticketsA"`
	TicketsB         uint64      `json:"ticketsB"`
	AmountA          uint64      `json:"amountA"`
	AmountB          uint64      `json:"amountB"`
	Accounts         int         `json:"accounts"`
	Skipped          int         `json:"skippedChoices"`
	SignatureChecked bool        `json:"signatureChecked"`
}

// verifyBundle decodes every choice in b with its revealed key, tallies the
// market as of its end time and compares the result with the proposal the
// ledger accepted.
func verifyBundle(ctx context.Context, b domain.FinalizeBundle, params settlement.Params) (verifyReport, error) {
	revealed := b.Proposal.RevealedKey
	if revealed == "" {
		revealed = b.Market.RevealedKey
	}
	key, err := crypto.ParseMarketKey(revealed)
	if err != nil {
		return verifyReport{}, fmt.Errorf("verify: revealed key: %w", err)
	}

	positions, err := settlement.NewDecoder(crypto.NewCodec(), params).
		Accounts(ctx, key, b.Market.MarketID, b.Accounts)
	if err != nil {
		return verifyReport{}, fmt.Errorf("verify: %w", err)
	}

	// Tally as the engine saw the market just before finalize.
	m := b.Market
	m.IsFinalized, m.IsRevealed = false, false
	dec, err := settlement.Tally(m, positions, m.EndTime())
	if err != nil {
		return verifyReport{}, fmt.Errorf("verify: %w", err)
	}

	p := b.Proposal
	if dec.TicketsA != p.TotalTicketsA || dec.TicketsB != p.TotalTicketsB ||
		dec.AmountA != p.TotalAmountA || dec.AmountB != p.TotalAmountB ||
		dec.WinningSide != p.WinningSide {
		return verifyReport{}, fmt.Errorf("verify: %w: recomputed A=%d/%d B=%d/%d winner=%s, proposal A=%d/%d B=%d/%d winner=%s",
			domain.ErrTallyMismatch,
			dec.TicketsA, dec.AmountA, dec.TicketsB, dec.AmountB, dec.WinningSide,
			p.TotalTicketsA, p.TotalAmountA, p.TotalTicketsB, p.TotalAmountB, p.WinningSide)
	}

	return verifyReport{
		MarketID:    m.MarketID,
		WinningSide: dec.WinningSide,
		IsTie:       dec.IsTie(),
		TicketsA:    dec.TicketsA,
		TicketsB:    dec.TicketsB,
		AmountA:     dec.AmountA,
		AmountB:     dec.AmountB,
		Accounts:    len(b.Accounts),
		Skipped:     dec.Skipped,
	}, nil
}
