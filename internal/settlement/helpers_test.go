package settlement

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

const testPrice = 10_000_000

var (
	testKey   = bytes.Repeat([]byte{0x42}, crypto.MarketKeyLen)
	testCodec = crypto.NewCodec()
	created   = time.Unix(1_700_000_000, 0)
	afterEnd  = created.Add(2 * time.Hour)
)

func pick(t *testing.T, market string, side domain.Side, count uint64) domain.Choice {
	t.Helper()
	enc, err := testCodec.Encode(side, "secret", market, testKey)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return domain.Choice{EncodedChoice: enc.Value, TicketCount: count, CreatedAt: created}
}

// corrupt flips one byte of the authentication tag.
func corrupt(t *testing.T, c domain.Choice) domain.Choice {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(c.EncodedChoice)
	if err != nil {
		t.Fatal(err)
	}
	raw[12] ^= 0xFF
	c.EncodedChoice = base64.StdEncoding.EncodeToString(raw)
	return c
}

func account(market, participant string, choices ...domain.Choice) domain.AccountState {
	a := domain.AccountState{MarketID: market, ParticipantID: participant, Choices: choices}
	for _, c := range choices {
		a.TotalTickets += c.TicketCount
		a.TotalAmount += c.TicketCount * testPrice
	}
	return a
}

// ledgerMarket records the totals a ledger would hold for accounts.
func ledgerMarket(id string, accounts ...domain.AccountState) domain.MarketState {
	m := domain.MarketState{
		MarketID:        id,
		TicketPrice:     testPrice,
		CreationTime:    created,
		DurationSeconds: 3600,
	}
	for _, a := range accounts {
		m.TotalTickets += a.TotalTickets
		m.TotalAmount += a.TotalAmount
	}
	return m
}

func finalized(m domain.MarketState, d FinalizeDecision) domain.MarketState {
	m.IsFinalized = true
	m.IsRevealed = true
	m.TotalTicketsA, m.TotalTicketsB = d.TicketsA, d.TicketsB
	m.TotalAmountA, m.TotalAmountB = d.AmountA, d.AmountB
	m.WinningSide = d.WinningSide
	return m
}

func decodeAll(t *testing.T, market string, accounts ...domain.AccountState) []Position {
	t.Helper()
	out := make([]Position, 0, len(accounts))
	d := NewDecoder(testCodec, DefaultParams())
	for _, a := range accounts {
		p, err := d.Account(testKey, market, a)
		if err != nil {
			t.Fatalf("decode %s: %v", a.ParticipantID, err)
		}
		out = append(out, p)
	}
	return out
}

func positionOf(positions []Position, participant string) *Position {
	for i := range positions {
		if positions[i].Account.ParticipantID == participant {
			return &positions[i]
		}
	}
	return nil
}
