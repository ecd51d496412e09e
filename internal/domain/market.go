package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies one of the two sides of a market. As a winning side the
// zero value means the market ended in a tie.
type Side uint8

const (
	SideNone Side = 0
	SideA    Side = 1
	SideB    Side = 2
)

// Valid reports whether s names a real side (A or B).
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return "none"
	}
}

// ParseSide accepts "A", "a", "1" for side A and "B", "b", "2" for side B.
func ParseSide(v string) (Side, error) {
	switch strings.TrimSpace(v) {
	case "A", "a", "1":
		return SideA, nil
	case "B", "b", "2":
		return SideB, nil
	default:
		return SideNone, fmt.Errorf("%w: side must be A, B, 1 or 2", ErrInvalidInput)
	}
}

// MarketMeta is the operator-held record for one market. EncryptionKey is the
// hex-encoded 32-byte AES key and must never leave the engine before finalize.
type MarketMeta struct {
	MarketID      string    `json:"marketId"`
	LedgerKeyID   string    `json:"ledgerKeyId"`
	EncryptionKey string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MarketState is the ledger-owned view of a market.
type MarketState struct {
	MarketID        string    `json:"marketId"`
	LedgerKeyID     string    `json:"ledgerKeyId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	SideALabel      string    `json:"sideA"`
	SideBLabel      string    `json:"sideB"`
	TicketPrice     uint64    `json:"ticketPrice"`
	CreationTime    time.Time `json:"creationTime"`
	DurationSeconds uint64    `json:"durationSeconds"`
	Authority       string    `json:"authority,omitempty"`
	Treasury        string    `json:"treasury,omitempty"`

	TotalTickets  uint64 `json:"totalTickets"`
	TotalAmount   uint64 `json:"totalAmount"`
	TotalTicketsA uint64 `json:"totalTicketsSideA"`
	TotalTicketsB uint64 `json:"totalTicketsSideB"`
	TotalAmountA  uint64 `json:"totalAmountSideA"`
	TotalAmountB  uint64 `json:"totalAmountSideB"`

	IsFinalized bool   `json:"isFinalized"`
	IsRevealed  bool   `json:"isRevealed"`
	WinningSide Side   `json:"winningSide"`
	RevealedKey string `json:"revealedKey,omitempty"`
}

// EndTime is creation time plus duration.
func (m MarketState) EndTime() time.Time {
	return m.CreationTime.Add(time.Duration(m.DurationSeconds) * time.Second)
}

// Ended reports whether now is at or past the market's end time.
func (m MarketState) Ended(now time.Time) bool {
	return !now.Before(m.EndTime())
}

// IsTie reports whether a finalized market ended with equal ticket counts.
func (m MarketState) IsTie() bool {
	return m.IsFinalized && m.WinningSide == SideNone
}

// WinningTickets returns the recorded ticket total of the winning side, or
// zero for a tie.
func (m MarketState) WinningTickets() uint64 {
	switch m.WinningSide {
	case SideA:
		return m.TotalTicketsA
	case SideB:
		return m.TotalTicketsB
	default:
		return 0
	}
}

// WinningAmount returns the recorded amount staked on the winning side, or
// zero for a tie.
func (m MarketState) WinningAmount() uint64 {
	switch m.WinningSide {
	case SideA:
		return m.TotalAmountA
	case SideB:
		return m.TotalAmountB
	default:
		return 0
	}
}

// MarketSpec carries the parameters of a new ledger market.
type MarketSpec struct {
	MarketID        string `json:"marketId"`
	LedgerKeyID     string `json:"ledgerKeyId"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	SideALabel      string `json:"sideA"`
	SideBLabel      string `json:"sideB"`
	TicketPrice     uint64 `json:"ticketPrice"`
	DurationSeconds uint64 `json:"durationSeconds"`
}

// Choice is one purchase: an encoded side plus the tickets bought with it.
type Choice struct {
	EncodedChoice string    `json:"encodedChoice"`
	TicketCount   uint64    `json:"ticketCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AccountState is one participant's ledger record for one market.
type AccountState struct {
	MarketID      string   `json:"marketId"`
	ParticipantID string   `json:"participantId"`
	TotalTickets  uint64   `json:"totalTickets"`
	TotalAmount   uint64   `json:"totalAmount"`
	HasClaimed    bool     `json:"hasClaimed"`
	Choices       []Choice `json:"choices"`
}

// ChoicePayload is the sealed plaintext of a Choice.
type ChoicePayload struct {
	Side            Side   `json:"side"`
	Secret          string `json:"secret"`
	Market          string `json:"market"`
	EncodeTimestamp int64  `json:"encode_timestamp"`
}
