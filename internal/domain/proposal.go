package domain

import "time"

// FinalizeProposal asks the ledger to close a market with the given tally
// and to publish the market's encryption key.
type FinalizeProposal struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"marketId"`
	LedgerKeyID   string    `json:"ledgerKeyId"`
	TotalTicketsA uint64    `json:"totalTicketsSideA"`
	TotalTicketsB uint64    `json:"totalTicketsSideB"`
	TotalAmountA  uint64    `json:"totalAmountSideA"`
	TotalAmountB  uint64    `json:"totalAmountSideB"`
	WinningSide   Side      `json:"winningSide"`
	RevealedKey   string    `json:"revealedKey"`
	ProposedAt    time.Time `json:"proposedAt"`
	Signature     string    `json:"signature,omitempty"`
}

// PayoutProposal asks the ledger to pay Amount to a participant, provided the
// participant has not claimed yet. The ledger deducts the settlement fee.
type PayoutProposal struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"marketId"`
	LedgerKeyID   string    `json:"ledgerKeyId"`
	ParticipantID string    `json:"participantId"`
	Amount        uint64    `json:"amount"`
	ProposedAt    time.Time `json:"proposedAt"`
	Signature     string    `json:"signature,omitempty"`
}

// PayoutReceipt is the ledger's record of an accepted payout.
type PayoutReceipt struct {
	ProposalID    string    `json:"proposalId"`
	MarketID      string    `json:"marketId"`
	ParticipantID string    `json:"participantId"`
	Amount        uint64    `json:"amount"`
	UserAmount    uint64    `json:"userAmount"`
	FeeAmount     uint64    `json:"feeAmount"`
	Treasury      string    `json:"treasury,omitempty"`
	PaidAt        time.Time `json:"paidAt"`
}
