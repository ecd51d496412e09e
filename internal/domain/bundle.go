package domain

import "time"

// FinalizeBundle is the public audit record written after a market is
// finalized. With the revealed key anyone can re-run the tally.
type FinalizeBundle struct {
	Market      MarketState      `json:"market"`
	Proposal    FinalizeProposal `json:"proposal"`
	Accounts    []AccountState   `json:"accounts"`
	Skipped     int              `json:"skippedChoices"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// Object metadata stored alongside a bundle.
const (
	BundleMetaMarketID    = "market-id"
	BundleMetaWinningSide = "winning-side"
	BundleMetaSHA256      = "sha256"
)
