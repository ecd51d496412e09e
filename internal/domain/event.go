package domain

import "time"

// Settlement event types, also used as notification event names.
const (
	EventMarketFinalized = "market_finalized"
	EventClaimPaid       = "claim_paid"
	EventTallyMismatch   = "tally_mismatch"
	EventMetaRegistered  = "meta_registered"
)

// SettlementChannelPrefix prefixes every pub/sub channel carrying settlement
// events; the full channel is prefix + event type.
const SettlementChannelPrefix = "settlement:"

// SettlementStream is the durable stream mirroring all settlement events.
const SettlementStream = "stream:settlement"

// SettlementEvent is broadcast after a settlement state change.
type SettlementEvent struct {
	Type          string         `json:"type"`
	MarketID      string         `json:"marketId"`
	ParticipantID string         `json:"participantId,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	At            time.Time      `json:"at"`
}
