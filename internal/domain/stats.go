package domain

// Outcome classifies a participant's result in a finalized market.
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeTie     Outcome = "TIE"
	OutcomeNeutral Outcome = "NEUTRAL"
	OutcomeLose    Outcome = "LOSE"
)

// Rank orders outcomes for leaderboards: WIN, TIE, NEUTRAL, LOSE.
func (o Outcome) Rank() int {
	switch o {
	case OutcomeWin:
		return 0
	case OutcomeTie:
		return 1
	case OutcomeNeutral:
		return 2
	default:
		return 3
	}
}

// StatsRow is one participant's line on the settlement leaderboard.
type StatsRow struct {
	ParticipantID string  `json:"participantId"`
	StakeA        uint64  `json:"stakeA"`
	StakeB        uint64  `json:"stakeB"`
	TotalStake    uint64  `json:"totalStakeUnits"`
	PnL           int64   `json:"pnlUnits"`
	Outcome       Outcome `json:"outcome"`
	HasClaimed    bool    `json:"hasClaimed"`
}

// StatsPage is one page of ranked rows with pagination metadata.
type StatsPage struct {
	Rows       []StatsRow `json:"rows"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalRows  int        `json:"totalRows"`
	TotalPages int        `json:"totalPages"`
}
