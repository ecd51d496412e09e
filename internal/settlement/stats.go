package settlement

import (
	"cmp"
	"fmt"
	"math/big"
	"slices"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// BuildStats computes one leaderboard row per position of the finalized
// market m, already sorted. Stakes are in price units. PnL on a winning side
// is the fee-adjusted pro-rata share of the pool minus everything the
// participant paid in; a tie is always zero.
func BuildStats(m domain.MarketState, positions []Position, feeBps uint64) ([]domain.StatsRow, error) {
	if !m.IsFinalized {
		return nil, domain.ErrNotFinalized
	}

	pool := new(big.Int).SetUint64(m.TotalAmount)
	winnerAmount := new(big.Int).SetUint64(m.WinningAmount())
	bps := new(big.Int).SetUint64(feeBps)
	denom := big.NewInt(BpsDenominator)

	rows := make([]domain.StatsRow, 0, len(positions))
	for _, p := range positions {
		stakeA, err := mulChecked(p.TicketsA, m.TicketPrice)
		if err != nil {
			return nil, err
		}
		stakeB, err := mulChecked(p.TicketsB, m.TicketPrice)
		if err != nil {
			return nil, err
		}
		row := domain.StatsRow{
			ParticipantID: p.Account.ParticipantID,
			StakeA:        stakeA,
			StakeB:        stakeB,
			TotalStake:    p.Account.TotalAmount,
			HasClaimed:    p.Account.HasClaimed,
		}

		if m.WinningSide == domain.SideNone {
			row.Outcome = domain.OutcomeTie
			rows = append(rows, row)
			continue
		}

		userStake := stakeA
		if m.WinningSide == domain.SideB {
			userStake = stakeB
		}
		total := new(big.Int).SetUint64(p.Account.TotalAmount)
		pnl := new(big.Int).Neg(total)
		if userStake > 0 && winnerAmount.Sign() > 0 {
			gross := new(big.Int).Mul(new(big.Int).SetUint64(userStake), pool)
			gross.Quo(gross, winnerAmount)
			fee := new(big.Int).Mul(gross, bps)
			fee.Quo(fee, denom)
			pnl = gross.Sub(gross, fee).Sub(gross, total)
		}
		if !pnl.IsInt64() {
			return nil, overflowErr(fmt.Sprintf("pnl of %s", row.ParticipantID))
		}
		row.PnL = pnl.Int64()

		switch {
		case row.PnL > 0:
			row.Outcome = domain.OutcomeWin
		case row.PnL < 0:
			row.Outcome = domain.OutcomeLose
		default:
			row.Outcome = domain.OutcomeNeutral
		}
		rows = append(rows, row)
	}

	SortRows(rows)
	return rows, nil
}

// SortRows orders rows by outcome rank, then PnL descending, then
// participant id ascending.
func SortRows(rows []domain.StatsRow) {
	slices.SortFunc(rows, func(a, b domain.StatsRow) int {
		if c := cmp.Compare(a.Outcome.Rank(), b.Outcome.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.PnL, a.PnL); c != 0 {
			return c
		}
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})
}

// Paginate slices sorted rows into a page. pageSize is clamped to
// 1..MaxPageSize and page to 1..TotalPages; an empty board has one page.
func Paginate(rows []domain.StatsRow, page, pageSize int) domain.StatsPage {
	pageSize = min(max(pageSize, 1), MaxPageSize)
	totalPages := max(1, (len(rows)+pageSize-1)/pageSize)
	page = min(max(page, 1), totalPages)

	start := min((page-1)*pageSize, len(rows))
	end := min(start+pageSize, len(rows))

	out := make([]domain.StatsRow, end-start)
	copy(out, rows[start:end])
	return domain.StatsPage{
		Rows:       out,
		Page:       page,
		PageSize:   pageSize,
		TotalRows:  len(rows),
		TotalPages: totalPages,
	}
}
