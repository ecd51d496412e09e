package settlement

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

func TestStatsFeeAdjustedPnL(t *testing.T) {
	m, positions := settled(t,
		account("m1", "x", pick(t, "m1", domain.SideA, 15)),
		account("m1", "y", pick(t, "m1", domain.SideB, 5)),
	)

	rows, err := BuildStats(m, positions, 500)
	if err != nil {
		t.Fatalf("BuildStats: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}

	// gross 200M, fee 10M, net 190M, paid in 150M.
	x := rows[0]
	if x.ParticipantID != "x" || x.PnL != 40_000_000 || x.Outcome != domain.OutcomeWin {
		t.Errorf("x = %+v", x)
	}
	if x.StakeA != 150_000_000 || x.StakeB != 0 || x.TotalStake != 150_000_000 {
		t.Errorf("x stakes = %+v", x)
	}

	y := rows[1]
	if y.ParticipantID != "y" || y.PnL != -50_000_000 || y.Outcome != domain.OutcomeLose {
		t.Errorf("y = %+v", y)
	}
}

func TestStatsTieIsZero(t *testing.T) {
	m, positions := settled(t,
		account("m1", "b", pick(t, "m1", domain.SideA, 2)),
		account("m1", "a", pick(t, "m1", domain.SideB, 2)),
	)
	rows, err := BuildStats(m, positions, 500)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.PnL != 0 || r.Outcome != domain.OutcomeTie {
			t.Errorf("row = %+v", r)
		}
	}
	if rows[0].ParticipantID != "a" {
		t.Errorf("ties should order by participant id, got %s first", rows[0].ParticipantID)
	}
}

func TestStatsNeutralAndHedged(t *testing.T) {
	// w wins big, h hedges both sides, l loses.
	m, positions := settled(t,
		account("m1", "w", pick(t, "m1", domain.SideA, 10)),
		account("m1", "h", pick(t, "m1", domain.SideA, 1), pick(t, "m1", domain.SideB, 1)),
		account("m1", "l", pick(t, "m1", domain.SideB, 5)),
	)
	rows, err := BuildStats(m, positions, 500)
	if err != nil {
		t.Fatal(err)
	}
	order := []string{rows[0].ParticipantID, rows[1].ParticipantID, rows[2].ParticipantID}
	if order[0] != "w" || order[2] != "l" {
		t.Errorf("order = %v", order)
	}
	h := rows[1]
	if h.StakeA != testPrice || h.StakeB != testPrice || h.TotalStake != 2*testPrice {
		t.Errorf("hedged stakes = %+v", h)
	}
	// pool 170M, winners 110M: gross = 10M*170/110 = 15454545, fee 772727, net 14681818.
	if h.PnL != 14_681_818-20_000_000 || h.Outcome != domain.OutcomeLose {
		t.Errorf("hedged = %+v", h)
	}
}

func TestStatsRequiresFinalized(t *testing.T) {
	x := account("m1", "x", pick(t, "m1", domain.SideA, 1))
	if _, err := BuildStats(ledgerMarket("m1", x), decodeAll(t, "m1", x), 500); !errors.Is(err, domain.ErrNotFinalized) {
		t.Errorf("err = %v, want ErrNotFinalized", err)
	}
}

func TestSortRows(t *testing.T) {
	rows := []domain.StatsRow{
		{ParticipantID: "d", Outcome: domain.OutcomeLose, PnL: -5},
		{ParticipantID: "c", Outcome: domain.OutcomeNeutral},
		{ParticipantID: "b", Outcome: domain.OutcomeWin, PnL: 5},
		{ParticipantID: "a", Outcome: domain.OutcomeWin, PnL: 5},
		{ParticipantID: "e", Outcome: domain.OutcomeWin, PnL: 9},
		{ParticipantID: "f", Outcome: domain.OutcomeLose, PnL: -1},
	}
	SortRows(rows)

	want := []string{"e", "a", "b", "c", "f", "d"}
	for i, id := range want {
		if rows[i].ParticipantID != id {
			t.Fatalf("position %d = %s, want %s", i, rows[i].ParticipantID, id)
		}
	}
}

func TestPaginate(t *testing.T) {
	rows := make([]domain.StatsRow, 45)
	for i := range rows {
		rows[i].ParticipantID = string(rune('A' + i))
	}

	tests := []struct {
		name              string
		page, size        int
		wantPage, wantLen int
		wantSize, wantTot int
	}{
		{"first page", 1, 20, 1, 20, 20, 3},
		{"last partial", 3, 20, 3, 5, 20, 3},
		{"page past end clamps", 9, 20, 3, 5, 20, 3},
		{"page zero clamps", 0, 20, 1, 20, 20, 3},
		{"size zero clamps to one", 2, 0, 2, 1, 1, 45},
		{"size above max", 1, 500, 1, 45, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(rows, tt.page, tt.size)
			if p.Page != tt.wantPage || len(p.Rows) != tt.wantLen || p.PageSize != tt.wantSize || p.TotalPages != tt.wantTot {
				t.Errorf("got page=%d len=%d size=%d pages=%d", p.Page, len(p.Rows), p.PageSize, p.TotalPages)
			}
			if p.TotalRows != 45 {
				t.Errorf("total rows = %d", p.TotalRows)
			}
		})
	}

	if got := Paginate(rows, 3, 20).Rows[0].ParticipantID; got != rows[40].ParticipantID {
		t.Errorf("page 3 starts at %s", got)
	}

	empty := Paginate(nil, 4, 20)
	if empty.Page != 1 || empty.TotalPages != 1 || empty.Rows == nil || len(empty.Rows) != 0 {
		t.Errorf("empty = %+v", empty)
	}
}
