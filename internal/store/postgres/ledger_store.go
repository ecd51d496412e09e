package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/ledger"
)

// Transfer kinds recorded in ledger_transfers.
const (
	transferPurchase = "purchase"
	transferPayout   = "payout"
	transferFee      = "fee"
)

// LedgerStore is the reference settlement ledger on PostgreSQL. Every
// transition locks the market row, applies ledger.Rules and writes back with
// a guarded UPDATE, so the finalize and claim flags flip at most once even
// across processes.
type LedgerStore struct {
	pool  *pgxpool.Pool
	rules *ledger.Rules
	now   func() time.Time
}

// NewLedgerStore creates a ledger enforcing rules.
func NewLedgerStore(pool *pgxpool.Pool, rules *ledger.Rules) *LedgerStore {
	return &LedgerStore{pool: pool, rules: rules, now: time.Now}
}

const ledgerMarketCols = `market_id, ledger_key_id, title, description, category, side_a, side_b,
	ticket_price, creation_time, duration_seconds, authority, treasury,
	total_tickets, total_amount, total_tickets_a, total_tickets_b, total_amount_a, total_amount_b,
	is_finalized, is_revealed, winning_side, revealed_key`

func scanLedgerMarket(row pgx.Row, extra ...any) (domain.MarketState, error) {
	var (
		m    domain.MarketState
		side int16
	)
	dest := []any{
		&m.MarketID, &m.LedgerKeyID, &m.Title, &m.Description, &m.Category, &m.SideALabel, &m.SideBLabel,
		&m.TicketPrice, &m.CreationTime, &m.DurationSeconds, &m.Authority, &m.Treasury,
		&m.TotalTickets, &m.TotalAmount, &m.TotalTicketsA, &m.TotalTicketsB, &m.TotalAmountA, &m.TotalAmountB,
		&m.IsFinalized, &m.IsRevealed, &side, &m.RevealedKey,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.MarketState{}, err
	}
	m.WinningSide = domain.Side(side)
	return m, nil
}

// CreateMarket opens a new market.
func (s *LedgerStore) CreateMarket(ctx context.Context, spec domain.MarketSpec) (domain.MarketState, error) {
	m, err := s.rules.NewMarket(spec, s.now())
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("postgres: create market: %w", err)
	}

	const query = `
		INSERT INTO ledger_markets (
			market_id, ledger_key_id, title, description, category, side_a, side_b,
			ticket_price, creation_time, duration_seconds, end_time, authority, treasury
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		m.MarketID, m.LedgerKeyID, m.Title, m.Description, m.Category, m.SideALabel, m.SideBLabel,
		m.TicketPrice, m.CreationTime, m.DurationSeconds, m.EndTime(), m.Authority, m.Treasury,
	)
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("postgres: create market %s: %w", m.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.MarketState{}, fmt.Errorf("postgres: market %s: %w", m.MarketID, domain.ErrAlreadyExists)
	}
	return m, nil
}

// BuyTickets appends a choice to the participant's account.
func (s *LedgerStore) BuyTickets(ctx context.Context, marketRef, participantID, encodedChoice string, count uint64) (domain.AccountState, error) {
	if participantID == "" {
		return domain.AccountState{}, fmt.Errorf("postgres: buy tickets: %w: participant id is required", domain.ErrInvalidInput)
	}

	var acct domain.AccountState
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var balance uint64
		m, err := scanLedgerMarket(tx.QueryRow(ctx,
			`SELECT `+ledgerMarketCols+`, balance FROM ledger_markets
			 WHERE market_id = $1 OR ledger_key_id = $1 FOR UPDATE`, marketRef), &balance)
		if err != nil {
			return notFound(err, domain.ErrNotFound)
		}

		acct, err = loadAccount(ctx, tx, m.MarketID, participantID)
		if errors.Is(err, domain.ErrNoAccount) {
			acct = domain.AccountState{MarketID: m.MarketID, ParticipantID: participantID}
		} else if err != nil {
			return err
		}

		price, err := s.rules.ApplyPurchase(&m, &acct, encodedChoice, count, s.now())
		if err != nil {
			return err
		}
		choice := acct.Choices[len(acct.Choices)-1]

		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO ledger_accounts (market_id, participant_id, total_tickets, total_amount)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (market_id, participant_id) DO UPDATE SET
				total_tickets = EXCLUDED.total_tickets,
				total_amount  = EXCLUDED.total_amount`,
			m.MarketID, participantID, acct.TotalTickets, acct.TotalAmount)
		batch.Queue(`
			INSERT INTO ledger_choices (market_id, participant_id, idx, encoded_choice, ticket_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.MarketID, participantID, len(acct.Choices)-1, choice.EncodedChoice, choice.TicketCount, choice.CreatedAt)
		batch.Queue(`
			UPDATE ledger_markets SET total_tickets = $2, total_amount = $3, balance = $4
			WHERE market_id = $1`,
			m.MarketID, m.TotalTickets, m.TotalAmount, balance+price)
		batch.Queue(`
			INSERT INTO ledger_transfers (market_id, kind, participant_id, amount)
			VALUES ($1, $2, $3, $4)`,
			m.MarketID, transferPurchase, participantID, price)
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: buy tickets %s/%s: %w", marketRef, participantID, err)
	}
	return acct, nil
}

// GetMarket returns a market by market id or ledger key id.
func (s *LedgerStore) GetMarket(ctx context.Context, ref string) (domain.MarketState, error) {
	m, err := scanLedgerMarket(s.pool.QueryRow(ctx,
		`SELECT `+ledgerMarketCols+` FROM ledger_markets WHERE market_id = $1 OR ledger_key_id = $1`, ref))
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("postgres: get market %s: %w", ref, notFound(err, domain.ErrNotFound))
	}
	return m, nil
}

// GetAccount returns one participant's account with its choices.
func (s *LedgerStore) GetAccount(ctx context.Context, marketRef, participantID string) (domain.AccountState, error) {
	m, err := s.GetMarket(ctx, marketRef)
	if err != nil {
		return domain.AccountState{}, err
	}
	acct, err := loadAccount(ctx, s.pool, m.MarketID, participantID)
	if err != nil {
		if errors.Is(err, domain.ErrNoAccount) {
			return domain.AccountState{}, err
		}
		return domain.AccountState{}, fmt.Errorf("postgres: get account %s/%s: %w", m.MarketID, participantID, err)
	}
	return acct, nil
}

// ListAccounts returns every account of a market ordered by participant id.
func (s *LedgerStore) ListAccounts(ctx context.Context, marketRef string) ([]domain.AccountState, error) {
	m, err := s.GetMarket(ctx, marketRef)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT participant_id, total_tickets, total_amount, has_claimed
		FROM ledger_accounts WHERE market_id = $1 ORDER BY participant_id`, m.MarketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts %s: %w", m.MarketID, err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AccountState, error) {
		a := domain.AccountState{MarketID: m.MarketID}
		err := row.Scan(&a.ParticipantID, &a.TotalTickets, &a.TotalAmount, &a.HasClaimed)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan accounts %s: %w", m.MarketID, err)
	}

	index := make(map[string]int, len(accounts))
	for i, a := range accounts {
		index[a.ParticipantID] = i
	}
	crow, err := s.pool.Query(ctx, `
		SELECT participant_id, encoded_choice, ticket_count, created_at
		FROM ledger_choices WHERE market_id = $1 ORDER BY participant_id, idx`, m.MarketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list choices %s: %w", m.MarketID, err)
	}
	defer crow.Close()
	for crow.Next() {
		var (
			pid string
			c   domain.Choice
		)
		if err := crow.Scan(&pid, &c.EncodedChoice, &c.TicketCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan choice: %w", err)
		}
		if i, ok := index[pid]; ok {
			accounts[i].Choices = append(accounts[i].Choices, c)
		}
	}
	if err := crow.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list choices rows: %w", err)
	}
	return accounts, nil
}

// ListPendingFinalize returns ended, unfinalized markets with tickets after
// the cursor. The zero cursor (year 1, empty id) sorts before every row.
func (s *LedgerStore) ListPendingFinalize(ctx context.Context, now time.Time, after domain.PendingCursor, limit int) ([]domain.MarketState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerMarketCols+` FROM ledger_markets
		WHERE is_finalized = FALSE AND total_tickets > 0 AND end_time <= $1
		  AND (end_time, market_id) > ($2, $3)
		ORDER BY end_time, market_id
		LIMIT $4`, now, after.EndTime, after.MarketID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending finalize: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MarketState, error) {
		return scanLedgerMarket(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending finalize: %w", err)
	}
	return markets, nil
}

// SubmitFinalize applies a finalize proposal.
func (s *LedgerStore) SubmitFinalize(ctx context.Context, p domain.FinalizeProposal) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		m, err := scanLedgerMarket(tx.QueryRow(ctx,
			`SELECT `+ledgerMarketCols+` FROM ledger_markets WHERE market_id = $1 FOR UPDATE`, p.MarketID))
		if err != nil {
			return notFound(err, domain.ErrNotFound)
		}
		if err := s.rules.ApplyFinalize(&m, p, s.now()); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE ledger_markets SET
				total_tickets_a = $2, total_tickets_b = $3,
				total_amount_a  = $4, total_amount_b  = $5,
				winning_side = $6, revealed_key = $7,
				is_finalized = TRUE, is_revealed = TRUE
			WHERE market_id = $1 AND is_finalized = FALSE`,
			m.MarketID, m.TotalTicketsA, m.TotalTicketsB, m.TotalAmountA, m.TotalAmountB,
			int16(m.WinningSide), m.RevealedKey)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyFinalized
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: finalize %s: %w", p.MarketID, err)
	}
	return nil
}

// SubmitPayout applies a payout proposal, debits the market balance and
// records the participant and fee transfers.
func (s *LedgerStore) SubmitPayout(ctx context.Context, p domain.PayoutProposal) (domain.PayoutReceipt, error) {
	var rec domain.PayoutReceipt
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var balance uint64
		m, err := scanLedgerMarket(tx.QueryRow(ctx,
			`SELECT `+ledgerMarketCols+`, balance FROM ledger_markets WHERE market_id = $1 FOR UPDATE`, p.MarketID), &balance)
		if err != nil {
			return notFound(err, domain.ErrNotFound)
		}

		a := domain.AccountState{MarketID: m.MarketID, ParticipantID: p.ParticipantID}
		err = tx.QueryRow(ctx, `
			SELECT total_tickets, total_amount, has_claimed FROM ledger_accounts
			WHERE market_id = $1 AND participant_id = $2 FOR UPDATE`,
			m.MarketID, p.ParticipantID).Scan(&a.TotalTickets, &a.TotalAmount, &a.HasClaimed)
		if err != nil {
			return notFound(err, domain.ErrNoAccount)
		}

		rec, err = s.rules.ApplyPayout(m, &a, p, balance, s.now())
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE ledger_accounts SET has_claimed = TRUE
			WHERE market_id = $1 AND participant_id = $2 AND has_claimed = FALSE`,
			m.MarketID, p.ParticipantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyClaimed
		}

		batch := &pgx.Batch{}
		batch.Queue(`UPDATE ledger_markets SET balance = balance - $2 WHERE market_id = $1`, m.MarketID, rec.Amount)
		batch.Queue(`
			INSERT INTO ledger_transfers (market_id, kind, participant_id, amount, proposal_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.MarketID, transferPayout, p.ParticipantID, rec.UserAmount, p.ID, rec.PaidAt)
		if rec.FeeAmount > 0 {
			batch.Queue(`
				INSERT INTO ledger_transfers (market_id, kind, participant_id, destination, amount, proposal_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.MarketID, transferFee, p.ParticipantID, rec.Treasury, rec.FeeAmount, p.ID, rec.PaidAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("postgres: payout %s/%s: %w", p.MarketID, p.ParticipantID, err)
	}
	return rec, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadAccount(ctx context.Context, q querier, marketID, participantID string) (domain.AccountState, error) {
	a := domain.AccountState{MarketID: marketID, ParticipantID: participantID}
	err := q.QueryRow(ctx, `
		SELECT total_tickets, total_amount, has_claimed FROM ledger_accounts
		WHERE market_id = $1 AND participant_id = $2`,
		marketID, participantID).Scan(&a.TotalTickets, &a.TotalAmount, &a.HasClaimed)
	if err != nil {
		return domain.AccountState{}, notFound(err, domain.ErrNoAccount)
	}

	rows, err := q.Query(ctx, `
		SELECT encoded_choice, ticket_count, created_at FROM ledger_choices
		WHERE market_id = $1 AND participant_id = $2 ORDER BY idx`, marketID, participantID)
	if err != nil {
		return domain.AccountState{}, err
	}
	a.Choices, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Choice, error) {
		var c domain.Choice
		err := row.Scan(&c.EncodedChoice, &c.TicketCount, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return domain.AccountState{}, err
	}
	return a, nil
}

// notFound maps pgx.ErrNoRows to sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
