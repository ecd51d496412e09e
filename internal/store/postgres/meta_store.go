package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

const uniqueViolation = "23505"

// MetaStore implements domain.MetaStore on the market_meta table.
type MetaStore struct {
	pool *pgxpool.Pool
}

// NewMetaStore creates a new MetaStore backed by the given connection pool.
func NewMetaStore(pool *pgxpool.Pool) *MetaStore {
	return &MetaStore{pool: pool}
}

// Upsert inserts or replaces a market record. A ledger key id already bound
// to another market returns domain.ErrAlreadyExists.
func (s *MetaStore) Upsert(ctx context.Context, meta domain.MarketMeta) error {
	const query = `
		INSERT INTO market_meta (market_id, ledger_key_id, encryption_key, created_at, updated_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()), NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			ledger_key_id  = EXCLUDED.ledger_key_id,
			encryption_key = EXCLUDED.encryption_key,
			updated_at     = NOW()`

	var createdAt any
	if !meta.CreatedAt.IsZero() {
		createdAt = meta.CreatedAt
	}
	_, err := s.pool.Exec(ctx, query, meta.MarketID, meta.LedgerKeyID, meta.EncryptionKey, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: ledger key %s: %w", meta.LedgerKeyID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: upsert market meta %s: %w", meta.MarketID, err)
	}
	return nil
}

// Resolve finds a record by market id or ledger key id, preferring the
// market id.
func (s *MetaStore) Resolve(ctx context.Context, ref string) (domain.MarketMeta, error) {
	const query = `
		SELECT market_id, ledger_key_id, encryption_key, created_at
		FROM market_meta
		WHERE market_id = $1 OR ledger_key_id = $1
		ORDER BY (market_id = $1) DESC
		LIMIT 1`

	var m domain.MarketMeta
	err := s.pool.QueryRow(ctx, query, ref).Scan(&m.MarketID, &m.LedgerKeyID, &m.EncryptionKey, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketMeta{}, domain.ErrNoMeta
		}
		return domain.MarketMeta{}, fmt.Errorf("postgres: resolve market meta %s: %w", ref, err)
	}
	return m, nil
}
