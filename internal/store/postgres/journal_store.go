package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL. The journal
// is append-only; rows are never updated, only archived and pruned.
type JournalStore struct {
	pool *pgxpool.Pool
}

var _ domain.JournalStore = (*JournalStore)(nil)

// NewJournalStore creates a JournalStore on the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Record appends one journal entry.
func (s *JournalStore) Record(ctx context.Context, e domain.JournalEntry) error {
	const query = `
		INSERT INTO journal (
			id, account, symbol, event, side,
			quantity, price, notional, pnl, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Account, e.Symbol, string(e.Event), string(e.Side),
		e.Quantity, e.Price, e.Notional, e.PnL, e.Reason, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record journal entry %s: %w", e.ID, err)
	}
	return nil
}

// ListBefore returns all journal entries older than the cutoff, oldest
// first. The archiver consumes this to build cold-storage batches.
func (s *JournalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.JournalEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, symbol, event, side,
		       quantity, price, notional, pnl, reason, created_at
		FROM journal WHERE created_at < $1
		ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var event, side string
		if err := rows.Scan(
			&e.ID, &e.Account, &e.Symbol, &event, &side,
			&e.Quantity, &e.Price, &e.Notional, &e.PnL, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan journal row: %w", err)
		}
		e.Event = domain.JournalEvent(event)
		e.Side = domain.OrderSide(side)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate journal rows: %w", err)
	}
	return entries, nil
}

// DeleteBefore prunes journal rows older than the cutoff after they have
// been archived. Returns the number of rows removed.
func (s *JournalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM journal WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete journal before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
