package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL. Writes
// upsert on (account, symbol) so repeated saves of the same position are
// harmless.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

var _ domain.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a CheckpointStore on the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// SavePosition inserts or replaces the checkpoint row for a position.
func (s *CheckpointStore) SavePosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account, symbol, quantity, entry_price, entry_time,
			stop_loss, take_profit, trailing_high, orphaned, urgent_recheck, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (account, symbol) DO UPDATE SET
			quantity       = EXCLUDED.quantity,
			entry_price    = EXCLUDED.entry_price,
			entry_time     = EXCLUDED.entry_time,
			stop_loss      = EXCLUDED.stop_loss,
			take_profit    = EXCLUDED.take_profit,
			trailing_high  = EXCLUDED.trailing_high,
			orphaned       = EXCLUDED.orphaned,
			urgent_recheck = EXCLUDED.urgent_recheck,
			updated_at     = NOW()`

	var entryTime any
	if !p.EntryTime.IsZero() {
		entryTime = p.EntryTime
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Account, p.Symbol, p.Quantity, p.EntryPrice, entryTime,
		p.StopLoss, p.TakeProfit, p.TrailingHigh, p.Orphaned, p.UrgentRecheck,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s/%s: %w", p.Account, p.Symbol, err)
	}
	return nil
}

// DeletePosition removes the checkpoint row for a closed position. Deleting
// a missing row is not an error; the close already happened.
func (s *CheckpointStore) DeletePosition(ctx context.Context, account, symbol string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM positions WHERE account = $1 AND symbol = $2", account, symbol)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", account, symbol, err)
	}
	return nil
}

// LoadOpen returns every checkpointed position for an account. Rows with a
// NULL entry time load with a zero EntryTime; the risk store marks those
// orphaned.
func (s *CheckpointStore) LoadOpen(ctx context.Context, account string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, quantity, entry_price, entry_time,
		       stop_loss, take_profit, trailing_high, orphaned, urgent_recheck
		FROM positions WHERE account = $1
		ORDER BY entry_time NULLS FIRST`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions for %s: %w", account, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p := domain.Position{Account: account}
		var entryTime sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &entryTime,
			&p.StopLoss, &p.TakeProfit, &p.TrailingHigh, &p.Orphaned, &p.UrgentRecheck,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position row: %w", err)
		}
		if entryTime.Valid {
			p.EntryTime = entryTime.Time
		} else {
			p.EntryTime = time.Time{}
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate position rows: %w", err)
	}
	return positions, nil
}
