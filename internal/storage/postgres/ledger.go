package postgres

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresLedgerStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresLedgerStorage(pool *pgxpool.Pool) *PostgresLedgerStorage {
	return &PostgresLedgerStorage{pool: pool}
}

// Append writes a ledger entry inside a transaction holding a per-user
// advisory lock, so balances and the (user, reason, day) uniqueness are
// serialized at the user grain. The partial unique index on
// (user_id, reason, day) WHERE daily_unique backs the daily-once rule.
func (s *PostgresLedgerStorage) Append(ctx context.Context, e *storage.LedgerEntry, dailyUnique bool) (bool, error) {
	if e.Amount <= 0 {
		return false, storage.ErrInvalidAmount
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.UserID); err != nil {
		return false, err
	}

	var balance int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'spend' THEN -amount ELSE amount END), 0)
		FROM points_ledger
		WHERE user_id = $1
	`, e.UserID).Scan(&balance)
	if err != nil {
		return false, err
	}

	if e.Kind == storage.LedgerSpend {
		if balance < e.Amount {
			return false, storage.ErrInsufficientFunds
		}
		e.BalanceAfter = balance - e.Amount
	} else {
		e.BalanceAfter = balance + e.Amount
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO points_ledger (id, user_id, kind, amount, reason, description, related_record, balance_after, daily_unique, day, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, reason, day) WHERE daily_unique DO NOTHING
	`,
		e.ID,
		e.UserID,
		e.Kind,
		e.Amount,
		e.Reason,
		e.Description,
		e.RelatedRecord,
		e.BalanceAfter,
		dailyUnique && e.Kind == storage.LedgerEarn,
		e.CreatedAt.Format("2006-01-02"),
		e.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresLedgerStorage) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'spend' THEN -amount ELSE amount END), 0)
		FROM points_ledger
		WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

func (s *PostgresLedgerStorage) History(ctx context.Context, userID string, limit, offset int) ([]storage.LedgerEntry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM points_ledger WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, amount, reason, description, related_record, balance_after, created_at
		FROM points_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []storage.LedgerEntry{}
	for rows.Next() {
		var e storage.LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Kind,
			&e.Amount,
			&e.Reason,
			&e.Description,
			&e.RelatedRecord,
			&e.BalanceAfter,
			&e.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}
