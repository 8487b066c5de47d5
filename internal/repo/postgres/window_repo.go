package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
)

// WindowRepo persists the per-window resolved marker. The conditional insert
// is what makes resolution at-most-once: whichever trigger lands the row wins,
// every later attempt sees zero rows and backs off.
type WindowRepo struct {
	pool *pgxpool.Pool
}

type ResolvedWindowRecord struct {
	Locale      string
	Placement   enums.Placement
	WindowStart time.Time
	ResolvedAt  time.Time
	Trigger     enums.ResolveTrigger
}

func NewWindowRepo(pool *pgxpool.Pool) *WindowRepo {
	return &WindowRepo{pool: pool}
}

func (r *WindowRepo) MarkResolved(ctx context.Context, tx pgx.Tx, key WindowKey, trigger enums.ResolveTrigger, resolvedAt time.Time) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if key.Locale == "" {
		return false, fmt.Errorf("invalid resolved window payload")
	}

	result, err := tx.Exec(ctx, `
INSERT INTO resolved_windows (locale, placement, window_start, resolved_at, trigger)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (locale, placement, window_start) DO NOTHING
`, key.Locale, key.Placement, key.WindowStart.UTC(), resolvedAt.UTC(), trigger)
	if err != nil {
		return false, fmt.Errorf("mark window resolved: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *WindowRepo) IsResolved(ctx context.Context, key WindowKey) (bool, error) {
	if key.Locale == "" {
		return false, fmt.Errorf("invalid resolved window payload")
	}
	if r.pool == nil {
		return false, nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM resolved_windows
	WHERE locale = $1 AND placement = $2 AND window_start = $3
)
`, key.Locale, key.Placement, key.WindowStart.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check window resolved: %w", err)
	}

	return exists, nil
}

func (r *WindowRepo) LastResolved(ctx context.Context, locale string, placement enums.Placement) (ResolvedWindowRecord, error) {
	if locale == "" {
		return ResolvedWindowRecord{}, fmt.Errorf("invalid resolved window payload")
	}
	if r.pool == nil {
		return ResolvedWindowRecord{}, pgx.ErrNoRows
	}

	var rec ResolvedWindowRecord
	err := r.pool.QueryRow(ctx, `
SELECT locale, placement, window_start, resolved_at, trigger
FROM resolved_windows
WHERE locale = $1 AND placement = $2
ORDER BY window_start DESC
LIMIT 1
`, locale, placement).Scan(&rec.Locale, &rec.Placement, &rec.WindowStart, &rec.ResolvedAt, &rec.Trigger)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResolvedWindowRecord{}, pgx.ErrNoRows
		}
		return ResolvedWindowRecord{}, fmt.Errorf("get last resolved window: %w", err)
	}

	return rec, nil
}
