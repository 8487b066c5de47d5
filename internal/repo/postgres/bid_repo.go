package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
)

var (
	ErrBidNotFound     = errors.New("bid not found")
	ErrDuplicateBid    = errors.New("pending bid already exists for this window")
	ErrStatusConflict  = errors.New("bid is not in the expected status")
	ErrInvalidBidQuery = errors.New("invalid bid query payload")
)

type BidRepo struct {
	pool *pgxpool.Pool
}

// BidRecord mirrors one row of the bids table. StartedAt and EndsAt are set
// only once the bid has been activated by resolution.
type BidRecord struct {
	SessionID     uuid.UUID
	UserID        int64
	Locale        string
	Placement     enums.Placement
	WindowStart   time.Time
	Amount        int64
	Status        enums.BidStatus
	AutoRollover  bool
	RolloverCount int
	CreatedAt     time.Time
	StartedAt     *time.Time
	EndsAt        *time.Time
}

// WindowKey identifies one resolvable (locale, placement, windowStart) tuple.
type WindowKey struct {
	Locale      string
	Placement   enums.Placement
	WindowStart time.Time
}

const bidColumns = `
	session_id,
	user_id,
	locale,
	placement,
	window_start,
	amount,
	status,
	auto_rollover,
	rollover_count,
	created_at,
	started_at,
	ends_at
`

func NewBidRepo(pool *pgxpool.Pool) *BidRepo {
	return &BidRepo{pool: pool}
}

func (r *BidRepo) InsertPending(ctx context.Context, tx pgx.Tx, rec BidRecord) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	if rec.SessionID == uuid.Nil || rec.UserID <= 0 || rec.Locale == "" || rec.Amount <= 0 {
		return ErrInvalidBidQuery
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO bids (
	session_id,
	user_id,
	locale,
	placement,
	window_start,
	amount,
	status,
	auto_rollover,
	rollover_count,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9)
`, rec.SessionID, rec.UserID, rec.Locale, rec.Placement, rec.WindowStart.UTC(),
		rec.Amount, rec.AutoRollover, rec.RolloverCount, rec.CreatedAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateBid
		}
		return fmt.Errorf("insert pending bid: %w", err)
	}

	return nil
}

func (r *BidRepo) FindBySession(ctx context.Context, sessionID uuid.UUID) (BidRecord, error) {
	if sessionID == uuid.Nil {
		return BidRecord{}, ErrInvalidBidQuery
	}
	if r.pool == nil {
		return BidRecord{}, ErrBidNotFound
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE session_id = $1
LIMIT 1
`, sessionID)

	rec, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BidRecord{}, ErrBidNotFound
		}
		return BidRecord{}, fmt.Errorf("find bid by session: %w", err)
	}

	return rec, nil
}

func (r *BidRepo) GetPending(ctx context.Context, userID int64, key WindowKey) (BidRecord, error) {
	if userID <= 0 || key.Locale == "" {
		return BidRecord{}, ErrInvalidBidQuery
	}
	if r.pool == nil {
		return BidRecord{}, ErrBidNotFound
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE user_id = $1 AND locale = $2 AND placement = $3 AND window_start = $4 AND status = 'pending'
LIMIT 1
`, userID, key.Locale, key.Placement, key.WindowStart.UTC())

	rec, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BidRecord{}, ErrBidNotFound
		}
		return BidRecord{}, fmt.Errorf("get pending bid: %w", err)
	}

	return rec, nil
}

// GetPendingForUpdate locks the user's pending row for the window so the
// replace-if-pending flow cannot race itself.
func (r *BidRepo) GetPendingForUpdate(ctx context.Context, tx pgx.Tx, userID int64, key WindowKey) (BidRecord, error) {
	if tx == nil {
		return BidRecord{}, fmt.Errorf("transaction is required")
	}
	if userID <= 0 || key.Locale == "" {
		return BidRecord{}, ErrInvalidBidQuery
	}

	row := tx.QueryRow(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE user_id = $1 AND locale = $2 AND placement = $3 AND window_start = $4 AND status = 'pending'
LIMIT 1
FOR UPDATE
`, userID, key.Locale, key.Placement, key.WindowStart.UTC())

	rec, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BidRecord{}, ErrBidNotFound
		}
		return BidRecord{}, fmt.Errorf("get pending bid for update: %w", err)
	}

	return rec, nil
}

// ListPendingForWindow returns every pending bid of a window in resolution
// order: amount descending, then earliest submission. Rows are locked for the
// duration of the resolving transaction.
func (r *BidRepo) ListPendingForWindow(ctx context.Context, tx pgx.Tx, key WindowKey) ([]BidRecord, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is required")
	}
	if key.Locale == "" {
		return nil, ErrInvalidBidQuery
	}

	rows, err := tx.Query(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE locale = $1 AND placement = $2 AND window_start = $3 AND status = 'pending'
ORDER BY amount DESC, created_at ASC, session_id ASC
FOR UPDATE
`, key.Locale, key.Placement, key.WindowStart.UTC())
	if err != nil {
		return nil, fmt.Errorf("list pending bids for window: %w", err)
	}
	defer rows.Close()

	return collectBids(rows)
}

// UpdateStatus transitions a bid from one status to another. It reports false
// without error when the bid is no longer in the expected source status.
func (r *BidRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, from, to enums.BidStatus) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if sessionID == uuid.Nil {
		return false, ErrInvalidBidQuery
	}

	result, err := tx.Exec(ctx, `
UPDATE bids
SET status = $3
WHERE session_id = $1 AND status = $2
`, sessionID, from, to)
	if err != nil {
		return false, fmt.Errorf("update bid status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Activate marks a winning bid active and stamps its boost run times.
func (r *BidRepo) Activate(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, startedAt, endsAt time.Time) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if sessionID == uuid.Nil || endsAt.Before(startedAt) {
		return false, ErrInvalidBidQuery
	}

	result, err := tx.Exec(ctx, `
UPDATE bids
SET status = 'active', started_at = $2, ends_at = $3
WHERE session_id = $1 AND status = 'pending'
`, sessionID, startedAt.UTC(), endsAt.UTC())
	if err != nil {
		return false, fmt.Errorf("activate bid: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *BidRepo) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]BidRecord, error) {
	if userID <= 0 {
		return nil, ErrInvalidBidQuery
	}
	if r.pool == nil {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE user_id = $1 AND status = 'active' AND ends_at > $2
ORDER BY ends_at ASC
`, userID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active bids by user: %w", err)
	}
	defer rows.Close()

	return collectBids(rows)
}

func (r *BidRepo) ListActiveForMarket(ctx context.Context, locale string, placement enums.Placement, now time.Time) ([]BidRecord, error) {
	if locale == "" {
		return nil, ErrInvalidBidQuery
	}
	if r.pool == nil {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE locale = $1 AND placement = $2 AND status = 'active' AND ends_at > $3
ORDER BY amount DESC, created_at ASC
`, locale, placement, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active bids for market: %w", err)
	}
	defer rows.Close()

	return collectBids(rows)
}

func (r *BidRepo) ListPendingForMarket(ctx context.Context, key WindowKey) ([]BidRecord, error) {
	if key.Locale == "" {
		return nil, ErrInvalidBidQuery
	}
	if r.pool == nil {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE locale = $1 AND placement = $2 AND window_start = $3 AND status = 'pending'
ORDER BY amount DESC, created_at ASC, session_id ASC
`, key.Locale, key.Placement, key.WindowStart.UTC())
	if err != nil {
		return nil, fmt.Errorf("list pending bids for market: %w", err)
	}
	defer rows.Close()

	return collectBids(rows)
}

func (r *BidRepo) ListHistory(ctx context.Context, userID int64, limit int) ([]BidRecord, error) {
	if userID <= 0 {
		return nil, ErrInvalidBidQuery
	}
	if limit <= 0 {
		limit = 20
	}
	if r.pool == nil {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+bidColumns+`
FROM bids
WHERE user_id = $1 AND status IN ('active', 'expired', 'refunded', 'cleared')
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bid history: %w", err)
	}
	defer rows.Close()

	return collectBids(rows)
}

func (r *BidRepo) TopPendingAmount(ctx context.Context, key WindowKey) (int64, error) {
	if key.Locale == "" {
		return 0, ErrInvalidBidQuery
	}
	if r.pool == nil {
		return 0, nil
	}

	var top int64
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(MAX(amount), 0)
FROM bids
WHERE locale = $1 AND placement = $2 AND window_start = $3 AND status = 'pending'
`, key.Locale, key.Placement, key.WindowStart.UTC()).Scan(&top)
	if err != nil {
		return 0, fmt.Errorf("top pending amount: %w", err)
	}

	return top, nil
}

// DueWindows lists every distinct window that still carries pending bids and
// whose submission cutoff has passed. The sweeper resolves each of them, which
// also catches up on windows missed during downtime.
func (r *BidRepo) DueWindows(ctx context.Context, now time.Time) ([]WindowKey, error) {
	if r.pool == nil {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT locale, placement, window_start
FROM bids
WHERE status = 'pending' AND window_start <= $1
ORDER BY window_start ASC
`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due windows: %w", err)
	}
	defer rows.Close()

	var keys []WindowKey
	for rows.Next() {
		var key WindowKey
		if err := rows.Scan(&key.Locale, &key.Placement, &key.WindowStart); err != nil {
			return nil, fmt.Errorf("scan due window: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due windows: %w", err)
	}

	return keys, nil
}

// ExpireFinished flips active bids whose run has ended. Credits were debited
// at activation, so no balance movement happens here.
func (r *BidRepo) ExpireFinished(ctx context.Context, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, nil
	}

	result, err := r.pool.Exec(ctx, `
UPDATE bids
SET status = 'expired'
WHERE status = 'active' AND ends_at <= $1
`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire finished bids: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanBid(row pgx.Row) (BidRecord, error) {
	var rec BidRecord
	err := row.Scan(
		&rec.SessionID,
		&rec.UserID,
		&rec.Locale,
		&rec.Placement,
		&rec.WindowStart,
		&rec.Amount,
		&rec.Status,
		&rec.AutoRollover,
		&rec.RolloverCount,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.EndsAt,
	)
	return rec, err
}

func collectBids(rows pgx.Rows) ([]BidRecord, error) {
	var records []BidRecord
	for rows.Next() {
		rec, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bid rows: %w", err)
	}
	return records, nil
}
