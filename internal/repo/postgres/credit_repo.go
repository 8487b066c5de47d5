package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDebitFailed         = errors.New("credit debit failed")
)

// CreditRepo owns the spendable balance of each user. A reservation is a soft
// hold: balance stays put and reserved grows, so available = balance-reserved.
// A debit converts the hold into a real spend in one conditional update.
type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

func (r *CreditRepo) Available(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return 0, nil
	}

	var available int64
	err := r.pool.QueryRow(ctx, `
SELECT balance - reserved
FROM credit_balances
WHERE user_id = $1
LIMIT 1
`, userID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get available credits: %w", err)
	}

	return available, nil
}

func (r *CreditRepo) Reserve(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	if userID <= 0 || amount <= 0 {
		return fmt.Errorf("invalid credit reserve payload")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_balances (user_id, balance, reserved, updated_at)
VALUES ($1, 0, 0, NOW())
ON CONFLICT (user_id) DO NOTHING
`, userID); err != nil {
		return fmt.Errorf("ensure credit balance row: %w", err)
	}

	result, err := tx.Exec(ctx, `
UPDATE credit_balances
SET
	reserved = reserved + $2,
	updated_at = NOW()
WHERE user_id = $1 AND balance - reserved >= $2
`, userID, amount)
	if err != nil {
		return fmt.Errorf("reserve credits: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientCredits
	}

	return nil
}

func (r *CreditRepo) Release(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	if userID <= 0 || amount <= 0 {
		return fmt.Errorf("invalid credit release payload")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	if _, err := tx.Exec(ctx, `
UPDATE credit_balances
SET
	reserved = GREATEST(reserved - $2, 0),
	updated_at = NOW()
WHERE user_id = $1
`, userID, amount); err != nil {
		return fmt.Errorf("release credit reservation: %w", err)
	}

	return nil
}

// Debit settles a reservation: the hold is removed and the balance drops by
// the same amount. Zero rows means the balance moved underneath us and the
// caller must treat the winner as refunded instead.
func (r *CreditRepo) Debit(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	if userID <= 0 || amount <= 0 {
		return fmt.Errorf("invalid credit debit payload")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	result, err := tx.Exec(ctx, `
UPDATE credit_balances
SET
	balance = balance - $2,
	reserved = GREATEST(reserved - $2, 0),
	updated_at = NOW()
WHERE user_id = $1 AND balance >= $2 AND reserved >= $2
`, userID, amount)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDebitFailed
	}

	return nil
}

// Grant tops up the spendable balance. Admin wallet surface, no reservation.
func (r *CreditRepo) Grant(ctx context.Context, userID, amount int64) (int64, error) {
	if userID <= 0 || amount <= 0 {
		return 0, fmt.Errorf("invalid credit grant payload")
	}
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var balance int64
	err := r.pool.QueryRow(ctx, `
INSERT INTO credit_balances (user_id, balance, reserved, updated_at)
VALUES ($1, $2, 0, NOW())
ON CONFLICT (user_id) DO UPDATE SET
	balance = credit_balances.balance + EXCLUDED.balance,
	updated_at = NOW()
RETURNING balance
`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}

	return balance, nil
}
