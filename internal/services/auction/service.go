package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	"github.com/tribalmingle/boost-auction/internal/domain/rules"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	redrepo "github.com/tribalmingle/boost-auction/internal/repo/redis"
	"github.com/tribalmingle/boost-auction/internal/services/rollover"
	"github.com/tribalmingle/boost-auction/internal/services/windows"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrDependenciesNil = errors.New("auction dependencies are not configured")
)

type BidStore interface {
	ListPendingForWindow(ctx context.Context, tx pgx.Tx, key pgrepo.WindowKey) ([]pgrepo.BidRecord, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, from, to enums.BidStatus) (bool, error)
	Activate(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, startedAt, endsAt time.Time) (bool, error)
	InsertPending(ctx context.Context, tx pgx.Tx, rec pgrepo.BidRecord) error
}

type CreditStore interface {
	Reserve(ctx context.Context, tx pgx.Tx, userID, amount int64) error
	Release(ctx context.Context, tx pgx.Tx, userID, amount int64) error
	Debit(ctx context.Context, tx pgx.Tx, userID, amount int64) error
}

type MarkerStore interface {
	MarkResolved(ctx context.Context, tx pgx.Tx, key pgrepo.WindowKey, trigger enums.ResolveTrigger, resolvedAt time.Time) (bool, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (string, error)
	TryAcquire(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, token string) error
}

type Dependencies struct {
	Pool     *pgxpool.Pool
	Bids     BidStore
	Credits  CreditStore
	Markers  MarkerStore
	Clock    *windows.Clock
	Locks    Locker
	Rollover *rollover.Engine
}

// Outcome summarizes one resolution. Anomalies are winners whose debit failed
// underneath the resolution; they are demoted to refunded and the next
// candidate takes the slot.
type Outcome struct {
	Key             pgrepo.WindowKey
	Trigger         enums.ResolveTrigger
	ResolvedAt      time.Time
	AlreadyResolved bool
	Winners         []uuid.UUID
	Refunded        int
	RolledOver      int
	Anomalies       int
}

// Service resolves auction windows. Per window, exactly one resolution takes
// effect: the redis lock serializes racing triggers and the marker insert
// inside the transaction makes the operation at-most-once even if the lock
// expires.
type Service struct {
	deps  Dependencies
	runTx func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	now   func() time.Time
}

func NewService(deps Dependencies) *Service {
	return &Service{
		deps: deps,
		runTx: func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return pgrepo.WithTx(ctx, deps.Pool, fn)
		},
		now: time.Now,
	}
}

// Resolve settles one window: pending bids rank by amount desc, then earliest
// submission, then session id; the top maxWinners are debited and activated,
// the rest roll over or refund. An already resolved window is a no-op.
func (s *Service) Resolve(ctx context.Context, key pgrepo.WindowKey, trigger enums.ResolveTrigger) (Outcome, error) {
	if key.Locale == "" || !key.Placement.Valid() || key.WindowStart.IsZero() {
		return Outcome{}, ErrValidation
	}
	if s.deps.Bids == nil || s.deps.Credits == nil || s.deps.Markers == nil || s.deps.Clock == nil || s.deps.Rollover == nil {
		return Outcome{}, ErrDependenciesNil
	}

	marketOpen := true
	params, err := s.deps.Clock.Market(key.Locale, key.Placement)
	if err != nil {
		if !errors.Is(err, windows.ErrAuctionDisabled) {
			return Outcome{}, err
		}
		// Bids taken before a market was turned off still settle, on the
		// global defaults. Rollover is pointless in a closed market, so
		// losers refund instead of carrying into the next window.
		marketOpen = false
		params = s.deps.Clock.Fallback(key.Locale, key.Placement)
	}

	if s.deps.Locks != nil {
		lockKey := windowLockKey(key)
		token, err := s.lockWindow(ctx, lockKey, trigger)
		if err != nil {
			if errors.Is(err, redrepo.ErrLockNotAcquired) {
				// Another trigger holds the window right now. The marker makes
				// its resolution stick; a missed window shows up as due again
				// on the next sweep tick.
				return Outcome{Key: key, Trigger: trigger, AlreadyResolved: true}, nil
			}
			return Outcome{}, fmt.Errorf("serialize window resolution: %w", err)
		}
		defer func() { _ = s.deps.Locks.Release(ctx, lockKey, token) }()
	}

	now := s.now().UTC()
	outcome := Outcome{Key: key, Trigger: trigger, ResolvedAt: now}

	err = s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		marked, err := s.deps.Markers.MarkResolved(txCtx, tx, key, trigger, now)
		if err != nil {
			return err
		}
		if !marked {
			outcome.AlreadyResolved = true
			return nil
		}

		pending, err := s.deps.Bids.ListPendingForWindow(txCtx, tx, key)
		if err != nil {
			return err
		}

		// A late resolution (catch-up after downtime) must not produce a run
		// that has already ended.
		startedAt := key.WindowStart.Add(params.LeadTime)
		if now.After(startedAt) {
			startedAt = now
		}
		endsAt := startedAt.Add(params.BoostDuration)

		nextWindow := key.WindowStart.Add(params.Cadence)
		if !nextWindow.After(now) {
			nextWindow = rules.NextWindowStart(now, params.Cadence)
		}

		maxWinners := params.MaxWinners
		for _, rec := range pending {
			if len(outcome.Winners) < maxWinners {
				if err := s.settleWinner(txCtx, tx, rec, startedAt, endsAt, &outcome); err != nil {
					return err
				}
				continue
			}
			if err := s.settleLoser(txCtx, tx, rec, nextWindow, now, marketOpen, &outcome); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	return outcome, nil
}

// ForceClear resolves the window currently accepting bids ahead of its cutoff.
func (s *Service) ForceClear(ctx context.Context, locale string, placement enums.Placement) (Outcome, error) {
	if s.deps.Clock == nil {
		return Outcome{}, ErrDependenciesNil
	}

	params, err := s.deps.Clock.Market(locale, placement)
	if err != nil {
		if errors.Is(err, windows.ErrInvalidMarket) {
			return Outcome{}, ErrValidation
		}
		return Outcome{}, err
	}

	key := pgrepo.WindowKey{
		Locale:      params.Locale,
		Placement:   params.Placement,
		WindowStart: rules.NextWindowStart(s.now(), params.Cadence),
	}

	return s.Resolve(ctx, key, enums.ResolveTriggerForceClear)
}

// lockWindow serializes racing triggers. The scheduled sweep never waits on a
// contended window, an admin force-clear does.
func (s *Service) lockWindow(ctx context.Context, key string, trigger enums.ResolveTrigger) (string, error) {
	if trigger == enums.ResolveTriggerScheduled {
		return s.deps.Locks.TryAcquire(ctx, key)
	}
	return s.deps.Locks.Acquire(ctx, key)
}

func (s *Service) settleWinner(ctx context.Context, tx pgx.Tx, rec pgrepo.BidRecord, startedAt, endsAt time.Time, outcome *Outcome) error {
	if err := s.deps.Credits.Debit(ctx, tx, rec.UserID, rec.Amount); err != nil {
		if !errors.Is(err, pgrepo.ErrDebitFailed) {
			return err
		}
		// Balance moved underneath the reservation. Demote, free whatever
		// hold is left, and let the next candidate take the slot.
		if _, err := s.deps.Bids.UpdateStatus(ctx, tx, rec.SessionID, enums.BidStatusPending, enums.BidStatusRefunded); err != nil {
			return err
		}
		if err := s.deps.Credits.Release(ctx, tx, rec.UserID, rec.Amount); err != nil {
			return err
		}
		outcome.Anomalies++
		outcome.Refunded++
		return nil
	}

	ok, err := s.deps.Bids.Activate(ctx, tx, rec.SessionID, startedAt, endsAt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("activate bid %s: %w", rec.SessionID, pgrepo.ErrStatusConflict)
	}

	outcome.Winners = append(outcome.Winners, rec.SessionID)
	return nil
}

func (s *Service) settleLoser(ctx context.Context, tx pgx.Tx, rec pgrepo.BidRecord, nextWindow, resolvedAt time.Time, marketOpen bool, outcome *Outcome) error {
	successor, roll := s.deps.Rollover.Plan(rec, nextWindow, resolvedAt)
	if !roll || !marketOpen {
		return s.refund(ctx, tx, rec, outcome)
	}

	if err := s.deps.Credits.Release(ctx, tx, rec.UserID, rec.Amount); err != nil {
		return err
	}
	if err := s.deps.Credits.Reserve(ctx, tx, rec.UserID, successor.Amount); err != nil {
		if !errors.Is(err, pgrepo.ErrInsufficientCredits) {
			return err
		}
		// Balance no longer covers the bid; degrade silently to a refund.
		if _, err := s.deps.Bids.UpdateStatus(ctx, tx, rec.SessionID, enums.BidStatusPending, enums.BidStatusRefunded); err != nil {
			return err
		}
		outcome.Refunded++
		return nil
	}

	if err := s.deps.Bids.InsertPending(ctx, tx, successor); err != nil {
		if !errors.Is(err, pgrepo.ErrDuplicateBid) {
			return err
		}
		// The member already placed a fresh bid in the next window; the old
		// one refunds instead of rolling on top of it.
		if err := s.deps.Credits.Release(ctx, tx, rec.UserID, successor.Amount); err != nil {
			return err
		}
		if _, err := s.deps.Bids.UpdateStatus(ctx, tx, rec.SessionID, enums.BidStatusPending, enums.BidStatusRefunded); err != nil {
			return err
		}
		outcome.Refunded++
		return nil
	}

	if _, err := s.deps.Bids.UpdateStatus(ctx, tx, rec.SessionID, enums.BidStatusPending, enums.BidStatusCleared); err != nil {
		return err
	}

	outcome.RolledOver++
	return nil
}

func (s *Service) refund(ctx context.Context, tx pgx.Tx, rec pgrepo.BidRecord, outcome *Outcome) error {
	if _, err := s.deps.Bids.UpdateStatus(ctx, tx, rec.SessionID, enums.BidStatusPending, enums.BidStatusRefunded); err != nil {
		return err
	}
	if err := s.deps.Credits.Release(ctx, tx, rec.UserID, rec.Amount); err != nil {
		return err
	}

	outcome.Refunded++
	return nil
}

func windowLockKey(key pgrepo.WindowKey) string {
	return fmt.Sprintf("boost:lock:%s:%s:%d", key.Locale, key.Placement, key.WindowStart.Unix())
}
