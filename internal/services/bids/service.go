package bids

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	"github.com/tribalmingle/boost-auction/internal/domain/model"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	ratesvc "github.com/tribalmingle/boost-auction/internal/services/rate"
	"github.com/tribalmingle/boost-auction/internal/services/windows"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrBidNotFound         = errors.New("bid not found")
	ErrBidNotCancelable    = errors.New("bid is not cancelable")
	ErrDependenciesNil     = errors.New("bids dependencies are not configured")
)

type TooFastError struct {
	RetryAfterSec int64
}

func (e TooFastError) Error() string {
	return "too fast"
}

func (e TooFastError) RetryAfter() int64 {
	if e.RetryAfterSec <= 0 {
		return 1
	}
	return e.RetryAfterSec
}

func IsTooFast(err error) (*TooFastError, bool) {
	var tf TooFastError
	if errors.As(err, &tf) {
		return &tf, true
	}
	return nil, false
}

// BidTooLowError carries the market minimum so the submitter sees the exact
// floor they missed.
type BidTooLowError struct {
	MinBidCredits int64
}

func (e BidTooLowError) Error() string {
	return fmt.Sprintf("bid below market minimum of %d credits", e.MinBidCredits)
}

func IsBidTooLow(err error) (*BidTooLowError, bool) {
	var bt BidTooLowError
	if errors.As(err, &bt) {
		return &bt, true
	}
	return nil, false
}

type BidStore interface {
	InsertPending(ctx context.Context, tx pgx.Tx, rec pgrepo.BidRecord) error
	FindBySession(ctx context.Context, sessionID uuid.UUID) (pgrepo.BidRecord, error)
	GetPending(ctx context.Context, userID int64, key pgrepo.WindowKey) (pgrepo.BidRecord, error)
	GetPendingForUpdate(ctx context.Context, tx pgx.Tx, userID int64, key pgrepo.WindowKey) (pgrepo.BidRecord, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, from, to enums.BidStatus) (bool, error)
	ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]pgrepo.BidRecord, error)
	ListActiveForMarket(ctx context.Context, locale string, placement enums.Placement, now time.Time) ([]pgrepo.BidRecord, error)
	ListPendingForMarket(ctx context.Context, key pgrepo.WindowKey) ([]pgrepo.BidRecord, error)
	ListHistory(ctx context.Context, userID int64, limit int) ([]pgrepo.BidRecord, error)
	TopPendingAmount(ctx context.Context, key pgrepo.WindowKey) (int64, error)
}

type CreditStore interface {
	Available(ctx context.Context, userID int64) (int64, error)
	Reserve(ctx context.Context, tx pgx.Tx, userID, amount int64) error
	Release(ctx context.Context, tx pgx.Tx, userID, amount int64) error
	Grant(ctx context.Context, userID, amount int64) (int64, error)
}

type ResolutionStore interface {
	IsResolved(ctx context.Context, key pgrepo.WindowKey) (bool, error)
	LastResolved(ctx context.Context, locale string, placement enums.Placement) (pgrepo.ResolvedWindowRecord, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, token string) error
}

type Dependencies struct {
	Pool        *pgxpool.Pool
	Bids        BidStore
	Credits     CreditStore
	Resolutions ResolutionStore
	Clock       *windows.Clock
	Limiter     *ratesvc.Limiter
	Locks       Locker
}

type Config struct {
	SuggestedBidStep int64
	HistoryLimit     int
}

// Service is the member-facing bid ledger: submissions, cancellations and the
// window snapshot. Every balance movement shares a transaction with the bid
// row it belongs to.
type Service struct {
	deps  Dependencies
	cfg   Config
	runTx func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	now   func() time.Time
}

type SubmitInput struct {
	UserID       int64
	Locale       string
	Placement    enums.Placement
	Amount       int64
	AutoRollover bool
}

type SubmitResult struct {
	Bid      pgrepo.BidRecord
	Window   model.AuctionWindow
	Replaced bool
}

type Snapshot struct {
	Window      model.AuctionWindow
	NextWindow  model.AuctionWindow
	Credits     model.CreditSnapshot
	Pending     *pgrepo.BidRecord
	NextPending *pgrepo.BidRecord
	Active      []pgrepo.BidRecord
	History     []pgrepo.BidRecord
}

// MarketBoard is the admin view of one market: both windows plus every pending
// and running bid across users. LastResolved is nil until the market has
// settled its first window.
type MarketBoard struct {
	Window       model.AuctionWindow
	NextWindow   model.AuctionWindow
	Pending      []pgrepo.BidRecord
	Active       []pgrepo.BidRecord
	LastResolved *pgrepo.ResolvedWindowRecord
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.SuggestedBidStep <= 0 {
		cfg.SuggestedBidStep = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	return &Service{
		deps: deps,
		cfg:  cfg,
		runTx: func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return pgrepo.WithTx(ctx, deps.Pool, fn)
		},
		now: time.Now,
	}
}

// Submit places or replaces the member's pending bid for the accepting window.
// A window that was force-cleared early no longer accepts bids, so the
// submission rolls forward to the one after it.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if in.UserID <= 0 || in.Amount <= 0 {
		return SubmitResult{}, ErrValidation
	}
	if s.deps.Bids == nil || s.deps.Credits == nil || s.deps.Clock == nil {
		return SubmitResult{}, ErrDependenciesNil
	}

	params, err := s.deps.Clock.Market(in.Locale, in.Placement)
	if err != nil {
		if errors.Is(err, windows.ErrInvalidMarket) {
			return SubmitResult{}, ErrValidation
		}
		return SubmitResult{}, err
	}
	if in.Amount < params.MinBidCredits {
		return SubmitResult{}, BidTooLowError{MinBidCredits: params.MinBidCredits}
	}

	if s.deps.Limiter != nil {
		retryAfter, allowed, err := s.deps.Limiter.AllowBid(ctx, in.UserID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("consume bid rate limit: %w", err)
		}
		if !allowed {
			return SubmitResult{}, TooFastError{RetryAfterSec: retryAfter}
		}
	}

	now := s.now().UTC()
	target, err := s.acceptingWindow(ctx, params, now)
	if err != nil {
		return SubmitResult{}, err
	}
	key := pgrepo.WindowKey{Locale: params.Locale, Placement: params.Placement, WindowStart: target.WindowStart}

	if s.deps.Locks != nil {
		lockKey := submitLockKey(in.UserID, key)
		token, err := s.deps.Locks.Acquire(ctx, lockKey)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("serialize bid submit: %w", err)
		}
		defer func() { _ = s.deps.Locks.Release(ctx, lockKey, token) }()
	}

	result := SubmitResult{Window: target}
	err = s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		existing, err := s.deps.Bids.GetPendingForUpdate(txCtx, tx, in.UserID, key)
		if err != nil && !errors.Is(err, pgrepo.ErrBidNotFound) {
			return err
		}
		if err == nil {
			// Last write wins: the old bid is superseded and its hold freed
			// before the new one reserves.
			if _, err := s.deps.Bids.UpdateStatus(txCtx, tx, existing.SessionID, enums.BidStatusPending, enums.BidStatusCleared); err != nil {
				return err
			}
			if err := s.deps.Credits.Release(txCtx, tx, in.UserID, existing.Amount); err != nil {
				return err
			}
			result.Replaced = true
		}

		if err := s.deps.Credits.Reserve(txCtx, tx, in.UserID, in.Amount); err != nil {
			if errors.Is(err, pgrepo.ErrInsufficientCredits) {
				return ErrInsufficientCredits
			}
			return err
		}

		rec := pgrepo.BidRecord{
			SessionID:    uuid.New(),
			UserID:       in.UserID,
			Locale:       params.Locale,
			Placement:    params.Placement,
			WindowStart:  target.WindowStart,
			Amount:       in.Amount,
			Status:       enums.BidStatusPending,
			AutoRollover: in.AutoRollover,
			CreatedAt:    now,
		}
		if err := s.deps.Bids.InsertPending(txCtx, tx, rec); err != nil {
			return err
		}

		result.Bid = rec
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	return result, nil
}

// Cancel withdraws a pending bid and returns its reservation. Bids that a
// resolution already touched are not cancelable.
func (s *Service) Cancel(ctx context.Context, userID int64, sessionID uuid.UUID) error {
	if userID <= 0 || sessionID == uuid.Nil {
		return ErrValidation
	}
	if s.deps.Bids == nil || s.deps.Credits == nil {
		return ErrDependenciesNil
	}

	rec, err := s.deps.Bids.FindBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrBidNotFound) {
			return ErrBidNotFound
		}
		return err
	}
	if rec.UserID != userID {
		return ErrBidNotFound
	}
	if rec.Status != enums.BidStatusPending {
		return ErrBidNotCancelable
	}

	return s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		ok, err := s.deps.Bids.UpdateStatus(txCtx, tx, sessionID, enums.BidStatusPending, enums.BidStatusRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBidNotCancelable
		}

		return s.deps.Credits.Release(txCtx, tx, userID, rec.Amount)
	})
}

// GetSnapshot assembles the member view of a market: the accepting window, the
// one after it, the spendable balance with a suggested bid, and the member's
// bids around the window.
func (s *Service) GetSnapshot(ctx context.Context, userID int64, locale string, placement enums.Placement) (Snapshot, error) {
	if userID <= 0 {
		return Snapshot{}, ErrValidation
	}
	if s.deps.Bids == nil || s.deps.Credits == nil || s.deps.Clock == nil {
		return Snapshot{}, ErrDependenciesNil
	}

	params, err := s.deps.Clock.Market(locale, placement)
	if err != nil {
		if errors.Is(err, windows.ErrInvalidMarket) {
			return Snapshot{}, ErrValidation
		}
		return Snapshot{}, err
	}

	now := s.now().UTC()
	current, err := s.acceptingWindow(ctx, params, now)
	if err != nil {
		return Snapshot{}, err
	}
	next := s.deps.Clock.WindowForStart(params, current.WindowStart.Add(params.Cadence))

	currentKey := pgrepo.WindowKey{Locale: params.Locale, Placement: params.Placement, WindowStart: current.WindowStart}
	nextKey := pgrepo.WindowKey{Locale: params.Locale, Placement: params.Placement, WindowStart: next.WindowStart}

	available, err := s.deps.Credits.Available(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read available credits: %w", err)
	}

	top, err := s.deps.Bids.TopPendingAmount(ctx, currentKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read top pending amount: %w", err)
	}
	suggested := params.MinBidCredits
	if top+s.cfg.SuggestedBidStep > suggested {
		suggested = top + s.cfg.SuggestedBidStep
	}

	snapshot := Snapshot{
		Window:     current,
		NextWindow: next,
		Credits: model.CreditSnapshot{
			Available:           available,
			MinBidCredits:       params.MinBidCredits,
			SuggestedBidCredits: suggested,
		},
	}

	if pending, err := s.deps.Bids.GetPending(ctx, userID, currentKey); err == nil {
		snapshot.Pending = &pending
	} else if !errors.Is(err, pgrepo.ErrBidNotFound) {
		return Snapshot{}, fmt.Errorf("read pending bid: %w", err)
	}

	if nextPending, err := s.deps.Bids.GetPending(ctx, userID, nextKey); err == nil {
		snapshot.NextPending = &nextPending
	} else if !errors.Is(err, pgrepo.ErrBidNotFound) {
		return Snapshot{}, fmt.Errorf("read next pending bid: %w", err)
	}

	active, err := s.deps.Bids.ListActiveByUser(ctx, userID, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list active boosts: %w", err)
	}
	snapshot.Active = active

	history, err := s.deps.Bids.ListHistory(ctx, userID, s.cfg.HistoryLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list bid history: %w", err)
	}
	snapshot.History = history

	return snapshot, nil
}

func (s *Service) GetMarketBoard(ctx context.Context, locale string, placement enums.Placement) (MarketBoard, error) {
	if s.deps.Bids == nil || s.deps.Clock == nil {
		return MarketBoard{}, ErrDependenciesNil
	}

	params, err := s.deps.Clock.Market(locale, placement)
	if err != nil {
		if errors.Is(err, windows.ErrInvalidMarket) {
			return MarketBoard{}, ErrValidation
		}
		return MarketBoard{}, err
	}

	now := s.now().UTC()
	current, err := s.acceptingWindow(ctx, params, now)
	if err != nil {
		return MarketBoard{}, err
	}
	next := s.deps.Clock.WindowForStart(params, current.WindowStart.Add(params.Cadence))

	pending, err := s.deps.Bids.ListPendingForMarket(ctx, pgrepo.WindowKey{
		Locale: params.Locale, Placement: params.Placement, WindowStart: current.WindowStart,
	})
	if err != nil {
		return MarketBoard{}, fmt.Errorf("list pending bids: %w", err)
	}

	active, err := s.deps.Bids.ListActiveForMarket(ctx, params.Locale, params.Placement, now)
	if err != nil {
		return MarketBoard{}, fmt.Errorf("list active boosts: %w", err)
	}

	board := MarketBoard{
		Window:     current,
		NextWindow: next,
		Pending:    pending,
		Active:     active,
	}

	if s.deps.Resolutions != nil {
		last, err := s.deps.Resolutions.LastResolved(ctx, params.Locale, params.Placement)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return MarketBoard{}, fmt.Errorf("read last resolved window: %w", err)
		}
		if err == nil {
			board.LastResolved = &last
		}
	}

	return board, nil
}

// GrantCredits tops up a member's spendable balance and returns the new total.
func (s *Service) GrantCredits(ctx context.Context, userID, amount int64) (int64, error) {
	if userID <= 0 || amount <= 0 {
		return 0, ErrValidation
	}
	if s.deps.Credits == nil {
		return 0, ErrDependenciesNil
	}

	balance, err := s.deps.Credits.Grant(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}

	return balance, nil
}

// acceptingWindow returns the window currently open for submissions. When the
// calendar window was already resolved by a force-clear, acceptance has moved
// to the following one.
func (s *Service) acceptingWindow(ctx context.Context, params windows.MarketParams, now time.Time) (model.AuctionWindow, error) {
	current, next, err := s.deps.Clock.Pair(params.Locale, params.Placement, now)
	if err != nil {
		return model.AuctionWindow{}, err
	}
	if s.deps.Resolutions == nil {
		return current, nil
	}

	resolved, err := s.deps.Resolutions.IsResolved(ctx, pgrepo.WindowKey{
		Locale: params.Locale, Placement: params.Placement, WindowStart: current.WindowStart,
	})
	if err != nil {
		return model.AuctionWindow{}, fmt.Errorf("check window resolution: %w", err)
	}
	if resolved {
		return next, nil
	}

	return current, nil
}

func submitLockKey(userID int64, key pgrepo.WindowKey) string {
	return fmt.Sprintf("boost:submit:%d:%s:%s:%d", userID, key.Locale, key.Placement, key.WindowStart.Unix())
}
