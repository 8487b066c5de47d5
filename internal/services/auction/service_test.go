package auction

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tribalmingle/boost-auction/internal/config"
	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	redrepo "github.com/tribalmingle/boost-auction/internal/repo/redis"
	"github.com/tribalmingle/boost-auction/internal/services/rollover"
	"github.com/tribalmingle/boost-auction/internal/services/windows"
)

type memStore struct {
	bids     map[uuid.UUID]pgrepo.BidRecord
	balance  map[int64]int64
	reserved map[int64]int64
	resolved map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		bids:     make(map[uuid.UUID]pgrepo.BidRecord),
		balance:  make(map[int64]int64),
		reserved: make(map[int64]int64),
		resolved: make(map[string]bool),
	}
}

func keyOf(k pgrepo.WindowKey) string {
	return k.Locale + "|" + string(k.Placement) + "|" + k.WindowStart.UTC().Format(time.RFC3339)
}

func (m *memStore) ListPendingForWindow(_ context.Context, _ pgx.Tx, key pgrepo.WindowKey) ([]pgrepo.BidRecord, error) {
	var out []pgrepo.BidRecord
	for _, b := range m.bids {
		if b.Status == enums.BidStatusPending && b.Locale == key.Locale && b.Placement == key.Placement && b.WindowStart.Equal(key.WindowStart) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SessionID.String() < out[j].SessionID.String()
	})
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, _ pgx.Tx, sessionID uuid.UUID, from, to enums.BidStatus) (bool, error) {
	rec, ok := m.bids[sessionID]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	m.bids[sessionID] = rec
	return true, nil
}

func (m *memStore) Activate(_ context.Context, _ pgx.Tx, sessionID uuid.UUID, startedAt, endsAt time.Time) (bool, error) {
	rec, ok := m.bids[sessionID]
	if !ok || rec.Status != enums.BidStatusPending {
		return false, nil
	}
	rec.Status = enums.BidStatusActive
	rec.StartedAt = &startedAt
	rec.EndsAt = &endsAt
	m.bids[sessionID] = rec
	return true, nil
}

func (m *memStore) InsertPending(_ context.Context, _ pgx.Tx, rec pgrepo.BidRecord) error {
	for _, b := range m.bids {
		if b.Status == enums.BidStatusPending && b.UserID == rec.UserID &&
			b.Locale == rec.Locale && b.Placement == rec.Placement && b.WindowStart.Equal(rec.WindowStart) {
			return pgrepo.ErrDuplicateBid
		}
	}
	m.bids[rec.SessionID] = rec
	return nil
}

func (m *memStore) Reserve(_ context.Context, _ pgx.Tx, userID, amount int64) error {
	if m.balance[userID]-m.reserved[userID] < amount {
		return pgrepo.ErrInsufficientCredits
	}
	m.reserved[userID] += amount
	return nil
}

func (m *memStore) Release(_ context.Context, _ pgx.Tx, userID, amount int64) error {
	m.reserved[userID] -= amount
	if m.reserved[userID] < 0 {
		m.reserved[userID] = 0
	}
	return nil
}

func (m *memStore) Debit(_ context.Context, _ pgx.Tx, userID, amount int64) error {
	if m.balance[userID] < amount || m.reserved[userID] < amount {
		return pgrepo.ErrDebitFailed
	}
	m.balance[userID] -= amount
	m.reserved[userID] -= amount
	return nil
}

func (m *memStore) MarkResolved(_ context.Context, _ pgx.Tx, key pgrepo.WindowKey, _ enums.ResolveTrigger, _ time.Time) (bool, error) {
	k := keyOf(key)
	if m.resolved[k] {
		return false, nil
	}
	m.resolved[k] = true
	return true, nil
}

func (m *memStore) addPending(userID int64, amount int64, windowStart, createdAt time.Time, autoRollover bool, rolloverCount int) uuid.UUID {
	return m.addPendingIn("us", userID, amount, windowStart, createdAt, autoRollover, rolloverCount)
}

func (m *memStore) addPendingIn(locale string, userID int64, amount int64, windowStart, createdAt time.Time, autoRollover bool, rolloverCount int) uuid.UUID {
	id := uuid.New()
	m.bids[id] = pgrepo.BidRecord{
		SessionID:     id,
		UserID:        userID,
		Locale:        locale,
		Placement:     enums.PlacementSpotlight,
		WindowStart:   windowStart.UTC(),
		Amount:        amount,
		Status:        enums.BidStatusPending,
		AutoRollover:  autoRollover,
		RolloverCount: rolloverCount,
		CreatedAt:     createdAt.UTC(),
	}
	m.balance[userID] += amount
	m.reserved[userID] += amount
	return id
}

func newTestService(store *memStore, now time.Time) *Service {
	cfg := config.Default().Auction
	cfg.Markets = []config.MarketConfig{
		{Locale: "us", Placements: []string{"spotlight"}, MaxWinners: 2},
	}

	svc := NewService(Dependencies{
		Bids:     store,
		Credits:  store,
		Markers:  store,
		Clock:    windows.NewClock(cfg),
		Rollover: rollover.NewEngine(cfg.MaxRollovers),
	})
	svc.runTx = func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
		return fn(ctx, nil)
	}
	svc.now = func() time.Time { return now }

	return svc
}

var testWindowStart = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func testKey() pgrepo.WindowKey {
	return pgrepo.WindowKey{Locale: "us", Placement: enums.PlacementSpotlight, WindowStart: testWindowStart}
}

func TestResolveRanksWinnersByAmountThenTime(t *testing.T) {
	store := newMemStore()
	base := testWindowStart.Add(-20 * time.Minute)
	a := store.addPending(1, 30, testWindowStart, base, false, 0)
	b := store.addPending(2, 25, testWindowStart, base.Add(time.Minute), false, 0)
	c := store.addPending(3, 25, testWindowStart, base.Add(2*time.Minute), false, 0)

	svc := newTestService(store, testWindowStart)
	outcome, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(outcome.Winners) != 2 || outcome.Winners[0] != a || outcome.Winners[1] != b {
		t.Fatalf("expected winners [A B], got %v", outcome.Winners)
	}
	if outcome.Refunded != 1 || outcome.RolledOver != 0 || outcome.Anomalies != 0 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}

	if store.balance[1] != 0 || store.reserved[1] != 0 {
		t.Fatalf("winner A must be debited, balance=%d reserved=%d", store.balance[1], store.reserved[1])
	}
	if store.balance[3] != 25 || store.reserved[3] != 0 {
		t.Fatalf("loser C must be released, balance=%d reserved=%d", store.balance[3], store.reserved[3])
	}
	if store.bids[c].Status != enums.BidStatusRefunded {
		t.Fatalf("expected loser refunded, got %s", store.bids[c].Status)
	}

	winA := store.bids[a]
	if winA.Status != enums.BidStatusActive || winA.StartedAt == nil || winA.EndsAt == nil {
		t.Fatalf("winner A must be active with run times, got %+v", winA)
	}
	if want := testWindowStart.Add(time.Minute); !winA.StartedAt.Equal(want) {
		t.Fatalf("expected run start %v, got %v", want, *winA.StartedAt)
	}
	if want := testWindowStart.Add(31 * time.Minute); !winA.EndsAt.Equal(want) {
		t.Fatalf("expected run end %v, got %v", want, *winA.EndsAt)
	}
}

func TestResolveTwiceDebitsOnce(t *testing.T) {
	store := newMemStore()
	store.addPending(1, 30, testWindowStart, testWindowStart.Add(-10*time.Minute), false, 0)

	svc := newTestService(store, testWindowStart)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.AlreadyResolved || len(first.Winners) != 1 {
		t.Fatalf("unexpected first outcome: %+v", first)
	}

	second, err := svc.Resolve(ctx, testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !second.AlreadyResolved {
		t.Fatal("second resolve must be a no-op")
	}
	if store.balance[1] != 0 {
		t.Fatalf("winner debited more than once, balance=%d", store.balance[1])
	}
}

func TestResolveRollsOverOptedInLoser(t *testing.T) {
	store := newMemStore()
	store.addPending(1, 30, testWindowStart, testWindowStart.Add(-10*time.Minute), false, 0)
	store.addPending(2, 28, testWindowStart, testWindowStart.Add(-9*time.Minute), false, 0)
	loser := store.addPending(3, 25, testWindowStart, testWindowStart.Add(-8*time.Minute), true, 1)

	svc := newTestService(store, testWindowStart)
	outcome, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.RolledOver != 1 || outcome.Refunded != 0 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}

	if store.bids[loser].Status != enums.BidStatusCleared {
		t.Fatalf("expected rolled bid cleared, got %s", store.bids[loser].Status)
	}
	// The hold carries over to the successor.
	if store.reserved[3] != 25 {
		t.Fatalf("rollover must conserve the reservation, got %d", store.reserved[3])
	}

	next := testWindowStart.Add(30 * time.Minute)
	var successor *pgrepo.BidRecord
	for id, b := range store.bids {
		if id != loser && b.UserID == 3 && b.Status == enums.BidStatusPending {
			rec := b
			successor = &rec
		}
	}
	if successor == nil {
		t.Fatal("expected a successor pending bid")
	}
	if !successor.WindowStart.Equal(next) || successor.Amount != 25 || successor.RolloverCount != 2 {
		t.Fatalf("unexpected successor: %+v", successor)
	}
}

func TestResolveRefundsWhenRolloverCapReached(t *testing.T) {
	store := newMemStore()
	store.addPending(1, 30, testWindowStart, testWindowStart.Add(-10*time.Minute), false, 0)
	store.addPending(2, 28, testWindowStart, testWindowStart.Add(-9*time.Minute), false, 0)
	capped := store.addPending(3, 25, testWindowStart, testWindowStart.Add(-8*time.Minute), true, 3)

	svc := newTestService(store, testWindowStart)
	outcome, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.RolledOver != 0 || outcome.Refunded != 1 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}
	if store.bids[capped].Status != enums.BidStatusRefunded {
		t.Fatalf("expected capped bid refunded, got %s", store.bids[capped].Status)
	}
	if store.reserved[3] != 0 {
		t.Fatalf("expected reservation released, got %d", store.reserved[3])
	}
}

func TestResolveDemotesWinnerWhenDebitFails(t *testing.T) {
	store := newMemStore()
	top := store.addPending(1, 30, testWindowStart, testWindowStart.Add(-10*time.Minute), false, 0)
	runnerUp := store.addPending(2, 25, testWindowStart, testWindowStart.Add(-9*time.Minute), false, 0)
	third := store.addPending(3, 20, testWindowStart, testWindowStart.Add(-8*time.Minute), false, 0)

	// The top bidder's balance was drained outside the auction path.
	store.balance[1] = 5

	svc := newTestService(store, testWindowStart)
	outcome, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if outcome.Anomalies != 1 {
		t.Fatalf("expected 1 anomaly, got %d", outcome.Anomalies)
	}
	if len(outcome.Winners) != 2 || outcome.Winners[0] != runnerUp || outcome.Winners[1] != third {
		t.Fatalf("expected promoted winners [B C], got %v", outcome.Winners)
	}
	if store.bids[top].Status != enums.BidStatusRefunded {
		t.Fatalf("expected demoted bid refunded, got %s", store.bids[top].Status)
	}
	if store.reserved[1] != 0 {
		t.Fatalf("expected demoted reservation released, got %d", store.reserved[1])
	}
}

func TestForceClearThenScheduledTriggerIsNoOp(t *testing.T) {
	store := newMemStore()
	store.addPending(1, 30, testWindowStart, testWindowStart.Add(-25*time.Minute), false, 0)

	// Admin clears at 12:05, well before the 12:30 cutoff.
	svc := newTestService(store, testWindowStart.Add(-25*time.Minute))
	ctx := context.Background()

	forced, err := svc.ForceClear(ctx, "us", enums.PlacementSpotlight)
	if err != nil {
		t.Fatalf("force clear: %v", err)
	}
	if forced.AlreadyResolved || len(forced.Winners) != 1 {
		t.Fatalf("unexpected force-clear outcome: %+v", forced)
	}
	if !forced.Key.WindowStart.Equal(testWindowStart) {
		t.Fatalf("force-clear must target the accepting window, got %v", forced.Key.WindowStart)
	}
	// Run times stay anchored to the calendar window.
	winner := store.bids[forced.Winners[0]]
	if want := testWindowStart.Add(time.Minute); winner.StartedAt == nil || !winner.StartedAt.Equal(want) {
		t.Fatalf("expected run start %v, got %v", want, winner.StartedAt)
	}

	later := newTestService(store, testWindowStart)
	scheduled, err := later.Resolve(ctx, testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("scheduled resolve: %v", err)
	}
	if !scheduled.AlreadyResolved {
		t.Fatal("scheduled trigger after force-clear must be a no-op")
	}
	if store.balance[1] != 0 {
		t.Fatalf("winner debited more than once, balance=%d", store.balance[1])
	}
}

func TestResolveSettlesResidueBidsInDisabledMarket(t *testing.T) {
	store := newMemStore()
	base := testWindowStart.Add(-10 * time.Minute)
	// "uk" is not configured in the test clock: bids taken before the market
	// went dark still settle on the global defaults.
	first := store.addPendingIn("uk", 1, 30, testWindowStart, base, false, 0)
	store.addPendingIn("uk", 2, 25, testWindowStart, base.Add(time.Minute), false, 0)
	store.addPendingIn("uk", 3, 20, testWindowStart, base.Add(2*time.Minute), false, 0)
	roller := store.addPendingIn("uk", 4, 15, testWindowStart, base.Add(3*time.Minute), true, 0)

	svc := newTestService(store, testWindowStart)
	key := pgrepo.WindowKey{Locale: "uk", Placement: enums.PlacementSpotlight, WindowStart: testWindowStart}
	outcome, err := svc.Resolve(context.Background(), key, enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Global default of three winners, not zero.
	if len(outcome.Winners) != 3 || outcome.Winners[0] != first {
		t.Fatalf("expected 3 winners led by the top bid, got %v", outcome.Winners)
	}
	if store.bids[first].Status != enums.BidStatusActive {
		t.Fatalf("expected top bid active, got %s", store.bids[first].Status)
	}

	// The opted-in loser refunds instead of re-entering the dead market.
	if outcome.RolledOver != 0 || outcome.Refunded != 1 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}
	if store.bids[roller].Status != enums.BidStatusRefunded {
		t.Fatalf("expected refund in closed market, got %s", store.bids[roller].Status)
	}
	if store.reserved[4] != 0 {
		t.Fatalf("expected reservation released, got %d", store.reserved[4])
	}
}

type contendedLocker struct{}

func (contendedLocker) Acquire(_ context.Context, _ string) (string, error) {
	return "token", nil
}

func (contendedLocker) TryAcquire(_ context.Context, _ string) (string, error) {
	return "", redrepo.ErrLockNotAcquired
}

func (contendedLocker) Release(_ context.Context, _, _ string) error { return nil }

func TestScheduledTriggerSkipsContendedWindow(t *testing.T) {
	store := newMemStore()
	bid := store.addPending(1, 30, testWindowStart, testWindowStart.Add(-10*time.Minute), false, 0)

	svc := newTestService(store, testWindowStart)
	svc.deps.Locks = contendedLocker{}

	outcome, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !outcome.AlreadyResolved {
		t.Fatal("contended window must be skipped this tick")
	}
	if store.bids[bid].Status != enums.BidStatusPending {
		t.Fatalf("skipped window must stay untouched, got %s", store.bids[bid].Status)
	}

	// Force-clear blocks instead of skipping.
	forced, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerForceClear)
	if err != nil {
		t.Fatalf("force resolve: %v", err)
	}
	if forced.AlreadyResolved || len(forced.Winners) != 1 {
		t.Fatalf("unexpected forced outcome: %+v", forced)
	}
}

func TestResolveRefundsRolloverWhenBalanceGone(t *testing.T) {
	store := newMemStore()
	store.addPending(1, 30, testWindowStart, testWindowStart.Add(-10*time.Minute), false, 0)
	store.addPending(2, 28, testWindowStart, testWindowStart.Add(-9*time.Minute), false, 0)
	loser := store.addPending(3, 25, testWindowStart, testWindowStart.Add(-8*time.Minute), true, 0)

	// Balance drained below the bid; the re-reserve at rollover time fails.
	store.balance[3] = 10

	svc := newTestService(store, testWindowStart)
	outcome, err := svc.Resolve(context.Background(), testKey(), enums.ResolveTriggerScheduled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.RolledOver != 0 || outcome.Refunded != 1 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}
	if store.bids[loser].Status != enums.BidStatusRefunded {
		t.Fatalf("expected silent refund, got %s", store.bids[loser].Status)
	}
}
