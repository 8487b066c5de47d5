package rollover

import (
	"time"

	"github.com/google/uuid"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
)

// Engine decides what happens to a losing bid when its window resolves: either
// it re-enters the next window at the same amount or the reservation comes
// back to the member. The resolver executes the decision inside its
// transaction; the engine itself touches no storage.
type Engine struct {
	maxRollovers int
}

func NewEngine(maxRollovers int) *Engine {
	if maxRollovers < 0 {
		maxRollovers = 0
	}
	return &Engine{maxRollovers: maxRollovers}
}

// Plan returns the successor record for a losing bid and whether it should
// roll over. A bid rolls when the member opted in and the cap has headroom.
// The successor keeps the amount and gets a fresh session identity; its
// creation time is the resolution instant, so rolled bids outrank later manual
// submissions on equal amounts.
func (e *Engine) Plan(rec pgrepo.BidRecord, nextWindowStart, resolvedAt time.Time) (pgrepo.BidRecord, bool) {
	if !rec.AutoRollover || rec.RolloverCount >= e.maxRollovers {
		return pgrepo.BidRecord{}, false
	}

	return pgrepo.BidRecord{
		SessionID:     uuid.New(),
		UserID:        rec.UserID,
		Locale:        rec.Locale,
		Placement:     rec.Placement,
		WindowStart:   nextWindowStart.UTC(),
		Amount:        rec.Amount,
		Status:        enums.BidStatusPending,
		AutoRollover:  true,
		RolloverCount: rec.RolloverCount + 1,
		CreatedAt:     resolvedAt.UTC(),
	}, true
}

func (e *Engine) MaxRollovers() int {
	return e.maxRollovers
}
