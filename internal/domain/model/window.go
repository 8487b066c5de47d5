package model

import (
	"time"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
)

// AuctionWindow identifies one bidding slot for a (locale, placement) market.
// WindowStart is the submission cutoff: bids accumulate until it, resolution
// happens at it, and the boost run spans [BoostStartsAt, BoostEndsAt).
type AuctionWindow struct {
	Locale        string          `json:"locale"`
	Placement     enums.Placement `json:"placement"`
	WindowStart   time.Time       `json:"windowStart"`
	BoostStartsAt time.Time       `json:"boostStartsAt"`
	BoostEndsAt   time.Time       `json:"boostEndsAt"`
	MinBidCredits int64           `json:"minBidCredits"`
	MaxWinners    int             `json:"maxWinners"`
}
