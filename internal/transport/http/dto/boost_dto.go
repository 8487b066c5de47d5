package dto

import (
	"time"

	"github.com/tribalmingle/boost-auction/internal/domain/model"
)

type BidResponse struct {
	SessionID        string     `json:"sessionId"`
	Locale           string     `json:"locale"`
	Placement        string     `json:"placement"`
	WindowStart      time.Time  `json:"windowStart"`
	BidAmountCredits int64      `json:"bidAmountCredits"`
	Status           string     `json:"status"`
	AutoRollover     bool       `json:"autoRollover"`
	RolloverCount    int        `json:"rolloverCount"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndsAt           *time.Time `json:"endsAt,omitempty"`
}

type BoostBidsSection struct {
	Pending     *BidResponse  `json:"pending"`
	NextPending *BidResponse  `json:"nextPending"`
	Active      []BidResponse `json:"active"`
	History     []BidResponse `json:"history"`
}

type BoostWindowResponse struct {
	Success    bool                 `json:"success"`
	Window     model.AuctionWindow  `json:"window"`
	NextWindow model.AuctionWindow  `json:"nextWindow"`
	Credits    model.CreditSnapshot `json:"credits"`
	Bids       BoostBidsSection     `json:"bids"`
}

type SubmitBidRequest struct {
	Locale           string `json:"locale"`
	Placement        string `json:"placement"`
	BidAmountCredits int64  `json:"bidAmountCredits"`
	AutoRollover     bool   `json:"autoRollover"`
}

type SubmitBidResponse struct {
	Success  bool                `json:"success"`
	Bid      BidResponse         `json:"bid"`
	Replaced bool                `json:"replaced"`
	Window   model.AuctionWindow `json:"window"`
}

type CancelBidResponse struct {
	Success bool `json:"success"`
}

type MarketCapability struct {
	Locale               string `json:"locale"`
	Placement            string `json:"placement"`
	CadenceSeconds       int64  `json:"cadenceSeconds"`
	LeadTimeSeconds      int64  `json:"leadTimeSeconds"`
	BoostDurationSeconds int64  `json:"boostDurationSeconds"`
	MinBidCredits        int64  `json:"minBidCredits"`
	MaxWinners           int    `json:"maxWinners"`
}

type CapabilitiesResponse struct {
	Success     bool               `json:"success"`
	Placements  []string           `json:"placements"`
	BidStatuses []string           `json:"bidStatuses"`
	Markets     []MarketCapability `json:"markets"`
}
