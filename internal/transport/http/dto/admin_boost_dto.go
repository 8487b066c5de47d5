package dto

import (
	"time"

	"github.com/tribalmingle/boost-auction/internal/domain/model"
)

type AdminWindowResponse struct {
	Success      bool                `json:"success"`
	Window       model.AuctionWindow `json:"window"`
	NextWindow   model.AuctionWindow `json:"nextWindow"`
	Pending      []BidResponse       `json:"pending"`
	Active       []BidResponse       `json:"active"`
	LastResolved *ResolvedWindow     `json:"lastResolved,omitempty"`
}

type ResolvedWindow struct {
	WindowStart time.Time `json:"windowStart"`
	ResolvedAt  time.Time `json:"resolvedAt"`
	Trigger     string    `json:"trigger"`
}

type ForceClearRequest struct {
	Locale    string `json:"locale"`
	Placement string `json:"placement"`
}

type ForceClearResult struct {
	WindowStart     time.Time `json:"windowStart"`
	ResolvedAt      time.Time `json:"resolvedAt"`
	AlreadyResolved bool      `json:"alreadyResolved"`
	Winners         []string  `json:"winners"`
	Refunded        int       `json:"refunded"`
	RolledOver      int       `json:"rolledOver"`
	Anomalies       int       `json:"anomalies"`
}

type ForceClearResponse struct {
	Success bool             `json:"success"`
	Result  ForceClearResult `json:"result"`
}

type GrantCreditsRequest struct {
	UserID  int64 `json:"userId"`
	Credits int64 `json:"credits"`
}

type GrantCreditsResponse struct {
	Success bool  `json:"success"`
	UserID  int64 `json:"userId"`
	Balance int64 `json:"balance"`
}
