package model

// CreditSnapshot is the member-facing view of the spendable balance around a
// window: what is left to bid with and what the market currently asks.
type CreditSnapshot struct {
	Available           int64 `json:"available"`
	MinBidCredits       int64 `json:"minBidCredits"`
	SuggestedBidCredits int64 `json:"suggestedBidCredits"`
}
