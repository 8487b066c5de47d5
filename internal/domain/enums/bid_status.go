package enums

type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusActive   BidStatus = "active"
	BidStatusExpired  BidStatus = "expired"
	BidStatusRefunded BidStatus = "refunded"
	BidStatusCleared  BidStatus = "cleared"
)

func (s BidStatus) Terminal() bool {
	switch s {
	case BidStatusExpired, BidStatusRefunded, BidStatusCleared:
		return true
	default:
		return false
	}
}
