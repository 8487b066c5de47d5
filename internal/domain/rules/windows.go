package rules

import "time"

const (
	DefaultCadence       = 30 * time.Minute
	DefaultLeadTime      = time.Minute
	DefaultBoostDuration = 30 * time.Minute
)

// NextWindowStart returns the smallest cadence-aligned instant strictly after
// now. Bids submitted at exactly a boundary belong to the following window:
// the boundary itself is the cutoff of the window that just closed.
func NextWindowStart(now time.Time, cadence time.Duration) time.Time {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return now.UTC().Truncate(cadence).Add(cadence)
}

// LastWindowStart returns the most recent cadence-aligned boundary at or
// before now, i.e. the cutoff the scheduler is due to resolve.
func LastWindowStart(now time.Time, cadence time.Duration) time.Time {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return now.UTC().Truncate(cadence)
}
