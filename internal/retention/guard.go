package retention

import "time"

// DefaultInterval is the minimum spacing between two periodic cleanups.
const DefaultInterval = 12 * time.Hour

// Guard rate-limits cleanups. It owns no clock; callers pass the last run and
// the current time.
type Guard struct {
	Interval time.Duration
}

// Due reports whether a cleanup may run at now given the previous run. A zero
// lastRun means never run. A non-positive Interval disables the limit.
func (g Guard) Due(lastRun, now time.Time) bool {
	if lastRun.IsZero() || g.Interval <= 0 {
		return true
	}
	// A clock that moved backwards must not block cleanup forever.
	if now.Before(lastRun) {
		return true
	}
	return now.Sub(lastRun) >= g.Interval
}

// NextDue returns the earliest time the next cleanup may run.
func (g Guard) NextDue(lastRun time.Time) time.Time {
	if lastRun.IsZero() || g.Interval <= 0 {
		return time.Time{}
	}
	return lastRun.Add(g.Interval)
}
