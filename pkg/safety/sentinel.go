package safety

import "time"

// Date sentinels the planner and synthesizer may emit in place of concrete
// timestamps. The gate coerces them post-validation.
const (
	SentinelToday     = "DATE_TODAY"
	Sentinel7DaysAgo  = "DATE_7_DAYS_AGO"
	Sentinel30DaysAgo = "DATE_30_DAYS_AGO"
)

// coerceDateSentinel maps a sentinel string to a concrete UTC timestamp.
// Day-relative sentinels resolve to midnight so repeated queries within a
// day compare equal.
func coerceDateSentinel(s string, now time.Time) (time.Time, bool) {
	midnight := func(t time.Time) time.Time {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	switch s {
	case SentinelToday:
		return midnight(now), true
	case Sentinel7DaysAgo:
		return midnight(now.AddDate(0, 0, -7)), true
	case Sentinel30DaysAgo:
		return midnight(now.AddDate(0, 0, -30)), true
	}
	return time.Time{}, false
}
