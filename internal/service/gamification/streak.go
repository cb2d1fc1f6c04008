package gamification

import "time"

// CalendarDate truncates t to its calendar date in loc and returns that
// date as midnight UTC, the form stored in Stat.LastActiveDate.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days from a to b, both CalendarDate values.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// NextStreak applies one day of activity to a streak.
//
//	no previous date     -> 1, not broken
//	same calendar day    -> unchanged
//	previous day         -> +1
//	gap of two or more   -> 1, broken
//
// A last-active date in the future (clock skew) leaves the streak unchanged.
func NextStreak(prevDays int, lastActive *time.Time, today time.Time) (days int, broken bool) {
	if lastActive == nil {
		return 1, false
	}

	last := CalendarDate(*lastActive, time.UTC)
	switch gap := daysBetween(last, today); {
	case gap <= 0:
		return max(prevDays, 1), false
	case gap == 1:
		return prevDays + 1, false
	default:
		return 1, true
	}
}
