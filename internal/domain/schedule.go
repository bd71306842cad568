package domain

import (
	"strconv"
	"time"
)

// Period is a summary period in whole days.
type Period int

const (
	PeriodDaily     Period = 1
	PeriodThreeDays Period = 3
	PeriodWeekly    Period = 7

	DefaultPeriod = PeriodDaily
)

// Periods lists the supported periods in menu order.
var Periods = []Period{PeriodDaily, PeriodThreeDays, PeriodWeekly}

// Valid reports whether p is one of the supported periods.
func (p Period) Valid() bool {
	for _, v := range Periods {
		if p == v {
			return true
		}
	}
	return false
}

// Duration returns the period as a time.Duration.
func (p Period) Duration() time.Duration {
	return time.Duration(p) * 24 * time.Hour
}

// Label is a short human label used in menus and replies.
func (p Period) Label() string {
	switch p {
	case PeriodDaily:
		return "once a day"
	case PeriodThreeDays:
		return "once every 3 days"
	case PeriodWeekly:
		return "once a week"
	default:
		return "every " + strconv.Itoa(int(p)) + " days"
	}
}

// IsDue reports whether a user must receive a digest at now.
// A user that never received one is always due; otherwise the boundary
// last+period is inclusive.
func IsDue(now time.Time, u *User) bool {
	if u.LastSummaryAt == nil {
		return true
	}
	return !now.Before(u.LastSummaryAt.Add(u.Period.Duration()))
}

// Window returns the collection window [now-period, now) for a user.
// It is always anchored at wall-clock now; missed periods are not caught up.
func Window(now time.Time, p Period) (since, until time.Time) {
	return now.Add(-p.Duration()), now
}
