package scheduler

import (
	"strings"
	"time"
)

// Session is a regular trading calendar: weekdays between Open and Close
// (offsets from local midnight) in Location, minus Holidays.
type Session struct {
	Location *time.Location
	Open     time.Duration
	Close    time.Duration
	holidays map[string]struct{}
}

func NewSession(loc *time.Location, open, close time.Duration, holidays []string) Session {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[string]struct{}, len(holidays))
	for _, day := range holidays {
		day = strings.TrimSpace(day)
		if day != "" {
			set[day] = struct{}{}
		}
	}
	return Session{Location: loc, Open: open, Close: close, holidays: set}
}

// IsTradingDay reports whether t's local date is a weekday and not a holiday.
func (s Session) IsTradingDay(t time.Time) bool {
	local := t.In(s.location())
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := s.holidays[local.Format(time.DateOnly)]
	return !holiday
}

// IsOpen reports whether t falls inside [Open, Close] on a trading day.
func (s Session) IsOpen(t time.Time) bool {
	if !s.IsTradingDay(t) {
		return false
	}
	local := t.In(s.location())
	offset := local.Sub(midnight(local))
	return offset >= s.Open && offset <= s.Close
}

// Date returns the session date key (YYYY-MM-DD) of t.
func (s Session) Date(t time.Time) string {
	return t.In(s.location()).Format(time.DateOnly)
}

// HourBucket truncates t to the local clock hour.
func (s Session) HourBucket(t time.Time) string {
	return t.In(s.location()).Format("2006-01-02T15")
}

func (s Session) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
