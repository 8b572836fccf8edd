// Package datetime provides DateTime, a timestamp that is either a concrete
// timezone-aware instant or a date-only value. A date-only value has no
// intrinsic time of day; it only becomes a concrete instant when resolved
// against a configured start-of-day time. All comparisons between a
// date-only value and a timed value go through that resolution, so the
// result is the same regardless of argument order.
package datetime

import (
	"time"
)

// DateTime is a timezone-aware instant or a date-only value.
//
// The zero DateTime is "no time" and reports IsZero() == true.
type DateTime struct {
	t        time.Time
	dateOnly bool
}

// At wraps a concrete instant.
func At(t time.Time) DateTime {
	return DateTime{t: t}
}

// OnDate builds a date-only value for the given calendar day. The stored
// time component is midnight in loc, but it is never compared directly;
// Effective substitutes the configured start-of-day.
func OnDate(year int, month time.Month, day int, loc *time.Location) DateTime {
	if loc == nil {
		loc = time.Local
	}
	return DateTime{
		t:        time.Date(year, month, day, 0, 0, 0, 0, loc),
		dateOnly: true,
	}
}

// DateOf builds a date-only value for the calendar day containing t.
func DateOf(t time.Time) DateTime {
	return OnDate(t.Year(), t.Month(), t.Day(), t.Location())
}

func (dt DateTime) IsZero() bool     { return dt.t.IsZero() }
func (dt DateTime) IsDateOnly() bool { return dt.dateOnly }

// Time returns the raw stored instant. For a date-only value this is
// midnight of the day; use Effective when an actual point in time is needed.
func (dt DateTime) Time() time.Time { return dt.t }

// Location returns the timezone the value is expressed in.
func (dt DateTime) Location() *time.Location { return dt.t.Location() }

// Date returns the calendar day of the value.
func (dt DateTime) Date() (year int, month time.Month, day int) {
	return dt.t.Date()
}

// Effective resolves the value to a concrete instant. Timed values are
// returned as stored; date-only values resolve to their day plus the given
// start-of-day offset from midnight.
func (dt DateTime) Effective(startOfDay time.Duration) time.Time {
	if !dt.dateOnly {
		return dt.t
	}
	y, m, d := dt.t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, dt.t.Location()).Add(startOfDay)
}

// Compare orders two values using the start-of-day convention for any
// date-only operand. It returns -1, 0 or +1.
//
// Two date-only values compare by calendar day alone, so differing
// timezones on the same day are equal.
func (dt DateTime) Compare(other DateTime, startOfDay time.Duration) int {
	if dt.dateOnly && other.dateOnly {
		a := dt.t
		b := other.t
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		switch {
		case ay != by:
			return cmpInt(ay, by)
		case am != bm:
			return cmpInt(int(am), int(bm))
		default:
			return cmpInt(ad, bd)
		}
	}
	a := dt.Effective(startOfDay)
	b := other.Effective(startOfDay)
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func (dt DateTime) Before(other DateTime, startOfDay time.Duration) bool {
	return dt.Compare(other, startOfDay) < 0
}

func (dt DateTime) After(other DateTime, startOfDay time.Duration) bool {
	return dt.Compare(other, startOfDay) > 0
}

func (dt DateTime) Equal(other DateTime, startOfDay time.Duration) bool {
	return dt.Compare(other, startOfDay) == 0
}

// Add shifts the value by d. Adding a whole number of days to a date-only
// value keeps it date-only; any sub-day component forces it to a timed
// instant (resolved from midnight, matching the stored representation).
func (dt DateTime) Add(d time.Duration) DateTime {
	if dt.dateOnly && d%(24*time.Hour) == 0 {
		return DateTime{t: dt.t.AddDate(0, 0, int(d/(24*time.Hour))), dateOnly: true}
	}
	return DateTime{t: dt.t.Add(d)}
}

// AddDays shifts the value by n calendar days, preserving date-only-ness.
func (dt DateTime) AddDays(n int) DateTime {
	return DateTime{t: dt.t.AddDate(0, 0, n), dateOnly: dt.dateOnly}
}

// SameDate reports whether both values fall on the same calendar day.
func (dt DateTime) SameDate(other DateTime) bool {
	ay, am, ad := dt.t.Date()
	by, bm, bd := other.t.Date()
	return ay == by && am == bm && ad == bd
}

// String renders the value for logs: date-only values as 2006-01-02, timed
// values as RFC 3339.
func (dt DateTime) String() string {
	if dt.IsZero() {
		return "<none>"
	}
	if dt.dateOnly {
		return dt.t.Format("2006-01-02")
	}
	return dt.t.Format(time.RFC3339)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
