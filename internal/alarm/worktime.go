package alarm

import (
	"fmt"
	"time"

	"alarmd/internal/datetime"
	"alarmd/internal/recurrence"
)

// Iteration bounds for the working-time search. These caps are the only
// guard against unbounded work; the search reports "not found" when it
// exhausts them.
const (
	// weekdaySearchDays bounds the fixed-time search to one cycle through
	// the days of the week, multiplied per candidate by the
	// sub-repetition frequency.
	weekdaySearchDays = 7

	// holidaySearchCycles bounds how many weekday cycles the fixed-time
	// search walks when each candidate date must also clear the holiday
	// region.
	holidaySearchCycles = 20

	// timedSearchDays bounds the varying-time search to one year of
	// calendar advance; the offset-cycle check below usually stops it far
	// earlier.
	timedSearchDays = 366
)

// nextWorkTrigger finds the first trigger, main occurrence or
// sub-repetition, satisfying the event's working-time and holiday
// restrictions, starting from the current trigger inclusive. A zero
// DateTime means the bounded search found nothing.
func (e *Event) nextWorkTrigger(cfg *SchedulingConfig) datetime.DateTime {
	if e.mainExpired {
		return datetime.DateTime{}
	}
	sod := cfg.StartOfDay()
	cur := e.currentTrigger()
	if cur.IsZero() {
		return datetime.DateTime{}
	}

	qualifies := func(t time.Time) bool {
		if e.workTimeOnly && !cfg.IsWorkTime(t) {
			return false
		}
		if e.excludeHolidays && cfg.IsHoliday(t) {
			return false
		}
		return true
	}

	if e.variesByTimeOfDay() {
		return e.searchVarying(cfg, cur, qualifies)
	}

	// Fixed time of day: if the clock time itself is outside the working
	// window, no candidate can ever qualify.
	if e.workTimeOnly && !cfg.InWorkHours(cur.Effective(sod)) {
		return datetime.DateTime{}
	}

	maxIter := weekdaySearchDays * (e.rep.Count + 1)
	if e.excludeHolidays {
		maxIter *= holidaySearchCycles
	}

	t := cur
	for i := 0; i < maxIter; i++ {
		if qualifies(t.Effective(sod)) {
			return t
		}
		t = e.triggerStrictlyAfter(cfg, t)
		if t.IsZero() {
			return datetime.DateTime{}
		}
	}
	return datetime.DateTime{}
}

// variesByTimeOfDay reports whether successive triggers can fall at
// different clock times: a minutely recurrence, or a sub-repetition
// shorter than a day.
func (e *Event) variesByTimeOfDay() bool {
	if e.rec != nil && e.rec.Kind() == recurrence.KindMinutely {
		return true
	}
	return !e.rep.IsZero() && e.rep.Interval%(24*time.Hour) != 0
}

// searchVarying walks triggers one by one. Because successive candidates
// drift through the clock, the walk is bounded two ways: it gives up after
// one year of calendar advance, and it stops as soon as a candidate
// repeats an already-seen (weekday, clock time, zone offset) state, which
// means the pattern has cycled through the seasonal offsets without
// producing a qualifying instant.
func (e *Event) searchVarying(cfg *SchedulingConfig, from datetime.DateTime, qualifies func(time.Time) bool) datetime.DateTime {
	sod := cfg.StartOfDay()
	horizon := from.Effective(sod).AddDate(0, 0, timedSearchDays)

	seen := make(map[string]bool)
	t := from
	for {
		eff := t.Effective(sod)
		if eff.After(horizon) {
			return datetime.DateTime{}
		}
		if qualifies(eff) {
			return t
		}
		if !e.excludeHolidays {
			// Holiday sets are irregular; only the pure working-time check
			// is safe to cycle-detect on.
			_, offset := eff.Zone()
			key := fmt.Sprintf("%d/%d/%d", int(eff.Weekday()), timeOfDay(eff), offset)
			if seen[key] {
				return datetime.DateTime{}
			}
			seen[key] = true
		}
		t = e.triggerStrictlyAfter(cfg, t)
		if t.IsZero() {
			return datetime.DateTime{}
		}
	}
}

// triggerStrictlyAfter returns the next trigger, main or sub-repetition,
// strictly after t.
func (e *Event) triggerStrictlyAfter(cfg *SchedulingConfig, t datetime.DateTime) datetime.DateTime {
	main, repeat, kind := e.occurrenceAfter(cfg, t)
	if kind == OccurrenceNone {
		return datetime.DateTime{}
	}
	if repeat > 0 {
		return main.Add(time.Duration(repeat) * e.rep.Interval)
	}
	return main
}
