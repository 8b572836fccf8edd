// Package recurrence wraps an iCalendar-style recurrence rule
// (github.com/teambition/rrule-go) and adds the schedule semantics the alarm
// engine needs on top of it: date-only rules resolved through a start-of-day
// time, a February-29 relocation policy for annual rules, interval
// statistics, and a closed set of supported period kinds.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"alarmd/internal/datetime"
)

// PeriodKind classifies a rule into one of the supported recurrence shapes.
type PeriodKind int

const (
	KindNone PeriodKind = iota
	KindMinutely
	KindDaily
	KindWeekly
	KindMonthlyDay // by date(s) of the month
	KindMonthlyPos // by weekday position (e.g. 2nd Tuesday)
	KindYearlyDate // by date(s) in selected months
	KindYearlyPos  // by weekday position in selected months
)

func (k PeriodKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMinutely:
		return "minutely"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindMonthlyDay:
		return "monthly-date"
	case KindMonthlyPos:
		return "monthly-position"
	case KindYearlyDate:
		return "yearly-date"
	case KindYearlyPos:
		return "yearly-position"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Feb29Policy selects where an annual February-29 occurrence lands in
// non-leap years.
type Feb29Policy int

const (
	// Feb29None suppresses the occurrence entirely in non-leap years.
	Feb29None Feb29Policy = iota
	// Feb29Feb28 relocates the occurrence to February 28.
	Feb29Feb28
	// Feb29Mar1 relocates the occurrence to March 1.
	Feb29Mar1
)

func (p Feb29Policy) String() string {
	switch p {
	case Feb29Feb28:
		return "feb28"
	case Feb29Mar1:
		return "mar1"
	default:
		return "none"
	}
}

// NoEnd is the Count value meaning the rule never ends.
const NoEnd = -1

// Position selects a weekday by its position within a month, e.g.
// {Tuesday, 2} is the second Tuesday and {Friday, -1} the last Friday.
type Position struct {
	Weekday time.Weekday
	Nth     int
}

// Spec is the declarative description of one recurrence rule. Exactly one
// of Count (> 0), Until, or Count == NoEnd terminates the rule; Count == 0
// with a zero Until is invalid.
type Spec struct {
	Kind      PeriodKind
	Frequency int

	Count int               // > 0 finite, NoEnd for no end, 0 means Until is used
	Until datetime.DateTime // end instant, zero unless Count == 0

	Weekdays  []time.Weekday // KindWeekly
	MonthDays []int          // KindMonthlyDay / KindYearlyDate; negatives count from month end
	Months    []time.Month   // KindYearlyDate / KindYearlyPos
	Positions []Position     // KindMonthlyPos / KindYearlyPos
	YearDays  []int          // raw encodings only (never on a normalized rule)

	Start datetime.DateTime
	Feb29 Feb29Policy // KindYearlyDate rules selecting day 29 only

	ExDates []datetime.DateTime
}

var (
	// ErrUnsupportedRule reports a rule whose selector sets match none of
	// the supported period kinds. The caller decides whether to fall back
	// to "no recurrence"; construction never repairs silently.
	ErrUnsupportedRule = errors.New("recurrence: rule matches no supported period kind")

	// ErrBadSpec reports structurally invalid rule parameters.
	ErrBadSpec = errors.New("recurrence: invalid rule parameters")
)

// Recurrence is a validated, queryable recurrence rule.
//
// For most kinds the occurrence stream is delegated to an rrule.Set. Annual
// by-date rules that select day 29 with a relocation policy use a dedicated
// iterator instead, because relocated occurrences cannot be expressed as a
// single RRULE (see feb29.go).
type Recurrence struct {
	spec     Spec
	dateOnly bool

	set  *rrule.Set
	feb  *feb29Iter
	exdp map[string]bool // excluded days, yyyy-mm-dd keyed
}

// New validates spec and builds a Recurrence. A spec whose selectors fit no
// supported kind returns ErrUnsupportedRule.
func New(spec Spec) (*Recurrence, error) {
	if spec.Start.IsZero() {
		return nil, fmt.Errorf("%w: missing start", ErrBadSpec)
	}
	if spec.Frequency < 1 {
		return nil, fmt.Errorf("%w: frequency %d", ErrBadSpec, spec.Frequency)
	}
	if spec.Count == 0 && spec.Until.IsZero() {
		return nil, fmt.Errorf("%w: no count and no end instant", ErrBadSpec)
	}
	if spec.Count != 0 && !spec.Until.IsZero() {
		return nil, fmt.Errorf("%w: count and end instant are mutually exclusive", ErrBadSpec)
	}
	if spec.Count < NoEnd {
		return nil, fmt.Errorf("%w: count %d", ErrBadSpec, spec.Count)
	}
	if spec.Kind == KindNone {
		spec.Kind = DeriveKind(spec)
	}
	if spec.Kind == KindNone {
		return nil, ErrUnsupportedRule
	}
	fillFromStart(&spec)
	if err := checkSelectors(spec); err != nil {
		return nil, err
	}

	r := &Recurrence{
		spec:     spec,
		dateOnly: spec.Start.IsDateOnly(),
		exdp:     make(map[string]bool, len(spec.ExDates)),
	}
	for _, ex := range spec.ExDates {
		r.exdp[dayKey(ex.Time())] = true
	}

	if spec.Kind == KindYearlyDate && spec.Feb29 != Feb29None && selectsDay29Feb(spec) {
		r.feb = newFeb29Iter(spec)
		return r, nil
	}

	set, err := buildSet(spec)
	if err != nil {
		return nil, err
	}
	r.set = set
	return r, nil
}

// DeriveKind inspects the selector sets and frequency-free shape of spec and
// returns the period kind it describes, or KindNone if it fits none.
func DeriveKind(spec Spec) PeriodKind {
	hasW := len(spec.Weekdays) > 0
	hasMD := len(spec.MonthDays) > 0
	hasM := len(spec.Months) > 0
	hasP := len(spec.Positions) > 0
	hasYD := len(spec.YearDays) > 0

	switch {
	case hasYD:
		// Year-day selection only appears in the raw Feb-29 encoding and
		// is normalized away before construction.
		return KindNone
	case hasP && hasM && !hasW && !hasMD:
		return KindYearlyPos
	case hasP && !hasM && !hasW && !hasMD:
		return KindMonthlyPos
	case hasMD && hasM && !hasW && !hasP:
		return KindYearlyDate
	case hasMD && !hasM && !hasW && !hasP:
		return KindMonthlyDay
	case hasW && !hasMD && !hasM && !hasP:
		return KindWeekly
	case !hasW && !hasMD && !hasM && !hasP:
		if spec.Kind == KindMinutely || spec.Kind == KindDaily {
			return spec.Kind
		}
		return KindNone
	default:
		return KindNone
	}
}

// fillFromStart supplies selector sets the rule leaves implicit, following
// the RFC 5545 convention of deriving them from the start instant.
func fillFromStart(spec *Spec) {
	start := spec.Start.Time()
	switch spec.Kind {
	case KindWeekly:
		if len(spec.Weekdays) == 0 {
			spec.Weekdays = []time.Weekday{start.Weekday()}
		}
	case KindMonthlyDay:
		if len(spec.MonthDays) == 0 {
			spec.MonthDays = []int{start.Day()}
		}
	case KindYearlyDate:
		if len(spec.MonthDays) == 0 {
			spec.MonthDays = []int{start.Day()}
		}
		if len(spec.Months) == 0 {
			spec.Months = []time.Month{start.Month()}
		}
	}
}

func checkSelectors(spec Spec) error {
	// Year-day selection only appears in the raw Feb-29 encoding, which is
	// normalized away before construction. Anywhere else it would be
	// silently dropped by the rule builder, so reject it outright.
	if len(spec.YearDays) > 0 {
		return fmt.Errorf("%w: year-day selectors", ErrUnsupportedRule)
	}
	switch spec.Kind {
	case KindMinutely, KindDaily:
		if len(spec.Weekdays) > 0 || len(spec.MonthDays) > 0 || len(spec.Months) > 0 || len(spec.Positions) > 0 {
			return fmt.Errorf("%w: %s rule carries selector sets", ErrBadSpec, spec.Kind)
		}
	case KindWeekly:
		if len(spec.Weekdays) == 0 {
			return fmt.Errorf("%w: weekly rule without weekday set", ErrBadSpec)
		}
	case KindMonthlyDay:
		if len(spec.MonthDays) == 0 {
			return fmt.Errorf("%w: monthly-date rule without day set", ErrBadSpec)
		}
		for _, d := range spec.MonthDays {
			if d == 0 || d > 31 || d < -31 {
				return fmt.Errorf("%w: month day %d", ErrBadSpec, d)
			}
		}
	case KindMonthlyPos:
		if len(spec.Positions) == 0 {
			return fmt.Errorf("%w: monthly-position rule without positions", ErrBadSpec)
		}
	case KindYearlyDate:
		if len(spec.MonthDays) == 0 || len(spec.Months) == 0 {
			return fmt.Errorf("%w: yearly-date rule needs day and month sets", ErrBadSpec)
		}
	case KindYearlyPos:
		if len(spec.Positions) == 0 || len(spec.Months) == 0 {
			return fmt.Errorf("%w: yearly-position rule needs position and month sets", ErrBadSpec)
		}
	default:
		return ErrUnsupportedRule
	}
	return nil
}

func selectsDay29Feb(spec Spec) bool {
	day29 := false
	for _, d := range spec.MonthDays {
		if d == 29 {
			day29 = true
		}
	}
	if !day29 {
		return false
	}
	for _, m := range spec.Months {
		if m == time.February {
			return true
		}
	}
	return false
}

func buildSet(spec Spec) (*rrule.Set, error) {
	opt := rrule.ROption{
		Dtstart:  spec.Start.Time(),
		Interval: spec.Frequency,
	}
	if spec.Count > 0 {
		opt.Count = spec.Count
	}
	if !spec.Until.IsZero() {
		opt.Until = spec.Until.Time()
	}

	switch spec.Kind {
	case KindMinutely:
		opt.Freq = rrule.MINUTELY
	case KindDaily:
		opt.Freq = rrule.DAILY
	case KindWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range spec.Weekdays {
			opt.Byweekday = append(opt.Byweekday, rruleWeekday(wd))
		}
	case KindMonthlyDay:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = append(opt.Bymonthday, spec.MonthDays...)
	case KindMonthlyPos:
		opt.Freq = rrule.MONTHLY
		for _, p := range spec.Positions {
			wd := rruleWeekday(p.Weekday)
			opt.Byweekday = append(opt.Byweekday, wd.Nth(p.Nth))
		}
	case KindYearlyDate:
		opt.Freq = rrule.YEARLY
		opt.Bymonthday = append(opt.Bymonthday, spec.MonthDays...)
		for _, m := range spec.Months {
			opt.Bymonth = append(opt.Bymonth, int(m))
		}
	case KindYearlyPos:
		opt.Freq = rrule.YEARLY
		for _, p := range spec.Positions {
			wd := rruleWeekday(p.Weekday)
			opt.Byweekday = append(opt.Byweekday, wd.Nth(p.Nth))
		}
		for _, m := range spec.Months {
			opt.Bymonth = append(opt.Bymonth, int(m))
		}
	default:
		return nil, ErrUnsupportedRule
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSpec, err)
	}
	var set rrule.Set
	set.RRule(r)
	return &set, nil
}

func rruleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// Spec returns a copy of the rule's normalized description.
func (r *Recurrence) Spec() Spec { return r.spec }

func (r *Recurrence) Kind() PeriodKind { return r.spec.Kind }

func (r *Recurrence) Frequency() int { return r.spec.Frequency }

func (r *Recurrence) Feb29() Feb29Policy { return r.spec.Feb29 }

func (r *Recurrence) DateOnly() bool { return r.dateOnly }

func (r *Recurrence) Start() datetime.DateTime { return r.spec.Start }

// NextOccurrence returns the first occurrence strictly after the given
// instant, resolving date-only values through startOfDay on both sides.
// A zero DateTime means no further occurrence.
func (r *Recurrence) NextOccurrence(after datetime.DateTime, startOfDay time.Duration) datetime.DateTime {
	q := r.queryInstant(after, startOfDay)
	for {
		var t time.Time
		if r.feb != nil {
			t = r.feb.after(q)
		} else {
			t = r.set.After(q, false)
		}
		if t.IsZero() {
			return datetime.DateTime{}
		}
		if !r.exdp[dayKey(t)] {
			return r.wrap(t)
		}
		q = t
	}
}

// PreviousOccurrence returns the last occurrence strictly before the given
// instant, under the same date-only resolution as NextOccurrence.
func (r *Recurrence) PreviousOccurrence(before datetime.DateTime, startOfDay time.Duration) datetime.DateTime {
	q := r.queryInstant(before, startOfDay)
	for {
		var t time.Time
		if r.feb != nil {
			t = r.feb.before(q)
		} else {
			t = r.set.Before(q, false)
		}
		if t.IsZero() {
			return datetime.DateTime{}
		}
		if !r.exdp[dayKey(t)] {
			return r.wrap(t)
		}
		q = t
	}
}

// RecursOn reports whether any occurrence falls on the given calendar day.
// Excluded dates never match, and the rule's start date only matches when
// it independently satisfies the selector sets.
func (r *Recurrence) RecursOn(year int, month time.Month, day int, loc *time.Location) bool {
	if loc == nil {
		loc = r.spec.Start.Location()
	}
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if r.exdp[dayKey(dayStart)] {
		return false
	}
	var t time.Time
	if r.feb != nil {
		t = r.feb.after(dayStart.Add(-time.Second))
	} else {
		t = r.set.After(dayStart.Add(-time.Second), false)
	}
	if t.IsZero() {
		return false
	}
	ty, tm, td := t.Date()
	return ty == year && tm == month && td == day
}

// queryInstant converts the query DateTime into the concrete instant the
// underlying occurrence stream is compared against. For a date-only rule
// the stream holds midnight timestamps while effective occurrence instants
// are midnight+startOfDay, so the query is shifted back by startOfDay to
// keep the strict comparison exact.
func (r *Recurrence) queryInstant(q datetime.DateTime, startOfDay time.Duration) time.Time {
	eff := q.Effective(startOfDay)
	if r.dateOnly {
		return eff.Add(-startOfDay)
	}
	return eff
}

func (r *Recurrence) wrap(t time.Time) datetime.DateTime {
	if r.dateOnly {
		return datetime.DateOf(t)
	}
	return datetime.At(t)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
