package recurrence

import (
	"sort"
	"time"

	"alarmd/internal/datetime"
)

// An annual by-date rule selecting day 29 with a relocation policy cannot
// be expressed as one RRULE: in non-leap years the February occurrence
// moves to February 28 or March 1, or disappears. External calendar
// storage encodes this as two rules (the day-29 rule over the non-February
// months plus a shadow rule carrying the policy); internally the rule is
// kept canonical with day 29 and the policy, and feb29Iter materializes
// the relocated occurrence stream.

// feb29Iter generates occurrences for a canonical February-29 annual rule.
type feb29Iter struct {
	anchor time.Time
	freq   int
	months []time.Month
	policy Feb29Policy
	count  int
	until  time.Time
}

func newFeb29Iter(spec Spec) *feb29Iter {
	months := append([]time.Month(nil), spec.Months...)
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })
	it := &feb29Iter{
		anchor: spec.Start.Time(),
		freq:   spec.Frequency,
		months: months,
		policy: spec.Feb29,
		count:  spec.Count,
	}
	if !spec.Until.IsZero() {
		it.until = spec.Until.Time()
	}
	return it
}

// occ is one materialized occurrence; febSlot marks those produced by the
// February selection (including relocated ones), which belong to the shadow
// rule when the rule is split for external consumers.
type occ struct {
	t       time.Time
	febSlot bool
}

// candidatesIn returns the cycle's occurrences for one year, sorted. The
// anchor is never shifted: only materialized dates are subject to the
// policy, so a rule anchored on a leap-year February 29 keeps that anchor
// even when the frequency makes every later cycle land in non-leap years.
func (it *feb29Iter) candidatesIn(year int) []occ {
	h, m, s := it.anchor.Clock()
	loc := it.anchor.Location()
	out := make([]occ, 0, len(it.months))
	for _, month := range it.months {
		if month == time.February {
			switch {
			case isLeap(year):
				out = append(out, occ{t: time.Date(year, time.February, 29, h, m, s, 0, loc), febSlot: true})
			case it.policy == Feb29Feb28:
				out = append(out, occ{t: time.Date(year, time.February, 28, h, m, s, 0, loc), febSlot: true})
			case it.policy == Feb29Mar1:
				out = append(out, occ{t: time.Date(year, time.March, 1, h, m, s, 0, loc), febSlot: true})
			}
			continue
		}
		out = append(out, occ{t: time.Date(year, month, 29, h, m, s, 0, loc)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].t.Before(out[j].t) })
	return out
}

// isCycleYear reports whether year is one of the rule's cycle years.
func (it *feb29Iter) isCycleYear(year int) bool {
	d := year - it.anchor.Year()
	return d >= 0 && d%it.freq == 0
}

// stream enumerates occurrences from the anchor, stopping after limit
// entries (limit <= 0 means no cap beyond the rule's own count/until).
func (it *feb29Iter) stream(limit int, visit func(occ) bool) {
	max := it.count
	if max <= 0 {
		max = limit
	} else if limit > 0 && limit < max {
		max = limit
	}
	n := 0
	for year := it.anchor.Year(); ; year += it.freq {
		for _, c := range it.candidatesIn(year) {
			if c.t.Before(it.anchor) {
				continue
			}
			if !it.until.IsZero() && c.t.After(it.until) {
				return
			}
			n++
			if !visit(c) {
				return
			}
			if max > 0 && n >= max {
				return
			}
		}
	}
}

// after returns the first occurrence strictly after q, or the zero time.
func (it *feb29Iter) after(q time.Time) time.Time {
	if it.count > 0 {
		var found time.Time
		it.stream(0, func(c occ) bool {
			if c.t.After(q) {
				found = c.t
				return false
			}
			return true
		})
		return found
	}
	startYear := it.anchor.Year()
	fromYear := q.Year() - 1
	if fromYear < startYear {
		fromYear = startYear
	} else {
		// Align to the cycle grid.
		fromYear = startYear + ((fromYear-startYear)/it.freq)*it.freq
	}
	for year := fromYear; ; year += it.freq {
		for _, c := range it.candidatesIn(year) {
			if c.t.Before(it.anchor) || !c.t.After(q) {
				continue
			}
			if !it.until.IsZero() && c.t.After(it.until) {
				return time.Time{}
			}
			return c.t
		}
		if !it.until.IsZero() && year > it.until.Year() {
			return time.Time{}
		}
	}
}

// before returns the last occurrence strictly before q, or the zero time.
func (it *feb29Iter) before(q time.Time) time.Time {
	if !it.until.IsZero() && q.After(it.until.Add(time.Second)) {
		q = it.until.Add(time.Second)
	}
	if it.count > 0 {
		var found time.Time
		it.stream(0, func(c occ) bool {
			if !c.t.Before(q) {
				return false
			}
			found = c.t
			return true
		})
		return found
	}
	startYear := it.anchor.Year()
	for year := q.Year(); year >= startYear; year-- {
		if !it.isCycleYear(year) {
			continue
		}
		cands := it.candidatesIn(year)
		for i := len(cands) - 1; i >= 0; i-- {
			c := cands[i]
			if c.t.Before(q) && !c.t.Before(it.anchor) {
				return c.t
			}
		}
	}
	return time.Time{}
}

// FromRaw normalizes the raw multi-rule storage encoding into a single
// Recurrence. It detects the February-29 pattern: an annual by-date rule
// selecting day 29 combined with an annual rule selecting either year-day
// 60 (policy March 1) or the last day of February (policy February 28),
// with identical frequency and start. Anything else must be a single rule.
func FromRaw(rules []Spec) (*Recurrence, error) {
	switch len(rules) {
	case 1:
		r := rules[0]
		if policy, ok := shadowPolicy(r); ok {
			// A bare shadow rule is a February-only Feb-29 rule.
			merged := r
			merged.Kind = KindYearlyDate
			merged.YearDays = nil
			merged.MonthDays = []int{29}
			merged.Months = []time.Month{time.February}
			merged.Feb29 = policy
			return New(merged)
		}
		r.Kind = DeriveKind(r)
		return New(r)
	case 2:
		main, shadow := rules[0], rules[1]
		policy, ok := shadowPolicy(shadow)
		if !ok {
			main, shadow = shadow, main
			policy, ok = shadowPolicy(shadow)
		}
		if !ok || !isDay29Annual(main) {
			return nil, ErrUnsupportedRule
		}
		if main.Frequency != shadow.Frequency || !main.Start.Time().Equal(shadow.Start.Time()) {
			return nil, ErrUnsupportedRule
		}
		merged := main
		merged.Kind = KindYearlyDate
		merged.Feb29 = policy
		merged.Count = combineCounts(main.Count, shadow.Count)
		if !hasMonth(merged.Months, time.February) {
			merged.Months = append(append([]time.Month(nil), merged.Months...), time.February)
		}
		return New(merged)
	default:
		return nil, ErrUnsupportedRule
	}
}

// Materialize returns the rule as plain RRULE-expressible specs for
// consumers with no February-29 concept. A Feb-29 rule spanning other
// months splits into the original rule with February removed plus a
// synthetic February-only shadow rule using the opposite encoding; the
// occurrence counts are apportioned so the combined total is preserved
// exactly.
func (r *Recurrence) Materialize() []Spec {
	if r.feb == nil {
		return []Spec{r.spec}
	}

	shadow := Spec{
		Kind:      KindNone,
		Frequency: r.spec.Frequency,
		Count:     r.spec.Count,
		Until:     r.spec.Until,
		Start:     r.spec.Start,
		ExDates:   r.spec.ExDates,
	}
	switch r.spec.Feb29 {
	case Feb29Mar1:
		shadow.YearDays = []int{60}
	default: // Feb29Feb28
		shadow.MonthDays = []int{-1}
		shadow.Months = []time.Month{time.February}
	}

	main := r.spec
	main.Feb29 = Feb29None
	main.Months = withoutMonth(main.Months, time.February)

	if len(main.Months) == 0 {
		return []Spec{shadow}
	}

	if r.spec.Count > 0 {
		// Walk the combined stream and count how many of the first Count
		// occurrences belong to the February slot.
		febCount := 0
		r.feb.stream(r.spec.Count, func(c occ) bool {
			if c.febSlot {
				febCount++
			}
			return true
		})
		shadow.Count = febCount
		main.Count = r.spec.Count - febCount
	}

	return []Spec{main, shadow}
}

// shadowPolicy recognizes the two shadow-rule encodings and returns the
// relocation policy they stand for.
func shadowPolicy(s Spec) (Feb29Policy, bool) {
	if len(s.Weekdays) > 0 || len(s.Positions) > 0 {
		return Feb29None, false
	}
	if len(s.YearDays) == 1 && s.YearDays[0] == 60 && len(s.MonthDays) == 0 && len(s.Months) == 0 {
		return Feb29Mar1, true
	}
	if len(s.YearDays) == 0 && len(s.MonthDays) == 1 && s.MonthDays[0] == -1 &&
		len(s.Months) == 1 && s.Months[0] == time.February {
		return Feb29Feb28, true
	}
	return Feb29None, false
}

func isDay29Annual(s Spec) bool {
	if len(s.YearDays) > 0 || len(s.Weekdays) > 0 || len(s.Positions) > 0 {
		return false
	}
	if len(s.MonthDays) != 1 || s.MonthDays[0] != 29 || len(s.Months) == 0 {
		return false
	}
	return true
}

func combineCounts(a, b int) int {
	if a == NoEnd || b == NoEnd {
		return NoEnd
	}
	if a == 0 || b == 0 {
		return 0 // end-instant terminated
	}
	return a + b
}

func hasMonth(months []time.Month, m time.Month) bool {
	for _, x := range months {
		if x == m {
			return true
		}
	}
	return false
}

func withoutMonth(months []time.Month, m time.Month) []time.Month {
	out := make([]time.Month, 0, len(months))
	for _, x := range months {
		if x != m {
			out = append(out, x)
		}
	}
	return out
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// TotalCount returns the rule's occurrence count terminator (NoEnd when the
// rule runs forever, 0 when terminated by an end instant).
func (r *Recurrence) TotalCount() int { return r.spec.Count }

// Until returns the rule's end instant, zero unless the rule is terminated
// by one.
func (r *Recurrence) Until() datetime.DateTime { return r.spec.Until }
