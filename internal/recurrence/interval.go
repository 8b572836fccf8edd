package recurrence

import (
	"sort"
	"time"
)

const day = 24 * time.Hour

// LongestInterval returns an upper bound on the gap between consecutive
// occurrences. Callers use it to size sub-repetitions so that a repetition
// cycle never outlasts the recurrence cycle.
func (r *Recurrence) LongestInterval() time.Duration {
	freq := time.Duration(r.spec.Frequency)
	switch r.spec.Kind {
	case KindMinutely:
		return freq * time.Minute
	case KindDaily:
		return freq * day
	case KindWeekly:
		return time.Duration(maxWeekdayGapDays(r.spec.Weekdays, r.spec.Frequency)) * day
	case KindMonthlyDay, KindMonthlyPos:
		// Month lengths vary; 31 days per cycle month is the bound used
		// throughout the engine.
		return freq * 31 * day
	case KindYearlyDate, KindYearlyPos:
		return time.Duration(maxMonthGap(r.spec.Months, r.spec.Frequency)) * 31 * day
	default:
		return 0
	}
}

// RegularInterval reports the fixed spacing between occurrences when the
// cadence is perfectly uniform, which lets working-time search walk
// analytically instead of occurrence-by-occurrence. Monthly and yearly
// rules are never uniform.
func (r *Recurrence) RegularInterval() (time.Duration, bool) {
	freq := time.Duration(r.spec.Frequency)
	switch r.spec.Kind {
	case KindMinutely:
		return freq * time.Minute, true
	case KindDaily:
		return freq * day, true
	case KindWeekly:
		if len(r.spec.Weekdays) == 1 {
			return freq * 7 * day, true
		}
		if len(r.spec.Weekdays) == 7 && r.spec.Frequency == 1 {
			return day, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// maxWeekdayGapDays computes the longest run of days between two selected
// weekdays, accounting for the frequency's skipped weeks.
func maxWeekdayGapDays(weekdays []time.Weekday, freq int) int {
	if len(weekdays) == 0 {
		return 7 * freq
	}
	days := make([]int, 0, len(weekdays))
	for _, wd := range weekdays {
		days = append(days, int(wd))
	}
	sort.Ints(days)
	if len(days) == 1 {
		return 7 * freq
	}
	max := 0
	for i := 1; i < len(days); i++ {
		if g := days[i] - days[i-1]; g > max {
			max = g
		}
	}
	// Wrap from the last selected day to the first of the next cycle week.
	if g := 7*freq - (days[len(days)-1] - days[0]); g > max {
		max = g
	}
	return max
}

// maxMonthGap computes the longest run of months between two selected
// months across a cycle, in months.
func maxMonthGap(months []time.Month, freq int) int {
	if len(months) == 0 {
		return 12 * freq
	}
	ms := make([]int, 0, len(months))
	for _, m := range months {
		ms = append(ms, int(m))
	}
	sort.Ints(ms)
	if len(ms) == 1 {
		return 12 * freq
	}
	max := 0
	for i := 1; i < len(ms); i++ {
		if g := ms[i] - ms[i-1]; g > max {
			max = g
		}
	}
	if g := 12*freq - (ms[len(ms)-1] - ms[0]); g > max {
		max = g
	}
	return max
}
