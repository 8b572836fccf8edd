package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmd/internal/datetime"
)

func mustNew(t *testing.T, spec Spec) *Recurrence {
	t.Helper()
	r, err := New(spec)
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{
			name:    "missing start",
			spec:    Spec{Kind: KindDaily, Frequency: 1, Count: NoEnd},
			wantErr: ErrBadSpec,
		},
		{
			name:    "zero frequency",
			spec:    Spec{Kind: KindDaily, Frequency: 0, Count: NoEnd, Start: start},
			wantErr: ErrBadSpec,
		},
		{
			name:    "no terminator",
			spec:    Spec{Kind: KindDaily, Frequency: 1, Start: start},
			wantErr: ErrBadSpec,
		},
		{
			name: "count and until together",
			spec: Spec{
				Kind: KindDaily, Frequency: 1, Count: 3,
				Until: datetime.At(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
				Start: start,
			},
			wantErr: ErrBadSpec,
		},
		{
			name: "mixed selector sets fit no kind",
			spec: Spec{
				Frequency: 1, Count: NoEnd, Start: start,
				Weekdays:  []time.Weekday{time.Monday},
				MonthDays: []int{15},
			},
			wantErr: ErrUnsupportedRule,
		},
		{
			name: "daily rule carrying selectors",
			spec: Spec{
				Kind: KindDaily, Frequency: 1, Count: NoEnd, Start: start,
				Weekdays: []time.Weekday{time.Monday},
			},
			wantErr: ErrBadSpec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_DerivesKindFromSelectors(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	r := mustNew(t, Spec{
		Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday},
	})
	assert.Equal(t, KindWeekly, r.Kind())

	r = mustNew(t, Spec{
		Frequency: 1, Count: NoEnd, Start: start,
		Positions: []Position{{Weekday: time.Tuesday, Nth: 2}},
	})
	assert.Equal(t, KindMonthlyPos, r.Kind())

	r = mustNew(t, Spec{
		Frequency: 1, Count: NoEnd, Start: start,
		MonthDays: []int{29}, Months: []time.Month{time.June},
	})
	assert.Equal(t, KindYearlyDate, r.Kind())
}

func TestNextOccurrence_Daily(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{Kind: KindDaily, Frequency: 2, Count: 3, Start: start})

	next := r.NextOccurrence(start, 0)
	assert.Equal(t, time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC), next.Time())

	next = r.NextOccurrence(next, 0)
	assert.Equal(t, time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC), next.Time())

	next = r.NextOccurrence(next, 0)
	assert.True(t, next.IsZero(), "count exhausted")
}

func TestNextOccurrence_WeeklyMultipleDays(t *testing.T) {
	// 2024-05-06 is a Monday.
	start := datetime.At(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{
		Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
	})

	next := r.NextOccurrence(start, 0)
	assert.Equal(t, time.Date(2024, 5, 8, 9, 0, 0, 0, time.UTC), next.Time())

	next = r.NextOccurrence(next, 0)
	assert.Equal(t, time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC), next.Time())
}

func TestNextOccurrence_MonthlyByPosition(t *testing.T) {
	// 2024-05-14 is the second Tuesday of May.
	start := datetime.At(time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{
		Kind: KindMonthlyPos, Frequency: 1, Count: NoEnd, Start: start,
		Positions: []Position{{Weekday: time.Tuesday, Nth: 2}},
	})

	next := r.NextOccurrence(start, 0)
	assert.Equal(t, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC), next.Time())

	next = r.NextOccurrence(next, 0)
	assert.Equal(t, time.Date(2024, 7, 9, 9, 0, 0, 0, time.UTC), next.Time())
}

func TestNextOccurrence_YearlyByPosition(t *testing.T) {
	// 2024-10-28 is the last Monday of October.
	start := datetime.At(time.Date(2024, 10, 28, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{
		Kind: KindYearlyPos, Frequency: 1, Count: NoEnd, Start: start,
		Positions: []Position{{Weekday: time.Monday, Nth: -1}},
		Months:    []time.Month{time.October},
	})

	next := r.NextOccurrence(start, 0)
	assert.Equal(t, time.Date(2025, 10, 27, 9, 0, 0, 0, time.UTC), next.Time())
}

func TestNew_RejectsYearDaySelectors(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	// Year-day selection only exists in the raw storage encoding; a rule
	// carrying it would have its selector silently dropped by the builder,
	// so construction must refuse it instead.
	spec, err := ParseRRule("FREQ=YEARLY;BYYEARDAY=100")
	require.NoError(t, err)
	spec.Start = start
	_, err = New(spec)
	assert.ErrorIs(t, err, ErrUnsupportedRule)
}

func TestNextOccurrence_DateOnlyUsesStartOfDay(t *testing.T) {
	sod := 8 * time.Hour
	start := datetime.OnDate(2024, 5, 1, time.UTC)
	r := mustNew(t, Spec{Kind: KindDaily, Frequency: 1, Count: 3, Start: start})
	require.True(t, r.DateOnly())

	next := r.NextOccurrence(start, sod)
	assert.True(t, next.IsDateOnly())
	assert.True(t, next.SameDate(datetime.OnDate(2024, 5, 2, time.UTC)))

	// A timed query at the effective instant of day two must not skip it.
	q := datetime.At(time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC))
	next = r.NextOccurrence(q, sod)
	assert.True(t, next.SameDate(datetime.OnDate(2024, 5, 2, time.UTC)))

	// At exactly start-of-day of day two the occurrence is not after it.
	q = datetime.At(time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC))
	next = r.NextOccurrence(q, sod)
	assert.True(t, next.SameDate(datetime.OnDate(2024, 5, 3, time.UTC)))
}

func TestNextOccurrence_SkipsExcludedDates(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{
		Kind: KindDaily, Frequency: 1, Count: 4, Start: start,
		ExDates: []datetime.DateTime{datetime.OnDate(2024, 5, 2, time.UTC)},
	})

	next := r.NextOccurrence(start, 0)
	assert.Equal(t, time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC), next.Time())
}

func TestPreviousOccurrence(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{Kind: KindDaily, Frequency: 1, Count: 5, Start: start})

	prev := r.PreviousOccurrence(datetime.At(time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)), 0)
	assert.Equal(t, time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC), prev.Time())

	prev = r.PreviousOccurrence(start, 0)
	assert.True(t, prev.IsZero(), "nothing before the start")
}

func TestRecursOn(t *testing.T) {
	// 2024-05-06 is a Monday.
	start := datetime.At(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{
		Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday},
	})

	assert.True(t, r.RecursOn(2024, 5, 13, time.UTC))
	assert.False(t, r.RecursOn(2024, 5, 14, time.UTC))

	excl := mustNew(t, Spec{
		Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday},
		ExDates:  []datetime.DateTime{datetime.OnDate(2024, 5, 13, time.UTC)},
	})
	assert.False(t, excl.RecursOn(2024, 5, 13, time.UTC))
}

func feb29Spec(policy Feb29Policy, count int) Spec {
	return Spec{
		Kind:      KindYearlyDate,
		Frequency: 1,
		Count:     count,
		MonthDays: []int{29},
		Months:    []time.Month{time.February},
		Feb29:     policy,
		Start:     datetime.At(time.Date(2004, 2, 29, 10, 0, 0, 0, time.UTC)),
	}
}

func TestFeb29_RelocationPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy Feb29Policy
		want   []time.Time
	}{
		{
			name:   "feb28 relocates non-leap years",
			policy: Feb29Feb28,
			want: []time.Time{
				time.Date(2005, 2, 28, 10, 0, 0, 0, time.UTC),
				time.Date(2006, 2, 28, 10, 0, 0, 0, time.UTC),
				time.Date(2007, 2, 28, 10, 0, 0, 0, time.UTC),
				time.Date(2008, 2, 29, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name:   "mar1 relocates non-leap years",
			policy: Feb29Mar1,
			want: []time.Time{
				time.Date(2005, 3, 1, 10, 0, 0, 0, time.UTC),
				time.Date(2006, 3, 1, 10, 0, 0, 0, time.UTC),
				time.Date(2007, 3, 1, 10, 0, 0, 0, time.UTC),
				time.Date(2008, 2, 29, 10, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustNew(t, feb29Spec(tt.policy, NoEnd))
			cur := r.Start()
			for _, want := range tt.want {
				cur = r.NextOccurrence(cur, 0)
				require.False(t, cur.IsZero())
				assert.Equal(t, want, cur.Time())
			}
		})
	}
}

func TestFeb29_NoPolicySkipsNonLeapYears(t *testing.T) {
	// Without a policy the rule is a plain RRULE; non-leap years simply
	// have no February 29.
	r := mustNew(t, feb29Spec(Feb29None, NoEnd))
	next := r.NextOccurrence(r.Start(), 0)
	assert.Equal(t, time.Date(2008, 2, 29, 10, 0, 0, 0, time.UTC), next.Time())
}

func TestFeb29_CountAndPrevious(t *testing.T) {
	r := mustNew(t, feb29Spec(Feb29Feb28, 3))

	// Occurrences: 2004-02-29, 2005-02-28, 2006-02-28.
	next := r.NextOccurrence(datetime.At(time.Date(2005, 6, 1, 0, 0, 0, 0, time.UTC)), 0)
	assert.Equal(t, time.Date(2006, 2, 28, 10, 0, 0, 0, time.UTC), next.Time())

	next = r.NextOccurrence(next, 0)
	assert.True(t, next.IsZero(), "count exhausted")

	prev := r.PreviousOccurrence(datetime.At(time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)), 0)
	assert.Equal(t, time.Date(2006, 2, 28, 10, 0, 0, 0, time.UTC), prev.Time())
}

func TestFeb29_Monotonic(t *testing.T) {
	for _, policy := range []Feb29Policy{Feb29Feb28, Feb29Mar1} {
		r := mustNew(t, feb29Spec(policy, NoEnd))
		cur := r.Start()
		for i := 0; i < 12; i++ {
			next := r.NextOccurrence(cur, 0)
			require.False(t, next.IsZero())
			assert.True(t, next.Time().After(cur.Time()),
				"occurrences must be strictly increasing (%s)", policy)
			cur = next
		}
	}
}

func TestFromRaw_BareShadowRule(t *testing.T) {
	start := datetime.At(time.Date(2004, 2, 29, 10, 0, 0, 0, time.UTC))

	r, err := FromRaw([]Spec{{
		Frequency: 1, Count: NoEnd, Start: start,
		MonthDays: []int{-1}, Months: []time.Month{time.February},
	}})
	require.NoError(t, err)
	assert.Equal(t, KindYearlyDate, r.Kind())
	assert.Equal(t, Feb29Feb28, r.Feb29())

	next := r.NextOccurrence(start, 0)
	assert.Equal(t, time.Date(2005, 2, 28, 10, 0, 0, 0, time.UTC), next.Time())
}

func TestFromRaw_TwoRuleEncoding(t *testing.T) {
	start := datetime.At(time.Date(2004, 6, 29, 10, 0, 0, 0, time.UTC))

	main := Spec{
		Frequency: 1, Count: NoEnd, Start: start,
		MonthDays: []int{29}, Months: []time.Month{time.June},
	}
	shadow := Spec{
		Frequency: 1, Count: NoEnd, Start: start,
		YearDays: []int{60},
	}

	r, err := FromRaw([]Spec{main, shadow})
	require.NoError(t, err)
	assert.Equal(t, KindYearlyDate, r.Kind())
	assert.Equal(t, Feb29Mar1, r.Feb29())
	assert.ElementsMatch(t, []time.Month{time.June, time.February}, r.Spec().Months)

	// Rule order must not matter.
	r2, err := FromRaw([]Spec{shadow, main})
	require.NoError(t, err)
	assert.Equal(t, Feb29Mar1, r2.Feb29())
}

func TestFromRaw_RejectsUnrelatedPairs(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	a := Spec{Kind: KindDaily, Frequency: 1, Count: NoEnd, Start: start}
	b := Spec{
		Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday},
	}
	_, err := FromRaw([]Spec{a, b})
	assert.ErrorIs(t, err, ErrUnsupportedRule)
}

func TestMaterialize_SingleSpecWithoutPolicy(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{Kind: KindDaily, Frequency: 1, Count: 10, Start: start})

	specs := r.Materialize()
	require.Len(t, specs, 1)
	assert.Equal(t, KindDaily, specs[0].Kind)
}

func TestMaterialize_SplitsFebruaryOut(t *testing.T) {
	start := datetime.At(time.Date(2004, 6, 29, 10, 0, 0, 0, time.UTC))
	r := mustNew(t, Spec{
		Kind: KindYearlyDate, Frequency: 1, Count: 5, Start: start,
		MonthDays: []int{29}, Months: []time.Month{time.February, time.June},
		Feb29: Feb29Feb28,
	})

	specs := r.Materialize()
	require.Len(t, specs, 2)
	main, shadow := specs[0], specs[1]

	assert.NotContains(t, main.Months, time.February)
	assert.Equal(t, []int{-1}, shadow.MonthDays)
	assert.Equal(t, []time.Month{time.February}, shadow.Months)

	// First five occurrences: Jun 2004, Feb 2005, Jun 2005, Feb 2006,
	// Jun 2006, so three belong to the main rule and two to the shadow.
	assert.Equal(t, 3, main.Count)
	assert.Equal(t, 2, shadow.Count)

	// Re-merging restores the combined total.
	merged, err := FromRaw(specs)
	require.NoError(t, err)
	assert.Equal(t, 5, merged.TotalCount())
	assert.Equal(t, Feb29Feb28, merged.Feb29())
}

func TestMaterialize_FebruaryOnlyBecomesShadow(t *testing.T) {
	r := mustNew(t, feb29Spec(Feb29Mar1, NoEnd))

	specs := r.Materialize()
	require.Len(t, specs, 1)
	assert.Equal(t, []int{60}, specs[0].YearDays)
}

func TestParseRRule(t *testing.T) {
	tests := []struct {
		name  string
		rrule string
		check func(t *testing.T, spec Spec)
	}{
		{
			name:  "biweekly by day",
			rrule: "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE",
			check: func(t *testing.T, spec Spec) {
				assert.Equal(t, KindWeekly, spec.Kind)
				assert.Equal(t, 2, spec.Frequency)
				assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, spec.Weekdays)
				assert.Equal(t, NoEnd, spec.Count)
			},
		},
		{
			name:  "second tuesday of the month",
			rrule: "FREQ=MONTHLY;BYDAY=2TU",
			check: func(t *testing.T, spec Spec) {
				assert.Equal(t, KindMonthlyPos, spec.Kind)
				assert.Equal(t, []Position{{Weekday: time.Tuesday, Nth: 2}}, spec.Positions)
			},
		},
		{
			name:  "hourly folds into minutely",
			rrule: "FREQ=HOURLY;INTERVAL=3",
			check: func(t *testing.T, spec Spec) {
				assert.Equal(t, KindMinutely, spec.Kind)
				assert.Equal(t, 180, spec.Frequency)
			},
		},
		{
			name:  "daily with count",
			rrule: "FREQ=DAILY;COUNT=10",
			check: func(t *testing.T, spec Spec) {
				assert.Equal(t, KindDaily, spec.Kind)
				assert.Equal(t, 10, spec.Count)
			},
		},
		{
			name:  "yearly by month and day",
			rrule: "FREQ=YEARLY;BYMONTH=2;BYMONTHDAY=29",
			check: func(t *testing.T, spec Spec) {
				assert.Equal(t, KindYearlyDate, spec.Kind)
				assert.Equal(t, []int{29}, spec.MonthDays)
				assert.Equal(t, []time.Month{time.February}, spec.Months)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseRRule(tt.rrule)
			require.NoError(t, err)
			tt.check(t, spec)
		})
	}

	_, err := ParseRRule("FREQ=BOGUS")
	assert.Error(t, err)
}

func TestLongestInterval(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		spec Spec
		want time.Duration
	}{
		{
			name: "daily every 3 days",
			spec: Spec{Kind: KindDaily, Frequency: 3, Count: NoEnd, Start: start},
			want: 72 * time.Hour,
		},
		{
			name: "weekly single day",
			spec: Spec{
				Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
				Weekdays: []time.Weekday{time.Monday},
			},
			want: 7 * 24 * time.Hour,
		},
		{
			name: "weekly monday and friday",
			spec: Spec{
				Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
				Weekdays: []time.Weekday{time.Monday, time.Friday},
			},
			want: 4 * 24 * time.Hour,
		},
		{
			name: "yearly february and june",
			spec: Spec{
				Kind: KindYearlyDate, Frequency: 1, Count: NoEnd, Start: start,
				MonthDays: []int{29}, Months: []time.Month{time.February, time.June},
			},
			want: 8 * 31 * 24 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustNew(t, tt.spec)
			assert.Equal(t, tt.want, r.LongestInterval())
		})
	}
}

func TestRegularInterval(t *testing.T) {
	start := datetime.At(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))

	r := mustNew(t, Spec{Kind: KindDaily, Frequency: 2, Count: NoEnd, Start: start})
	d, ok := r.RegularInterval()
	assert.True(t, ok)
	assert.Equal(t, 48*time.Hour, d)

	r = mustNew(t, Spec{
		Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday},
	})
	d, ok = r.RegularInterval()
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, d)

	r = mustNew(t, Spec{
		Kind: KindWeekly, Frequency: 1, Count: NoEnd, Start: start,
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
	})
	_, ok = r.RegularInterval()
	assert.False(t, ok)

	r = mustNew(t, Spec{
		Kind: KindMonthlyDay, Frequency: 1, Count: NoEnd, Start: start,
		MonthDays: []int{15},
	})
	_, ok = r.RegularInterval()
	assert.False(t, ok)
}
