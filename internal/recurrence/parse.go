package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"alarmd/internal/datetime"
)

// ParseRRule converts an RFC 5545 RRULE string (e.g.
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE") into a Spec. The spec has no start
// instant; the caller anchors it before construction. Selector sets the
// rule leaves implicit (such as a weekly rule without BYDAY) are filled
// from the start instant by New.
func ParseRRule(s string) (Spec, error) {
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrBadSpec, err)
	}

	spec := Spec{Frequency: opt.Interval}
	if spec.Frequency < 1 {
		spec.Frequency = 1
	}

	switch {
	case opt.Count > 0:
		spec.Count = opt.Count
	case !opt.Until.IsZero():
		spec.Until = datetime.At(opt.Until)
	default:
		spec.Count = NoEnd
	}

	positional := false
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			positional = true
			spec.Positions = append(spec.Positions, Position{
				Weekday: goWeekday(wd),
				Nth:     wd.N(),
			})
		} else {
			spec.Weekdays = append(spec.Weekdays, goWeekday(wd))
		}
	}
	spec.MonthDays = append(spec.MonthDays, opt.Bymonthday...)
	for _, m := range opt.Bymonth {
		spec.Months = append(spec.Months, time.Month(m))
	}
	spec.YearDays = append(spec.YearDays, opt.Byyearday...)

	switch opt.Freq {
	case rrule.MINUTELY:
		spec.Kind = KindMinutely
	case rrule.HOURLY:
		spec.Kind = KindMinutely
		spec.Frequency *= 60
	case rrule.DAILY:
		spec.Kind = KindDaily
	case rrule.WEEKLY:
		spec.Kind = KindWeekly
	case rrule.MONTHLY:
		if positional {
			spec.Kind = KindMonthlyPos
		} else {
			spec.Kind = KindMonthlyDay
		}
	case rrule.YEARLY:
		if positional {
			spec.Kind = KindYearlyPos
		} else {
			spec.Kind = KindYearlyDate
		}
	default:
		return Spec{}, fmt.Errorf("%w: frequency %v", ErrUnsupportedRule, opt.Freq)
	}

	return spec, nil
}

// goWeekday converts an rrule weekday (0 = Monday) to time.Weekday.
func goWeekday(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}
