package alarm

import (
	"time"

	"alarmd/internal/holiday"
	"alarmd/internal/recurrence"
)

// SchedulingConfig carries the process-wide scheduling inputs: the
// start-of-day time for date-only alarms, the working-day set and hour
// window, the holiday region, and the default February-29 policy. It is
// passed explicitly into every query instead of living in package globals.
//
// Every setter bumps the epoch counter; engines compare their cached epoch
// against it on each query to detect staleness, rather than being notified.
type SchedulingConfig struct {
	startOfDay   time.Duration
	workDays     map[time.Weekday]bool
	workStart    time.Duration
	workEnd      time.Duration
	holidays     *holiday.Region
	defaultFeb29 recurrence.Feb29Policy

	epoch uint64
}

// NewSchedulingConfig returns a config with the conventional defaults:
// start of day at midnight, working Monday to Friday 09:00 to 17:00, no
// holiday region.
func NewSchedulingConfig() *SchedulingConfig {
	return &SchedulingConfig{
		workDays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		workStart: 9 * time.Hour,
		workEnd:   17 * time.Hour,
	}
}

// Epoch returns the current configuration generation.
func (c *SchedulingConfig) Epoch() uint64 { return c.epoch }

func (c *SchedulingConfig) StartOfDay() time.Duration { return c.startOfDay }

func (c *SchedulingConfig) SetStartOfDay(d time.Duration) {
	c.startOfDay = d
	c.epoch++
}

// SetWorkDays replaces the working-day set.
func (c *SchedulingConfig) SetWorkDays(days ...time.Weekday) {
	c.workDays = make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		c.workDays[d] = true
	}
	c.epoch++
}

// SetWorkHours sets the daily working window as offsets from midnight;
// start is inclusive, end exclusive.
func (c *SchedulingConfig) SetWorkHours(start, end time.Duration) {
	c.workStart = start
	c.workEnd = end
	c.epoch++
}

func (c *SchedulingConfig) SetHolidays(r *holiday.Region) {
	c.holidays = r
	c.epoch++
}

func (c *SchedulingConfig) Holidays() *holiday.Region { return c.holidays }

func (c *SchedulingConfig) SetDefaultFeb29(p recurrence.Feb29Policy) {
	c.defaultFeb29 = p
	c.epoch++
}

func (c *SchedulingConfig) DefaultFeb29() recurrence.Feb29Policy { return c.defaultFeb29 }

func (c *SchedulingConfig) IsWorkDay(d time.Weekday) bool { return c.workDays[d] }

// WorkDays returns the working-day set in Sunday-first order.
func (c *SchedulingConfig) WorkDays() []time.Weekday {
	out := make([]time.Weekday, 0, len(c.workDays))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if c.workDays[d] {
			out = append(out, d)
		}
	}
	return out
}

func (c *SchedulingConfig) WorkHours() (start, end time.Duration) {
	return c.workStart, c.workEnd
}

// InWorkHours reports whether the instant's time of day falls inside the
// working window.
func (c *SchedulingConfig) InWorkHours(t time.Time) bool {
	tod := timeOfDay(t)
	return tod >= c.workStart && tod < c.workEnd
}

// IsWorkTime reports whether t is on a working day inside the working
// window.
func (c *SchedulingConfig) IsWorkTime(t time.Time) bool {
	return c.workDays[t.Weekday()] && c.InWorkHours(t)
}

func (c *SchedulingConfig) IsHoliday(t time.Time) bool {
	return c.holidays.IsHoliday(t)
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}
