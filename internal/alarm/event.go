// Package alarm implements the trigger-time engine for a single alarm: one
// optional recurrence rule plus sub-repetition, reminder and deferral state,
// with working-time and holiday restriction applied at query time. The
// engine is single-threaded; concurrent use of one Event must be serialized
// by the caller.
package alarm

import (
	"fmt"
	"time"

	"alarmd/internal/datetime"
	"alarmd/internal/recurrence"
)

// OccurrenceKind classifies what the next trigger of an alarm is.
type OccurrenceKind int

const (
	OccurrenceNone OccurrenceKind = iota
	OccurrenceFirstOrOnly
	OccurrenceRecurrence
	OccurrenceSubRepetition
	OccurrenceLast
)

func (k OccurrenceKind) String() string {
	switch k {
	case OccurrenceFirstOrOnly:
		return "first-or-only"
	case OccurrenceRecurrence:
		return "recurrence"
	case OccurrenceSubRepetition:
		return "sub-repetition"
	case OccurrenceLast:
		return "last"
	default:
		return "none"
	}
}

// Event is the trigger-time engine for one alarm. It owns its recurrence
// rule exclusively; the rule is never shared between events.
type Event struct {
	start      datetime.DateTime
	nextMain   datetime.DateTime
	rec        *recurrence.Recurrence
	rep        SubRepetition
	nextRepeat int // 0 = the main occurrence, n = nth sub-repetition

	reminder ReminderState
	deferral DeferralState

	mainExpired bool
	atLogin     bool
	displaying  bool

	workTimeOnly    bool
	excludeHolidays bool

	cache cachedTriggers
}

// Options configures a new Event.
type Options struct {
	Start datetime.DateTime

	// Recurrence, when non-nil, is the rule spec; its Start is overridden
	// by the alarm's start instant.
	Recurrence *recurrence.Spec

	Repetition       SubRepetition
	ReminderMinutes  int
	ReminderOnceOnly bool

	AtLogin         bool
	Displaying      bool
	WorkTimeOnly    bool
	ExcludeHolidays bool
}

// New builds an Event. A malformed recurrence spec is returned as an error;
// the caller decides whether to retry without a recurrence.
func New(opts Options) (*Event, error) {
	if opts.Start.IsZero() {
		return nil, fmt.Errorf("alarm: missing start instant")
	}
	e := &Event{
		start:           opts.Start,
		nextMain:        opts.Start,
		atLogin:         opts.AtLogin,
		displaying:      opts.Displaying,
		workTimeOnly:    opts.WorkTimeOnly,
		excludeHolidays: opts.ExcludeHolidays,
	}
	if opts.Recurrence != nil {
		if err := e.SetRecurrence(*opts.Recurrence); err != nil {
			return nil, err
		}
	}
	if !opts.Repetition.IsZero() {
		if err := e.SetSubRepetition(opts.Repetition); err != nil {
			return nil, err
		}
	}
	// No deferral can exist yet, so the hidden-by-deferral check is moot.
	e.setReminder(opts.ReminderMinutes, opts.ReminderOnceOnly)
	return e, nil
}

func (e *Event) Start() datetime.DateTime { return e.start }

// NextMain returns the current "next main instant" snapshot, excluding
// sub-repetitions, reminders and deferrals.
func (e *Event) NextMain() datetime.DateTime { return e.nextMain }

func (e *Event) Recurs() bool { return e.rec != nil }

// Recurrence returns the owned rule, or nil. Callers must not retain it
// across mutations.
func (e *Event) Recurrence() *recurrence.Recurrence { return e.rec }

func (e *Event) Repetition() SubRepetition { return e.rep }

// NextRepeat reports which sub-repetition of the current occurrence fires
// next; 0 means the main occurrence itself.
func (e *Event) NextRepeat() int { return e.nextRepeat }

func (e *Event) Reminder() ReminderState { return e.reminder }

func (e *Event) Deferral() DeferralState { return e.deferral }

func (e *Event) MainExpired() bool { return e.mainExpired }

func (e *Event) WorkTimeOnly() bool { return e.workTimeOnly }

func (e *Event) ExcludeHolidays() bool { return e.excludeHolidays }

// SetWorkTimeOnly toggles the working-time restriction.
func (e *Event) SetWorkTimeOnly(on bool) {
	if e.workTimeOnly != on {
		e.workTimeOnly = on
		e.invalidate()
	}
}

// SetExcludeHolidays toggles the holiday exclusion.
func (e *Event) SetExcludeHolidays(on bool) {
	if e.excludeHolidays != on {
		e.excludeHolidays = on
		e.invalidate()
	}
}

// SetRecurrence replaces the rule, re-anchored to the alarm's start
// instant, and re-fits the sub-repetition so its total span stays inside
// the rule's longest occurrence interval.
func (e *Event) SetRecurrence(spec recurrence.Spec) error {
	spec.Start = e.start
	rec, err := recurrence.New(spec)
	if err != nil {
		return err
	}
	e.rec = rec
	e.rep = e.rep.fitWithin(rec.LongestInterval())
	if e.rep.IsZero() {
		e.nextRepeat = 0
	} else if e.nextRepeat > e.rep.Count {
		e.nextRepeat = e.rep.Count
	}
	e.invalidate()
	return nil
}

// ClearRecurrence removes the rule and the sub-repetition cycle.
func (e *Event) ClearRecurrence() {
	e.rec = nil
	e.rep = SubRepetition{}
	e.nextRepeat = 0
	e.invalidate()
}

// SetSubRepetition installs a sub-repetition. The alarm must recur, the
// interval must be whole days for a date-only alarm, and the repetition is
// truncated to fit inside the recurrence interval.
func (e *Event) SetSubRepetition(rep SubRepetition) error {
	if rep.IsZero() {
		e.rep = SubRepetition{}
		e.nextRepeat = 0
		e.invalidate()
		return nil
	}
	if e.rec == nil {
		return ErrNoRecurrence
	}
	rep, err := NewSubRepetition(rep.Interval, rep.Count, e.start.IsDateOnly())
	if err != nil {
		return err
	}
	e.rep = rep.fitWithin(e.rec.LongestInterval())
	e.nextRepeat = 0
	e.invalidate()
	return nil
}

// SetReminder sets the reminder offset in minutes: positive fires before
// the main occurrence, negative after, zero clears it. An at-login alarm
// never carries a before-reminder; a positive offset is silently coerced
// to none. A reminder set behind an existing normal deferral starts out
// hidden.
func (e *Event) SetReminder(cfg *SchedulingConfig, minutes int, onceOnly bool) {
	e.setReminder(minutes, onceOnly)
	e.hideMaskedReminder(cfg.StartOfDay())
	e.invalidate()
}

func (e *Event) setReminder(minutes int, onceOnly bool) {
	if e.atLogin && minutes > 0 {
		minutes = 0
	}
	if minutes == 0 {
		e.reminder = ReminderState{}
		return
	}
	e.reminder = ReminderState{
		Minutes:    minutes,
		OnceOnly:   onceOnly,
		Activation: ReminderActive,
	}
}

// reminderInstant resolves the reminder trigger relative to the next main
// instant. A date-only occurrence resolves through the start of day before
// the minute offset is applied.
func (e *Event) reminderInstant(sod time.Duration) datetime.DateTime {
	eff := e.nextMain.Effective(sod)
	return datetime.At(eff.Add(-time.Duration(e.reminder.Minutes) * time.Minute))
}

// ActivateReminderAfter re-activates an after-main reminder for a specific
// occurrence of a recurring alarm. It is a no-op unless the stored offset
// is negative, mainInstant is confirmed to be the next occurrence (not a
// sub-repetition), and the resulting reminder instant is still strictly
// before the next scheduled trigger including the occurrence's own
// sub-repetitions. It reports whether the reminder was activated.
func (e *Event) ActivateReminderAfter(cfg *SchedulingConfig, mainInstant datetime.DateTime) bool {
	if !e.reminder.AfterMain() || e.rec == nil {
		return false
	}
	sod := cfg.StartOfDay()

	// Confirm mainInstant is an actual occurrence of the rule.
	cursor := datetime.At(mainInstant.Effective(sod).Add(-time.Second))
	occ := e.rec.NextOccurrence(cursor, sod)
	if occ.IsZero() || !occ.Equal(mainInstant, sod) {
		return false
	}

	instant := datetime.At(mainInstant.Effective(sod).Add(-time.Duration(e.reminder.Minutes) * time.Minute))

	var next datetime.DateTime
	if !e.rep.IsZero() {
		next = mainInstant.Add(e.rep.Interval)
	} else {
		next = e.rec.NextOccurrence(mainInstant, sod)
	}
	if !next.IsZero() && !instant.Before(next, sod) {
		return false
	}

	e.nextMain = mainInstant
	e.nextRepeat = 0
	e.reminder.Activation = ReminderActive
	e.invalidate()
	return true
}

// Defer reschedules the next trigger to the given instant. See the rules
// in the package tests; the behavior differs between recurring and
// non-recurring alarms and between reminder and main deferrals.
func (e *Event) Defer(cfg *SchedulingConfig, now time.Time, to datetime.DateTime, reminderDeferral, adjustRecurrence bool) error {
	sod := cfg.StartOfDay()

	if reminderDeferral && !e.reminder.Exists() {
		return fmt.Errorf("%w: no reminder pending", ErrInvalidDeferral)
	}

	if e.rec == nil {
		if to.Before(e.nextMain, sod) {
			if reminderDeferral {
				// The reminder is consumed for this occurrence; the deferral
				// replaces it as the pending auxiliary trigger.
				e.reminder.Activation = ReminderInactive
				e.deferral = DeferralState{Kind: DeferralReminder, Time: to}
			} else {
				// The main occurrence is still ahead; it is not superseded.
				e.deferral = DeferralState{Kind: DeferralNormal, Time: to}
			}
		} else {
			// Deferring at or past the main instant supersedes it: the
			// reminder is gone and, the first time this happens, the main
			// sub-alarm expires and any at-login sub-alarm becomes
			// historical.
			e.reminder = ReminderState{}
			e.deferral = DeferralState{Kind: DeferralNormal, Time: to}
			if !e.mainExpired {
				e.mainExpired = true
				e.atLogin = false
			}
		}
		e.hideMaskedReminder(sod)
		e.invalidate()
		return nil
	}

	if reminderDeferral {
		if !to.Before(e.nextMain, sod) {
			return fmt.Errorf("%w: reminder deferral %s not before next occurrence %s",
				ErrInvalidDeferral, to, e.nextMain)
		}
		e.reminder.Activation = ReminderInactive
		e.deferral = DeferralState{Kind: DeferralReminder, Time: to}
		e.invalidate()
		return nil
	}

	e.deferral = DeferralState{Kind: DeferralNormal, Time: to}

	endOfCycle := e.nextMain.Add(e.rep.Total())
	if adjustRecurrence && endOfCycle.Effective(sod).Before(now) {
		// The whole current cycle is in the past: move to the first future
		// occurrence, expiring the alarm if none exists.
		e.advanceTo(cfg, datetime.At(now))
	} else if !e.rep.IsZero() {
		// Remember which sub-repetition the deferral falls before.
		e.nextRepeat = e.repeatIndexAfter(to, sod)
	}

	e.hideMaskedReminder(sod)
	e.invalidate()
	return nil
}

// repeatIndexAfter returns the index of the first sub-repetition at or
// after t, clamped to the repetition count; 0 means the main occurrence.
func (e *Event) repeatIndexAfter(t datetime.DateTime, sod time.Duration) int {
	if e.rep.IsZero() || !t.After(e.nextMain, sod) {
		return 0
	}
	delta := t.Effective(sod).Sub(e.nextMain.Effective(sod))
	n := int(delta/e.rep.Interval) + 1
	if delta%e.rep.Interval == 0 {
		n = int(delta / e.rep.Interval)
	}
	if n > e.rep.Count {
		n = e.rep.Count
	}
	return n
}

// hideMaskedReminder flips an active reminder to HiddenByDeferral when a
// normal deferral has been set past the reminder's computed instant.
func (e *Event) hideMaskedReminder(sod time.Duration) {
	if e.deferral.Kind != DeferralNormal {
		return
	}
	if !e.reminder.Exists() || e.reminder.Activation != ReminderActive {
		return
	}
	if e.deferral.Time.After(e.reminderInstant(sod), sod) {
		e.reminder.Activation = ReminderHidden
	}
}

// CancelDeferral clears any deferral. A reminder hidden by the deferral,
// or consumed by a reminder deferral, becomes active again. Calling it
// with no deferral set is a no-op.
func (e *Event) CancelDeferral() {
	if !e.deferral.Exists() {
		return
	}
	wasReminder := e.deferral.Kind == DeferralReminder
	e.deferral = DeferralState{}
	if e.reminder.Exists() {
		if e.reminder.Activation == ReminderHidden || wasReminder {
			e.reminder.Activation = ReminderActive
		}
	}
	e.invalidate()
}

// AdvancePast moves the next main instant forward to the first occurrence,
// main or sub-repetition, strictly after t. State is left unchanged if the
// current next instant is already after t. A before-main reminder is
// reactivated for the new occurrence unless it was once-only, and any
// reminder deferral is cleared.
func (e *Event) AdvancePast(cfg *SchedulingConfig, t datetime.DateTime) OccurrenceKind {
	sod := cfg.StartOfDay()
	cur := e.currentTrigger()
	if !e.mainExpired && cur.After(t, sod) {
		return e.currentKind(cfg)
	}
	return e.advanceTo(cfg, t)
}

func (e *Event) advanceTo(cfg *SchedulingConfig, t datetime.DateTime) OccurrenceKind {
	main, repeat, kind := e.occurrenceAfter(cfg, t)
	if kind == OccurrenceNone {
		e.mainExpired = true
		e.invalidate()
		return OccurrenceNone
	}

	newOccurrence := !main.Equal(e.nextMain, cfg.StartOfDay())
	e.nextMain = main
	e.nextRepeat = repeat

	if e.deferral.Kind == DeferralReminder {
		e.deferral = DeferralState{}
	}
	if newOccurrence && e.reminder.BeforeMain() {
		if e.reminder.OnceOnly {
			e.reminder.Activation = ReminderInactive
		} else {
			e.reminder.Activation = ReminderActive
		}
	}
	e.invalidate()
	return kind
}

// currentTrigger is the current next instant including the pending
// sub-repetition offset.
func (e *Event) currentTrigger() datetime.DateTime {
	if e.nextRepeat > 0 {
		return e.nextMain.Add(time.Duration(e.nextRepeat) * e.rep.Interval)
	}
	return e.nextMain
}

func (e *Event) currentKind(cfg *SchedulingConfig) OccurrenceKind {
	if e.nextRepeat > 0 {
		return OccurrenceSubRepetition
	}
	if e.rec == nil {
		return OccurrenceFirstOrOnly
	}
	if e.rec.NextOccurrence(e.nextMain, cfg.StartOfDay()).IsZero() {
		return OccurrenceLast
	}
	return OccurrenceRecurrence
}

// occurrenceAfter finds the first trigger strictly after t: either a
// sub-repetition of the occurrence preceding t, or the next main
// occurrence. It returns the owning main instant, the sub-repetition
// index, and the occurrence kind.
func (e *Event) occurrenceAfter(cfg *SchedulingConfig, t datetime.DateTime) (datetime.DateTime, int, OccurrenceKind) {
	sod := cfg.StartOfDay()

	if e.rec == nil {
		if e.nextMain.After(t, sod) {
			return e.nextMain, 0, OccurrenceFirstOrOnly
		}
		if !e.rep.IsZero() {
			n := e.repeatIndexStrictlyAfter(e.nextMain, t, sod)
			if n > 0 && n <= e.rep.Count {
				return e.nextMain, n, OccurrenceSubRepetition
			}
		}
		return datetime.DateTime{}, 0, OccurrenceNone
	}

	// A sub-repetition of the occurrence at or before t may still be ahead.
	if !e.rep.IsZero() {
		probe := datetime.At(t.Effective(sod).Add(time.Second))
		prev := e.rec.PreviousOccurrence(probe, sod)
		if !prev.IsZero() {
			n := e.repeatIndexStrictlyAfter(prev, t, sod)
			if n > 0 && n <= e.rep.Count {
				return prev, n, OccurrenceSubRepetition
			}
		}
	}

	occ := e.rec.NextOccurrence(t, sod)
	if occ.IsZero() {
		return datetime.DateTime{}, 0, OccurrenceNone
	}
	kind := OccurrenceRecurrence
	if e.rec.NextOccurrence(occ, sod).IsZero() {
		kind = OccurrenceLast
	}
	return occ, 0, kind
}

// repeatIndexStrictlyAfter returns the smallest sub-repetition index n of
// main with main + n*interval strictly after t, or 0 when even the final
// repetition is not.
func (e *Event) repeatIndexStrictlyAfter(main, t datetime.DateTime, sod time.Duration) int {
	if e.rep.IsZero() {
		return 0
	}
	for n := 1; n <= e.rep.Count; n++ {
		if main.Add(time.Duration(n) * e.rep.Interval).After(t, sod) {
			return n
		}
	}
	return 0
}

// LimitReason explains which constraint bounds a deferral.
type LimitReason int

const (
	LimitNone LimitReason = iota
	LimitMain
	LimitRecurrence
	LimitSubRepetition
	LimitReminder
)

func (r LimitReason) String() string {
	switch r {
	case LimitMain:
		return "main"
	case LimitRecurrence:
		return "recurrence"
	case LimitSubRepetition:
		return "sub-repetition"
	case LimitReminder:
		return "reminder"
	default:
		return "none"
	}
}

// DeferralLimit returns the latest instant a deferral may be set to right
// now, one minute before the constraining trigger, and the constraint's
// reason. A zero DateTime means the deferral is unlimited.
func (e *Event) DeferralLimit(cfg *SchedulingConfig, now time.Time) (datetime.DateTime, LimitReason) {
	sod := cfg.StartOfDay()
	nowDT := datetime.At(now)

	var limit datetime.DateTime
	reason := LimitNone

	if e.rec != nil {
		main, repeat, kind := e.occurrenceAfter(cfg, nowDT)
		if kind != OccurrenceNone {
			limit = main
			reason = LimitRecurrence
			if repeat > 0 {
				limit = main.Add(time.Duration(repeat) * e.rep.Interval)
				reason = LimitSubRepetition
			}
		}
	} else if !e.mainExpired && e.reminder.BeforeMain() &&
		(e.reminder.Activation == ReminderActive || e.deferral.Kind == DeferralReminder) {
		// A before-reminder of a one-shot alarm, fired or already under a
		// reminder deferral, cannot be pushed past its own main occurrence.
		if e.nextMain.Effective(sod).After(now) {
			limit = e.nextMain
			reason = LimitMain
		}
	}

	if e.reminder.BeforeMain() && e.reminder.Activation == ReminderActive {
		rt := e.reminderInstant(sod)
		if rt.Effective(sod).After(now) && (limit.IsZero() || rt.Before(limit, sod)) {
			limit = rt
			reason = LimitReminder
		}
	}

	if limit.IsZero() {
		return datetime.DateTime{}, LimitNone
	}
	return datetime.At(limit.Effective(sod).Add(-time.Minute)), reason
}
