package alarm

import (
	"time"

	"alarmd/internal/datetime"
)

// TriggerFlavor selects one of the four next-trigger queries.
type TriggerFlavor int

const (
	// TriggerAll is the next trigger of any kind, reminders included.
	TriggerAll TriggerFlavor = iota
	// TriggerMain is the next main occurrence or sub-repetition only.
	TriggerMain
	// TriggerAllWork is TriggerAll with the working-time and holiday
	// restrictions applied.
	TriggerAllWork
	// TriggerMainWork is TriggerMain with the working-time and holiday
	// restrictions applied.
	TriggerMainWork
)

// cachedTriggers memoizes one recompute pass. The cache is stale when a
// mutation has invalidated it or when the scheduling configuration epoch
// has moved on.
type cachedTriggers struct {
	valid  bool
	epoch  uint64
	values [4]datetime.DateTime
}

func (e *Event) invalidate() { e.cache.valid = false }

// NextTrigger returns the next trigger instant for the given flavor, or a
// zero DateTime when the alarm will not trigger under that policy. All
// four flavors are derived from a single cached computation pass.
func (e *Event) NextTrigger(cfg *SchedulingConfig, flavor TriggerFlavor) datetime.DateTime {
	if !e.cache.valid || e.cache.epoch != cfg.Epoch() {
		e.cache = computeTriggers(e, cfg)
	}
	return e.cache.values[flavor]
}

// computeTriggers derives all four trigger flavors from the engine state
// and the scheduling config. It never fails: when the bounded working-time
// search finds nothing, the restricted flavors are zero and the caller
// treats the alarm as not triggering under that policy.
func computeTriggers(e *Event, cfg *SchedulingConfig) cachedTriggers {
	ct := cachedTriggers{valid: true, epoch: cfg.Epoch()}

	// A normal deferral overrides everything, and working-time restriction
	// is defined to be ignored for a deferred trigger.
	if e.deferral.Kind == DeferralNormal {
		for i := range ct.values {
			ct.values[i] = e.deferral.Time
		}
		return ct
	}

	sod := cfg.StartOfDay()

	var main datetime.DateTime
	if !e.mainExpired {
		main = e.currentTrigger()
	}
	ct.values[TriggerMain] = main
	ct.values[TriggerAll] = withReminder(e, main, sod)

	restricted := (e.workTimeOnly || e.excludeHolidays) && e.rec != nil
	if !restricted {
		ct.values[TriggerMainWork] = ct.values[TriggerMain]
		ct.values[TriggerAllWork] = ct.values[TriggerAll]
		return ct
	}

	mainWork := e.nextWorkTrigger(cfg)
	ct.values[TriggerMainWork] = mainWork
	ct.values[TriggerAllWork] = withReminder(e, mainWork, sod)
	return ct
}

// withReminder applies the reminder layering to a main trigger: an active
// before-reminder that fires earlier wins, else a pending reminder
// deferral, else the main trigger itself.
func withReminder(e *Event, main datetime.DateTime, sod time.Duration) datetime.DateTime {
	if main.IsZero() {
		if e.deferral.Kind == DeferralReminder {
			return e.deferral.Time
		}
		return main
	}
	if e.reminder.BeforeMain() && e.reminder.Activation == ReminderActive {
		// The offset applies to the effective instant, so a date-only
		// occurrence resolves through the start of day first.
		instant := datetime.At(main.Effective(sod).Add(-time.Duration(e.reminder.Minutes) * time.Minute))
		if instant.Before(main, sod) {
			return instant
		}
	}
	if e.deferral.Kind == DeferralReminder {
		return e.deferral.Time
	}
	return main
}
