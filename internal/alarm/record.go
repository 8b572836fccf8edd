package alarm

import (
	"fmt"
	"time"

	"alarmd/internal/datetime"
	"alarmd/internal/recurrence"
)

// Record is the flat per-alarm state exchanged with the storage
// collaborator: everything the engine needs to resume exactly where a
// previous process left off. Trigger query results are not part of it;
// they are recomputed on load.
type Record struct {
	Start    datetime.DateTime
	NextMain datetime.DateTime

	Recurrence *recurrence.Spec

	RepeatInterval time.Duration
	RepeatCount    int
	NextRepeat     int

	ReminderMinutes    int
	ReminderOnceOnly   bool
	ReminderActivation ReminderActivation

	DeferralKind DeferralKind
	DeferredTo   datetime.DateTime

	MainExpired bool
	AtLogin     bool
	Displaying  bool

	WorkTimeOnly    bool
	ExcludeHolidays bool
}

// FromRecord restores an engine from a deserialized record. A malformed
// recurrence or repetition is returned as an error; the caller decides
// whether to retry with the offending part cleared.
func FromRecord(rec Record) (*Event, error) {
	if rec.Start.IsZero() {
		return nil, fmt.Errorf("alarm: record missing start instant")
	}
	e := &Event{
		start:           rec.Start,
		nextMain:        rec.NextMain,
		mainExpired:     rec.MainExpired,
		atLogin:         rec.AtLogin,
		displaying:      rec.Displaying,
		workTimeOnly:    rec.WorkTimeOnly,
		excludeHolidays: rec.ExcludeHolidays,
	}
	if e.nextMain.IsZero() {
		e.nextMain = rec.Start
	}

	if rec.Recurrence != nil {
		spec := *rec.Recurrence
		spec.Start = rec.Start
		r, err := recurrence.New(spec)
		if err != nil {
			return nil, err
		}
		e.rec = r
	}

	if rec.RepeatInterval != 0 || rec.RepeatCount != 0 {
		if e.rec == nil {
			return nil, ErrNoRecurrence
		}
		rep, err := NewSubRepetition(rec.RepeatInterval, rec.RepeatCount, rec.Start.IsDateOnly())
		if err != nil {
			return nil, err
		}
		e.rep = rep.fitWithin(e.rec.LongestInterval())
		if rec.NextRepeat >= 0 && rec.NextRepeat <= e.rep.Count {
			e.nextRepeat = rec.NextRepeat
		}
	}

	if rec.ReminderMinutes != 0 {
		minutes := rec.ReminderMinutes
		if rec.AtLogin && minutes > 0 {
			minutes = 0
		}
		if minutes != 0 {
			e.reminder = ReminderState{
				Minutes:    minutes,
				OnceOnly:   rec.ReminderOnceOnly,
				Activation: rec.ReminderActivation,
			}
		}
	}

	if rec.DeferralKind != DeferralNone {
		if rec.DeferredTo.IsZero() {
			return nil, fmt.Errorf("%w: record deferral without instant", ErrInvalidDeferral)
		}
		e.deferral = DeferralState{Kind: rec.DeferralKind, Time: rec.DeferredTo}
	}

	return e, nil
}

// Record snapshots the engine back into the flat storage shape.
func (e *Event) Record() Record {
	rec := Record{
		Start:              e.start,
		NextMain:           e.nextMain,
		RepeatInterval:     e.rep.Interval,
		RepeatCount:        e.rep.Count,
		NextRepeat:         e.nextRepeat,
		ReminderMinutes:    e.reminder.Minutes,
		ReminderOnceOnly:   e.reminder.OnceOnly,
		ReminderActivation: e.reminder.Activation,
		DeferralKind:       e.deferral.Kind,
		DeferredTo:         e.deferral.Time,
		MainExpired:        e.mainExpired,
		AtLogin:            e.atLogin,
		Displaying:         e.displaying,
		WorkTimeOnly:       e.workTimeOnly,
		ExcludeHolidays:    e.excludeHolidays,
	}
	if e.rec != nil {
		spec := e.rec.Spec()
		rec.Recurrence = &spec
	}
	return rec
}
