// Package registry holds the live set of alarms and serializes all access
// to their trigger engines: the engines themselves are single-threaded, so
// one lock here covers both the periodic re-evaluation loop and the HTTP
// handlers.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/datetime"
	appLog "alarmd/internal/log"
	"alarmd/internal/recurrence"
)

// ErrNotFound reports an unknown alarm ID.
var ErrNotFound = errors.New("registry: alarm not found")

// Entry is one registered alarm.
type Entry struct {
	ID      uuid.UUID
	Message string
	Event   *alarm.Event
}

// Snapshot is a read-only view of one alarm with its computed triggers.
type Snapshot struct {
	ID      uuid.UUID
	Message string
	Record  alarm.Record
	Valid   bool

	NextAll      datetime.DateTime
	NextMain     datetime.DateTime
	NextAllWork  datetime.DateTime
	NextMainWork datetime.DateTime
}

// Registry owns the alarms and the scheduling configuration they are
// evaluated against.
type Registry struct {
	mu      sync.Mutex
	sched   *alarm.SchedulingConfig
	loc     *time.Location
	entries []*Entry
	byID    map[uuid.UUID]*Entry
}

func New(sched *alarm.SchedulingConfig, loc *time.Location) *Registry {
	if loc == nil {
		loc = time.Local
	}
	return &Registry{
		sched: sched,
		loc:   loc,
		byID:  make(map[uuid.UUID]*Entry),
	}
}

// SchedulingView is a point-in-time copy of the scheduling settings, taken
// under the registry lock. Mutations go through WithConfig; readers use
// this view so they never touch the live config unsynchronized.
type SchedulingView struct {
	WorkDays     []time.Weekday
	HolidayCount int
}

// SchedulingSnapshot copies the settings the HTTP layer reports, pairing
// with WithConfig so readers never observe a half-applied change.
func (r *Registry) SchedulingSnapshot() SchedulingView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SchedulingView{
		WorkDays:     r.sched.WorkDays(),
		HolidayCount: r.sched.Holidays().Len(),
	}
}

// WithConfig runs fn with exclusive access to the scheduling config, for
// applying working-time or holiday changes; affected caches invalidate
// themselves through the epoch counter on the next query.
func (r *Registry) WithConfig(fn func(*alarm.SchedulingConfig)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.sched)
}

// LoadAlarms builds entries from the configured alarm list. An alarm with
// a malformed recurrence rule is kept without its recurrence; an otherwise
// unusable alarm is skipped. Both are logged rather than failing the load.
func (r *Registry) LoadAlarms(alarms []config.AlarmConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ac := range alarms {
		entry, err := r.buildEntry(ac)
		if err != nil {
			appLog.Error("skipping unusable alarm", err, "id", ac.ID, "message", ac.Message)
			continue
		}
		r.entries = append(r.entries, entry)
		r.byID[entry.ID] = entry
	}
	appLog.Info("alarms loaded", "count", len(r.entries))
}

func (r *Registry) buildEntry(ac config.AlarmConfig) (*Entry, error) {
	start, err := parseStart(ac.Start, r.loc)
	if err != nil {
		return nil, err
	}

	opts := alarm.Options{
		Start:            start,
		ReminderMinutes:  ac.ReminderMinutes,
		ReminderOnceOnly: ac.ReminderOnceOnly,
		AtLogin:          ac.AtLogin,
		WorkTimeOnly:     ac.WorkTimeOnly,
		ExcludeHolidays:  ac.ExcludeHolidays,
	}

	if ac.RRule != "" {
		spec, err := recurrence.ParseRRule(ac.RRule)
		if err != nil {
			// Fall back to a one-shot alarm rather than dropping it; the
			// engine never self-heals, so the decision is made here.
			appLog.Warn("malformed recurrence rule; alarm treated as one-shot",
				"id", ac.ID, "rrule", ac.RRule, "reason", err.Error())
		} else {
			if spec.Kind == recurrence.KindYearlyDate {
				spec.Feb29 = r.sched.DefaultFeb29()
			}
			opts.Recurrence = &spec
		}
	}

	if ac.RepeatInterval != "" || ac.RepeatCount != 0 {
		interval, err := time.ParseDuration(ac.RepeatInterval)
		if err != nil {
			return nil, fmt.Errorf("bad repeat_interval %q: %w", ac.RepeatInterval, err)
		}
		rep, err := alarm.NewSubRepetition(interval, ac.RepeatCount, start.IsDateOnly())
		if err != nil {
			return nil, err
		}
		opts.Repetition = rep
	}

	ev, err := alarm.New(opts)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if ac.ID != "" {
		if parsed, perr := uuid.Parse(ac.ID); perr == nil {
			id = parsed
		}
	}

	return &Entry{ID: id, Message: ac.Message, Event: ev}, nil
}

// parseStart accepts RFC 3339 for timed alarms and 2006-01-02 for
// date-only alarms.
func parseStart(s string, loc *time.Location) (datetime.DateTime, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return datetime.At(t.In(loc)), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return datetime.DateOf(t), nil
	}
	return datetime.DateTime{}, fmt.Errorf("registry: bad start instant %q", s)
}

// Add registers an alarm built elsewhere and returns its assigned ID.
func (r *Registry) Add(message string, ev *alarm.Event) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := &Entry{ID: uuid.New(), Message: message, Event: ev}
	r.entries = append(r.entries, entry)
	r.byID[entry.ID] = entry
	return entry.ID
}

// Snapshots returns a view of every alarm with its four trigger flavors.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, r.snapshotLocked(e))
	}
	return out
}

// Snapshot returns the view of a single alarm.
func (r *Registry) Snapshot(id uuid.UUID) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return r.snapshotLocked(e), nil
}

func (r *Registry) snapshotLocked(e *Entry) Snapshot {
	return Snapshot{
		ID:           e.ID,
		Message:      e.Message,
		Record:       e.Event.Record(),
		Valid:        e.Event.IsValid(r.sched),
		NextAll:      e.Event.NextTrigger(r.sched, alarm.TriggerAll),
		NextMain:     e.Event.NextTrigger(r.sched, alarm.TriggerMain),
		NextAllWork:  e.Event.NextTrigger(r.sched, alarm.TriggerAllWork),
		NextMainWork: e.Event.NextTrigger(r.sched, alarm.TriggerMainWork),
	}
}

// Defer applies a deferral to one alarm.
func (r *Registry) Defer(id uuid.UUID, now time.Time, to datetime.DateTime, reminderDeferral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	return e.Event.Defer(r.sched, now, to, reminderDeferral, true)
}

// CancelDeferral clears a deferral on one alarm.
func (r *Registry) CancelDeferral(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.Event.CancelDeferral()
	return nil
}

// AdvancePastNow moves every alarm past the given instant, logging the
// outcome, and returns how many alarms still have a future trigger. The
// daemon's periodic loop drives this.
func (r *Registry) AdvancePastNow(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for _, e := range r.entries {
		kind := e.Event.AdvancePast(r.sched, datetime.At(now))
		if kind == alarm.OccurrenceNone {
			appLog.Debug("alarm has no further occurrences", "id", e.ID.String(), "message", e.Message)
			continue
		}
		live++
		appLog.Debug("alarm advanced",
			"id", e.ID.String(),
			"kind", kind.String(),
			"next", e.Event.NextTrigger(r.sched, alarm.TriggerAll).String(),
		)
	}
	return live
}

// Len returns the number of registered alarms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
