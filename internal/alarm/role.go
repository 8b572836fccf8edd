package alarm

import (
	"alarmd/internal/datetime"
)

// RoleKind identifies one of the sub-alarm roles that can coexist within a
// single logical alarm.
type RoleKind int

const (
	RoleMain RoleKind = iota
	RoleReminder
	RoleDeferral
	RoleAtLogin
	RoleDisplaying
	// The three silent ancillary roles are never enumerated by the role
	// traversal; they resolve relative to whichever role above carries the
	// display-triggering instant.
	RoleAudio
	RolePreAction
	RolePostAction
)

func (k RoleKind) String() string {
	switch k {
	case RoleMain:
		return "main"
	case RoleReminder:
		return "reminder"
	case RoleDeferral:
		return "deferral"
	case RoleAtLogin:
		return "at-login"
	case RoleDisplaying:
		return "displaying"
	case RoleAudio:
		return "audio"
	case RolePreAction:
		return "pre-action"
	default:
		return "post-action"
	}
}

// Role is one instantiated sub-alarm: its kind, its resolved instant, and
// the per-kind qualifiers. Using a single struct with per-kind fields
// (rather than flag combinations) keeps impossible mixes, such as a
// deferral that is also at-login, unrepresentable by construction.
type Role struct {
	Kind RoleKind
	Time datetime.DateTime

	// After is set on RoleReminder when the reminder fires after the main
	// occurrence rather than before it.
	After bool

	// Deferral carries the deferral flavor on RoleDeferral; Timed is false
	// when the deferral target is date-only.
	Deferral DeferralKind
	Timed    bool

	// Repeats is set on RoleMain when the occurrence participates in the
	// sub-repetition cycle.
	Repeats bool
}

// Roles enumerates the alarm's live sub-alarms in traversal order:
// Main, Reminder, Deferral, AtLogin, Displaying.
func (e *Event) Roles(cfg *SchedulingConfig) []Role {
	out := make([]Role, 0, 4)

	if !e.mainExpired {
		out = append(out, Role{
			Kind:    RoleMain,
			Time:    e.nextMain,
			Repeats: !e.rep.IsZero(),
		})
	}
	if e.reminder.Exists() && e.reminder.Activation == ReminderActive {
		out = append(out, Role{
			Kind:  RoleReminder,
			Time:  e.reminderInstant(cfg.StartOfDay()),
			After: e.reminder.AfterMain(),
		})
	}
	if e.deferral.Exists() {
		out = append(out, Role{
			Kind:     RoleDeferral,
			Time:     e.deferral.Time,
			Deferral: e.deferral.Kind,
			Timed:    !e.deferral.Time.IsDateOnly(),
		})
	}
	if e.atLogin {
		out = append(out, Role{Kind: RoleAtLogin, Time: e.nextMain})
	}
	if e.displaying {
		out = append(out, Role{Kind: RoleDisplaying, Time: e.nextMain})
	}
	return out
}

// NextRole returns the first live role strictly following after in the
// traversal order, for enumerating all live sub-alarms of one alarm.
func (e *Event) NextRole(cfg *SchedulingConfig, after RoleKind) (Role, bool) {
	for _, r := range e.Roles(cfg) {
		if r.Kind > after {
			return r, true
		}
	}
	return Role{}, false
}

// FirstRole returns the first live role in traversal order.
func (e *Event) FirstRole(cfg *SchedulingConfig) (Role, bool) {
	roles := e.Roles(cfg)
	if len(roles) == 0 {
		return Role{}, false
	}
	return roles[0], true
}

// IsValid reports whether the alarm still has anything to trigger: an alarm
// with no live sub-alarms, or with only a bare at-login sub-alarm, is
// invalid.
func (e *Event) IsValid(cfg *SchedulingConfig) bool {
	roles := e.Roles(cfg)
	switch len(roles) {
	case 0:
		return false
	case 1:
		return roles[0].Kind != RoleAtLogin
	default:
		return true
	}
}
