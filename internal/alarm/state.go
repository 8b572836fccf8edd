package alarm

import (
	"alarmd/internal/datetime"
)

// ReminderActivation is the reminder's tri-state lifecycle.
type ReminderActivation int

const (
	ReminderInactive ReminderActivation = iota
	ReminderActive
	// ReminderHidden marks a reminder masked by a deferral set to a time
	// past the reminder's computed instant; cancelling the deferral or
	// advancing to a new occurrence reactivates it.
	ReminderHidden
)

func (a ReminderActivation) String() string {
	switch a {
	case ReminderActive:
		return "active"
	case ReminderHidden:
		return "hidden-by-deferral"
	default:
		return "inactive"
	}
}

// ReminderState holds the auxiliary reminder trigger: Minutes > 0 fires
// before the main occurrence, Minutes < 0 after it, 0 means no reminder.
type ReminderState struct {
	Minutes    int
	OnceOnly   bool
	Activation ReminderActivation
}

func (r ReminderState) Exists() bool { return r.Minutes != 0 }

func (r ReminderState) AfterMain() bool { return r.Minutes < 0 }

func (r ReminderState) BeforeMain() bool { return r.Minutes > 0 }

// DeferralKind distinguishes the two deferral flavors.
type DeferralKind int

const (
	DeferralNone DeferralKind = iota
	// DeferralNormal marks the main occurrence (or one of its
	// sub-repetitions) as rescheduled.
	DeferralNormal
	// DeferralReminder postpones a pending reminder without touching the
	// main occurrence.
	DeferralReminder
)

func (k DeferralKind) String() string {
	switch k {
	case DeferralNormal:
		return "normal"
	case DeferralReminder:
		return "reminder"
	default:
		return "none"
	}
}

// DeferralState is the one-off override of the next trigger instant.
type DeferralState struct {
	Kind DeferralKind
	Time datetime.DateTime
}

func (d DeferralState) Exists() bool { return d.Kind != DeferralNone }
