package alarm

import "errors"

var (
	// ErrInvalidDeferral reports a deferral target that violates the
	// "must precede the next occurrence" rule for a reminder deferral on a
	// recurring alarm, or a reminder deferral with no reminder pending.
	ErrInvalidDeferral = errors.New("alarm: invalid deferral")

	// ErrInvalidRepetition reports a sub-repetition whose interval is
	// sub-daily on a date-only alarm, or mismatched interval/count zeroes.
	ErrInvalidRepetition = errors.New("alarm: invalid sub-repetition")

	// ErrNoRecurrence reports an operation requiring a recurrence called on
	// a non-recurring alarm.
	ErrNoRecurrence = errors.New("alarm: no recurrence configured")
)
