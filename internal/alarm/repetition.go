package alarm

import (
	"fmt"
	"time"
)

// SubRepetition describes a fixed number of extra firings at a fixed
// interval after each primary occurrence. The zero value means no
// repetition; Interval and Count are always both zero or both non-zero.
type SubRepetition struct {
	Interval time.Duration
	Count    int
}

// NewSubRepetition validates the interval/count pair. dateOnly restricts
// the interval to whole days, since a date-only alarm has no intrinsic
// time of day for a sub-daily repeat to attach to.
func NewSubRepetition(interval time.Duration, count int, dateOnly bool) (SubRepetition, error) {
	if interval < 0 || count < 0 {
		return SubRepetition{}, fmt.Errorf("%w: negative interval or count", ErrInvalidRepetition)
	}
	if (interval == 0) != (count == 0) {
		return SubRepetition{}, fmt.Errorf("%w: interval and count must be zero together", ErrInvalidRepetition)
	}
	if interval == 0 {
		return SubRepetition{}, nil
	}
	if dateOnly && interval%(24*time.Hour) != 0 {
		return SubRepetition{}, fmt.Errorf("%w: sub-daily interval on a date-only alarm", ErrInvalidRepetition)
	}
	return SubRepetition{Interval: interval, Count: count}, nil
}

func (r SubRepetition) IsZero() bool { return r.Count == 0 }

// Total is the span from a primary occurrence to its final sub-repetition.
func (r SubRepetition) Total() time.Duration {
	return time.Duration(r.Count) * r.Interval
}

// fitWithin truncates the repetition so its total span stays strictly
// inside the given recurrence interval. A repetition that cannot fit at
// all collapses to none.
func (r SubRepetition) fitWithin(longest time.Duration) SubRepetition {
	if r.IsZero() || longest <= 0 {
		return r
	}
	if r.Total() < longest {
		return r
	}
	count := int((longest - 1) / r.Interval)
	if count <= 0 {
		return SubRepetition{}
	}
	return SubRepetition{Interval: r.Interval, Count: count}
}
