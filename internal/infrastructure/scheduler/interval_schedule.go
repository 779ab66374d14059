package scheduler

import (
	"fmt"
	"math/rand"
	"time"
)

// IntervalSchedule runs a job every Interval, optionally delayed by up to
// Jitter so that several instances do not fire in lockstep.
type IntervalSchedule struct {
	Interval time.Duration
	Jitter   time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule. Non-positive intervals
// fall back to one minute.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

// WithJitter sets the maximum random delay added to each run.
func (s *IntervalSchedule) WithJitter(jitter time.Duration) *IntervalSchedule {
	s.Jitter = jitter
	return s
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	next := t.Add(s.Interval)
	if s.Jitter > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(s.Jitter))))
	}
	return next
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	if s.Jitter > 0 {
		return fmt.Sprintf("@every %s ~%s", s.Interval, s.Jitter)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
