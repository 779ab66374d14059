package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a Schedule driven by a standard five-field cron expression:
// minute hour day-of-month month day-of-week.
//
//	"*/5 * * * *"   every five minutes
//	"0 2 * * *"     every day at 02:00
//	"30 1 * * 1-5"  weekdays at 01:30
type CronSchedule struct {
	expr     string
	location *time.Location
	fields   [5]bitset
}

// bitset holds the allowed values of one field; bit n set means n matches.
type bitset uint64

func (b bitset) has(v int) bool { return b&(1<<uint(v)) != 0 }

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses expr and evaluates it in loc. A nil loc means UTC.
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(parts))
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &CronSchedule{expr: strings.Join(parts, " "), location: loc}
	for i, part := range parts {
		set, err := parseCronField(part, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s: %w", expr, cronFields[i].name, err)
		}
		s.fields[i] = set
	}
	if s.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("cron %q never fires", expr)
	}
	return s, nil
}

// parseCronField accepts comma-separated terms, each one of "*", "n", "n-m",
// optionally followed by "/step".
func parseCronField(field string, f cronField) (bitset, error) {
	var set bitset
	for _, term := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(term, "/")

		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
		}

		lo, hi := f.min, f.max
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = cronValue(a, f); err != nil {
				return 0, err
			}
			if hi, err = cronValue(b, f); err != nil {
				return 0, err
			}
			if lo > hi {
				return 0, fmt.Errorf("empty range %q", rng)
			}
		default:
			v, err := cronValue(rng, f)
			if err != nil {
				return 0, err
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}

		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func cronValue(s string, f cronField) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", v, f.min, f.max)
	}
	return v, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// if nothing matches within a year.
func (s *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(s.location).Truncate(time.Minute).Add(time.Minute)

	const limit = 366 * 24 * 60
	for i := 0; i < limit; i++ {
		if s.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (s *CronSchedule) matches(t time.Time) bool {
	return s.fields[0].has(t.Minute()) &&
		s.fields[1].has(t.Hour()) &&
		s.fields[2].has(t.Day()) &&
		s.fields[3].has(int(t.Month())) &&
		s.fields[4].has(int(t.Weekday()))
}

// String returns the normalized expression.
func (s *CronSchedule) String() string {
	return s.expr
}
