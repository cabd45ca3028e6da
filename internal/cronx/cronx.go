// Package cronx computes past and future firing times for standard
// 5-field cron expressions.
//
// robfig/cron only exposes Next; Prev is derived by expanding a lookback
// window until a firing lands inside it, then walking Next forward to the
// last firing at-or-before the reference instant.
package cronx

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoPrev is returned when no firing exists within the lookback bound
// (roughly one year).
var ErrNoPrev = errors.New("cronx: no previous firing within lookback window")

// maxLookback bounds the Prev search. A standard 5-field expression that
// fires at all fires at least once a year.
const maxLookback = 366 * 24 * time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parse(expr string, loc *time.Location) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronx: parse %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

// Validate reports whether expr is a parseable 5-field cron expression.
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("cronx: parse %q: %w", expr, err)
	}
	return nil
}

// Next returns the first firing strictly after ref.
func Next(expr string, ref time.Time, loc *time.Location) (time.Time, error) {
	sched, err := parse(expr, loc)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(ref), nil
}

// Prev returns the most recent firing at-or-before ref.
func Prev(expr string, ref time.Time, loc *time.Location) (time.Time, error) {
	sched, err := parse(expr, loc)
	if err != nil {
		return time.Time{}, err
	}

	// Cron fires at minute granularity; drop sub-minute noise so a ref
	// exactly on a boundary counts that boundary as the previous firing.
	ref = ref.Truncate(time.Minute)

	for back := time.Minute; back <= maxLookback; back *= 2 {
		start := ref.Add(-back)
		t := sched.Next(start)
		if t.IsZero() || t.After(ref) {
			continue
		}
		// A firing exists inside (start, ref]; walk to the last one.
		last := t
		for {
			n := sched.Next(last)
			if n.IsZero() || n.After(ref) {
				return last, nil
			}
			last = n
		}
	}
	return time.Time{}, ErrNoPrev
}

// Location resolves an IANA timezone name, falling back to UTC when the
// name is empty or unknown.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
