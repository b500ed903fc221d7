// Package sched holds the pure dueness logic the scheduler consults each tick.
package sched

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule decides when the next run after a given instant should happen.
type Schedule interface {
	// Next returns the first fire time strictly after from.
	Next(from time.Time) time.Time
}

type everySchedule struct {
	interval time.Duration
}

// Every returns a fixed-interval schedule.
func Every(interval time.Duration) Schedule {
	return everySchedule{interval: interval}
}

func (s everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

type cronSchedule struct {
	inner cron.Schedule
}

// Cron parses a standard 5-field cron expression into a Schedule.
func Cron(expr string) (Schedule, error) {
	inner, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return cronSchedule{inner: inner}, nil
}

func (s cronSchedule) Next(from time.Time) time.Time {
	return s.inner.Next(from)
}

// Due reports whether a job whose last run started at last is due again at
// now. A zero last means the job has never run and is immediately due.
func Due(s Schedule, last, now time.Time) bool {
	if s == nil {
		return false
	}
	if last.IsZero() {
		return true
	}
	next := s.Next(last)
	return !next.After(now)
}
