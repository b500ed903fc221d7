package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/jobcore/internal/domain/sched"
)

func TestEverySchedule(t *testing.T) {
	s := sched.Every(5 * time.Minute)
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, from.Add(5*time.Minute), s.Next(from))
}

func TestCronSchedule(t *testing.T) {
	s, err := sched.Cron("0 * * * *")
	require.NoError(t, err)

	from := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), s.Next(from))
}

func TestCronScheduleInvalid(t *testing.T) {
	_, err := sched.Cron("not a cron line")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron expression")
}

func TestDue(t *testing.T) {
	s := sched.Every(10 * time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last time.Time
		want bool
	}{
		{name: "never run", last: time.Time{}, want: true},
		{name: "interval elapsed", last: now.Add(-11 * time.Minute), want: true},
		{name: "interval exactly elapsed", last: now.Add(-10 * time.Minute), want: true},
		{name: "interval not elapsed", last: now.Add(-9 * time.Minute), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sched.Due(s, tt.last, now))
		})
	}
}

func TestDueNilSchedule(t *testing.T) {
	assert.False(t, sched.Due(nil, time.Time{}, time.Now()))
}
