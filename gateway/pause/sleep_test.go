package pause

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ghostwriter-im/ghostwriter/gateway"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 1, hour, minute, 30, 0, time.UTC)
}

func TestIsSleeping(t *testing.T) {
	tests := []struct {
		name  string
		cfg   gateway.SleepConfig
		now   time.Time
		sleep bool
	}{
		{
			name:  "disabled",
			cfg:   gateway.SleepConfig{Enabled: false, StartHour: 23, EndHour: 7},
			now:   at(2, 0),
			sleep: false,
		},
		{
			name:  "wrap around, late night",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7},
			now:   at(23, 30),
			sleep: true,
		},
		{
			name:  "wrap around, early morning",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7},
			now:   at(6, 59),
			sleep: true,
		},
		{
			name:  "wrap around, daytime",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7},
			now:   at(12, 0),
			sleep: false,
		},
		{
			name:  "end boundary is awake",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7},
			now:   at(7, 0),
			sleep: false,
		},
		{
			name:  "start boundary is asleep",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7},
			now:   at(23, 0),
			sleep: true,
		},
		{
			name:  "plain range",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 13, EndHour: 14},
			now:   at(13, 30),
			sleep: true,
		},
		{
			name:  "degenerate window never sleeps",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 8, EndHour: 8},
			now:   at(8, 0),
			sleep: false,
		},
		{
			name:  "timezone offset shifts the window",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7, TimezoneOffset: 3},
			now:   at(21, 0), // 00:00 local
			sleep: true,
		},
		{
			name:  "negative offset",
			cfg:   gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7, TimezoneOffset: -5},
			now:   at(2, 0), // 21:00 local
			sleep: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sleep, NewSleep(tt.cfg).IsSleeping(tt.now))
		})
	}
}

func TestNextWake(t *testing.T) {
	s := NewSleep(gateway.SleepConfig{Enabled: true, StartHour: 23, EndHour: 7})

	// Awake: now comes back unchanged.
	now := at(12, 0)
	assert.Equal(t, now, s.NextWake(now))

	// Early morning: wake later the same day.
	wake := s.NextWake(at(3, 15))
	assert.Equal(t, at(7, 0).Truncate(time.Minute), wake)

	// Late night: wake crosses midnight into the next day.
	wake = s.NextWake(at(23, 30))
	assert.Equal(t, time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC), wake)
}

func TestNextWakeWithMinutes(t *testing.T) {
	s := NewSleep(gateway.SleepConfig{Enabled: true, StartHour: 22, StartMinute: 30, EndHour: 6, EndMinute: 45})
	wake := s.NextWake(at(5, 0))
	assert.Equal(t, time.Date(2025, 6, 1, 6, 45, 0, 0, time.UTC), wake)
}
