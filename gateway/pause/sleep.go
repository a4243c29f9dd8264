package pause

import (
	"time"

	"github.com/ghostwriter-im/ghostwriter/gateway"
)

// Sleep evaluates the configured sleep window. All arithmetic is in
// minutes of day after applying the configured timezone offset, so the
// wrap-around case (23:00 through 07:00) works without date math.
type Sleep struct {
	cfg gateway.SleepConfig
}

// NewSleep creates a Sleep window from config.
func NewSleep(cfg gateway.SleepConfig) *Sleep {
	return &Sleep{cfg: cfg}
}

// Enabled reports whether sleep deferral is on.
func (s *Sleep) Enabled() bool { return s.cfg.Enabled }

func (s *Sleep) localMinutes(now time.Time) int {
	local := now.UTC().Add(time.Duration(s.cfg.TimezoneOffset) * time.Hour)
	return local.Hour()*60 + local.Minute()
}

// IsSleeping reports whether now falls inside the sleep window.
func (s *Sleep) IsSleeping(now time.Time) bool {
	if !s.cfg.Enabled {
		return false
	}
	start := s.cfg.StartHour*60 + s.cfg.StartMinute
	end := s.cfg.EndHour*60 + s.cfg.EndMinute
	cur := s.localMinutes(now)

	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	// Window wraps midnight.
	return cur >= start || cur < end
}

// NextWake returns the next time the window ends, at or after now.
// Returns now unchanged when not sleeping.
func (s *Sleep) NextWake(now time.Time) time.Time {
	if !s.IsSleeping(now) {
		return now
	}
	end := s.cfg.EndHour*60 + s.cfg.EndMinute
	cur := s.localMinutes(now)

	minutesUntil := end - cur
	if minutesUntil <= 0 {
		minutesUntil += 24 * 60
	}
	// Truncate seconds so the wake time lands on the minute boundary.
	return now.Truncate(time.Minute).Add(time.Duration(minutesUntil) * time.Minute)
}
