package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ghostwriter-im/ghostwriter/internal/profile"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in        string
		hour, min int
		ok        bool
	}{
		{"23:00", 23, 0, true},
		{"07:30", 7, 30, true},
		{"0:5", 0, 5, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"-1:00", 0, 0, false},
		{"noon", 0, 0, false},
		{"", 0, 0, false},
		{"12", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, ok := parseClock(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.hour, h)
				assert.Equal(t, tt.min, m)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.RateLimit.Threshold)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.AutoPause)
	assert.True(t, cfg.Admission.AutoApproveExisting)
	assert.True(t, cfg.Admission.AutoReplyUnknown)
	assert.Equal(t, DefaultAutoReplyText, cfg.Admission.AutoReplyText)
	assert.Equal(t, 24*time.Hour, cfg.Admission.DenyCooldown)
	assert.Equal(t, 100, cfg.History.MaxMessages)
	assert.Equal(t, 7*24*time.Hour, cfg.History.TTL)
	assert.Equal(t, 5*time.Second, cfg.HTSMaxDelay)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
}

func TestFromProfile(t *testing.T) {
	p := &profile.Profile{
		SleepEnabled:        true,
		SleepStart:          "22:30",
		SleepEnd:            "06:15",
		SleepTZOffset:       2,
		MaxConcurrency:      4,
		DenyCooldownHrs:     48,
		DropRules:           []string{"groupChat == true"},
		PairingAutoMsg:      "hold on",
		OwnerName:           "Sam",
		RateLimitThreshold:  5,
		RateLimitWindowSecs: 30,
		RateLimitAutoPause:  true,
		HTSMaxDelayMs:       2500,
		AutoApproveExisting: true,
		AutoReplyUnknown:    true,
		HistoryMaxMessages:  40,
		HistoryTTLSecs:      3600,
		CacheTTLSecs:        600,
	}
	cfg := FromProfile(p)

	assert.Equal(t, 22, cfg.Sleep.StartHour)
	assert.Equal(t, 30, cfg.Sleep.StartMinute)
	assert.Equal(t, 6, cfg.Sleep.EndHour)
	assert.Equal(t, 15, cfg.Sleep.EndMinute)
	assert.Equal(t, 2, cfg.Sleep.TimezoneOffset)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 48*time.Hour, cfg.Admission.DenyCooldown)
	assert.Equal(t, []string{"groupChat == true"}, cfg.Admission.DropRules)
	assert.Equal(t, "hold on", cfg.Admission.AutoReplyText)
	assert.Equal(t, "Sam", cfg.OwnerName)
	assert.Equal(t, 5, cfg.RateLimit.Threshold)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.AutoPause)
	assert.Equal(t, 2500*time.Millisecond, cfg.HTSMaxDelay)
	assert.True(t, cfg.Admission.AutoApproveExisting)
	assert.True(t, cfg.Admission.AutoReplyUnknown)
	assert.Equal(t, 40, cfg.History.MaxMessages)
	assert.Equal(t, time.Hour, cfg.History.TTL)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
}

func TestFromProfileFallsBackToDefaults(t *testing.T) {
	p := &profile.Profile{SleepStart: "garbage", SleepEnd: ""}
	cfg := FromProfile(p)

	// Unparseable clocks keep the default window.
	assert.Equal(t, 23, cfg.Sleep.StartHour)
	assert.Equal(t, 7, cfg.Sleep.EndHour)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.Admission.DenyCooldown)
	assert.Equal(t, 10, cfg.RateLimit.Threshold)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Second, cfg.HTSMaxDelay)
	assert.Equal(t, 100, cfg.History.MaxMessages)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)

	// An unset auto-reply message keeps the canned text, so the
	// unknown-sender reply works without any configuration.
	assert.Equal(t, DefaultAutoReplyText, cfg.Admission.AutoReplyText)
}
