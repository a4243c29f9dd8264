// Package gateway holds the pipeline configuration shared by the
// admission, rate limiting, pause, and dispatch components.
package gateway

import (
	"strconv"
	"strings"
	"time"

	"github.com/ghostwriter-im/ghostwriter/internal/profile"
)

// RateLimitConfig bounds inbound message volume per contact.
type RateLimitConfig struct {
	Threshold int
	Window    time.Duration
	AutoPause bool
}

// SleepConfig defines the nightly deferral window.
type SleepConfig struct {
	Enabled        bool
	StartHour      int
	StartMinute    int
	EndHour        int
	EndMinute      int
	TimezoneOffset int
}

// AdmissionConfig controls how unknown senders are handled.
type AdmissionConfig struct {
	AutoApproveExisting bool
	AutoReplyUnknown    bool
	AutoReplyText       string
	DenyCooldown        time.Duration
	DropRules           []string
}

// HistoryConfig bounds the per-contact conversation log.
type HistoryConfig struct {
	MaxMessages int
	TTL         time.Duration
}

// Config is the full set of recognized pipeline options.
type Config struct {
	RateLimit      RateLimitConfig
	Sleep          SleepConfig
	Admission      AdmissionConfig
	History        HistoryConfig
	HTSMaxDelay    time.Duration
	CacheTTL       time.Duration
	MaxConcurrency int
	OwnerName      string
}

// DefaultAutoReplyText is the canned reply sent to unknown senders
// while their pairing request waits for the operator.
const DefaultAutoReplyText = "Hi! I don't recognize this contact yet, so your message is waiting for a quick approval. You'll hear back soon."

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Threshold: 10,
			Window:    60 * time.Second,
			AutoPause: true,
		},
		Sleep: SleepConfig{
			Enabled:     true,
			StartHour:   23,
			StartMinute: 0,
			EndHour:     7,
			EndMinute:   0,
		},
		Admission: AdmissionConfig{
			AutoApproveExisting: true,
			AutoReplyUnknown:    true,
			AutoReplyText:       DefaultAutoReplyText,
			DenyCooldown:        24 * time.Hour,
		},
		History: HistoryConfig{
			MaxMessages: 100,
			TTL:         7 * 24 * time.Hour,
		},
		HTSMaxDelay:    5 * time.Second,
		CacheTTL:       30 * time.Minute,
		MaxConcurrency: 8,
	}
}

// FromProfile builds a Config from the process profile, falling back to
// defaults for anything unset.
func FromProfile(p *profile.Profile) Config {
	cfg := DefaultConfig()
	cfg.Sleep.Enabled = p.SleepEnabled
	cfg.Sleep.TimezoneOffset = p.SleepTZOffset
	if h, m, ok := parseClock(p.SleepStart); ok {
		cfg.Sleep.StartHour, cfg.Sleep.StartMinute = h, m
	}
	if h, m, ok := parseClock(p.SleepEnd); ok {
		cfg.Sleep.EndHour, cfg.Sleep.EndMinute = h, m
	}
	if p.MaxConcurrency > 0 {
		cfg.MaxConcurrency = p.MaxConcurrency
	}
	if p.DenyCooldownHrs > 0 {
		cfg.Admission.DenyCooldown = time.Duration(p.DenyCooldownHrs) * time.Hour
	}
	if p.RateLimitThreshold > 0 {
		cfg.RateLimit.Threshold = p.RateLimitThreshold
	}
	if p.RateLimitWindowSecs > 0 {
		cfg.RateLimit.Window = time.Duration(p.RateLimitWindowSecs) * time.Second
	}
	cfg.RateLimit.AutoPause = p.RateLimitAutoPause
	if p.HTSMaxDelayMs > 0 {
		cfg.HTSMaxDelay = time.Duration(p.HTSMaxDelayMs) * time.Millisecond
	}
	if p.HistoryMaxMessages > 0 {
		cfg.History.MaxMessages = p.HistoryMaxMessages
	}
	if p.HistoryTTLSecs > 0 {
		cfg.History.TTL = time.Duration(p.HistoryTTLSecs) * time.Second
	}
	if p.CacheTTLSecs > 0 {
		cfg.CacheTTL = time.Duration(p.CacheTTLSecs) * time.Second
	}
	cfg.Admission.AutoApproveExisting = p.AutoApproveExisting
	cfg.Admission.AutoReplyUnknown = p.AutoReplyUnknown
	cfg.Admission.DropRules = p.DropRules
	if p.PairingAutoMsg != "" {
		cfg.Admission.AutoReplyText = p.PairingAutoMsg
	}
	cfg.OwnerName = p.OwnerName
	return cfg
}

// parseClock parses "HH:MM" into hour and minute.
func parseClock(s string) (int, int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
