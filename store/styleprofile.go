package store

import (
	"context"
	"time"
)

// StyleConfidence labels how much a style profile can be trusted, gated by
// sample count.
type StyleConfidence string

const (
	ConfidenceLow    StyleConfidence = "low"
	ConfidenceMedium StyleConfidence = "medium"
	ConfidenceHigh   StyleConfidence = "high"
)

// MinStyleSamples is the sample count below which a profile is never injected
// into a prompt.
const MinStyleSamples = 10

// StyleProfile is the empirically derived writing pattern of the operator
// toward one contact, accumulated from outgoing messages.
type StyleProfile struct {
	ContactKey       string          `json:"contactKey"`
	AvgMessageLength float64         `json:"avgMessageLength"`
	EmojiFrequency   float64         `json:"emojiFrequency"`   // fraction of messages containing emoji
	FormalityScore   float64         `json:"formalityScore"`   // 0 casual .. 1 formal
	PunctuationStyle string          `json:"punctuationStyle"` // "minimal", "standard", "expressive"
	GreetingStyle    []string        `json:"greetingStyle,omitempty"` // up to 5
	SignOffStyle     []string        `json:"signOffStyle,omitempty"`  // up to 5
	SampleCount      int             `json:"sampleCount"`
	LastUpdated      time.Time       `json:"lastUpdated"`
	Confidence       StyleConfidence `json:"confidence"`
	// FeatureConfidence carries per-feature confidence for dashboards.
	FeatureConfidence map[string]float64 `json:"featureConfidence,omitempty"`

	// Frequencies feeding the optional prompt notes.
	EllipsisFrequency    float64 `json:"ellipsisFrequency,omitempty"`
	ExclamationFrequency float64 `json:"exclamationFrequency,omitempty"`
	EndsWithPeriodRate   float64 `json:"endsWithPeriodRate,omitempty"`
}

// Valid reports whether a stored record has the shape consumers rely on.
func (s *StyleProfile) Valid() bool {
	return s != nil && s.ContactKey != "" && s.SampleCount >= 0
}

// Usable reports whether the profile has enough samples to shape prompts.
func (s *StyleProfile) Usable() bool {
	return s.Valid() && s.SampleCount >= MinStyleSamples
}

// ConfidenceFor maps a sample count to a confidence label.
func ConfidenceFor(samples int) StyleConfidence {
	switch {
	case samples < MinStyleSamples:
		return ConfidenceLow
	case samples < 30:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// StyleProfileStore persists style profiles.
type StyleProfileStore interface {
	Upsert(ctx context.Context, p *StyleProfile) error
	Get(ctx context.Context, contactKey string) (*StyleProfile, error)
}
