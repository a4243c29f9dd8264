package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

// RelationshipSignal is a single piece of evidence about who the contact
// is to the owner, extracted from message text.
type RelationshipSignal struct {
	ContactKey string                 `json:"contactKey"`
	Type       store.RelationshipType `json:"type"`
	Confidence float64                `json:"confidence"`
	Evidence   string                 `json:"evidence"`
	Outgoing   bool                   `json:"outgoing"`
	Timestamp  time.Time              `json:"timestamp"`
}

// evidenceMaxLen bounds the matched snippet stored with a signal.
const evidenceMaxLen = 50

// OverrideThreshold is the confidence at which a single signal may
// override the stored relationship type for the current response only.
const OverrideThreshold = 0.9

type signalPattern struct {
	re         *regexp.Regexp
	relType    store.RelationshipType
	confidence float64
}

// Incoming patterns match what the contact says to the owner, outgoing
// patterns match what the owner says to the contact. Outgoing evidence
// is stronger: people reveal more in how they address someone.
var incomingPatterns = sync.OnceValue(func() []signalPattern {
	return []signalPattern{
		{regexp.MustCompile(`(?i)\b(love you|miss you|babe|sweetheart|darling|honey)\b`), store.RelRomanticPartner, 0.95},
		{regexp.MustCompile(`(?i)\b(mom|dad|mum|your (sister|brother)|grandma|grandpa)\b`), store.RelFamily, 0.9},
		{regexp.MustCompile(`(?i)\b(per my last email|attached|invoice|contract|quotation|deliverable)\b`), store.RelClient, 0.7},
		{regexp.MustCompile(`(?i)\b(standup|sprint|deploy|the meeting|code review|on call|timesheet)\b`), store.RelColleague, 0.65},
		{regexp.MustCompile(`(?i)\b(performance review|one on one|1:1|your report|approve (my|the) leave)\b`), store.RelManager, 0.7},
		{regexp.MustCompile(`(?i)\b(bro|dude|mate|buddy|man{1,3})\b`), store.RelFriend, 0.55},
		{regexp.MustCompile(`(?i)\b(beer|pub|game night|weekend plans|party)\b`), store.RelFriend, 0.5},
	}
})

var outgoingPatterns = sync.OnceValue(func() []signalPattern {
	return []signalPattern{
		{regexp.MustCompile(`(?i)\b(love you|miss you|babe|sweetheart|darling)\b`), store.RelRomanticPartner, 0.95},
		{regexp.MustCompile(`(?i)\b(mom|dad|mum)\b`), store.RelFamily, 0.9},
		{regexp.MustCompile(`(?i)\b(kind regards|best regards|please find attached|dear )\b`), store.RelClient, 0.75},
		{regexp.MustCompile(`(?i)\b(will do|on it|pushed the fix|reviewing now)\b`), store.RelColleague, 0.6},
		{regexp.MustCompile(`(?i)\b(bro|dude|mate|lmao|haha+)\b`), store.RelFriend, 0.55},
	}
})

// ExtractSignal scans the content and returns the highest-confidence
// match, or nil when nothing matches.
func ExtractSignal(contactKey, content string, outgoing bool) *RelationshipSignal {
	patterns := incomingPatterns()
	if outgoing {
		patterns = outgoingPatterns()
	}

	var best *RelationshipSignal
	for _, p := range patterns {
		match := p.re.FindString(content)
		if match == "" {
			continue
		}
		if len(match) > evidenceMaxLen {
			match = match[:evidenceMaxLen]
		}
		if best == nil || p.confidence > best.Confidence {
			best = &RelationshipSignal{
				ContactKey: contactKey,
				Type:       p.relType,
				Confidence: p.confidence,
				Evidence:   match,
				Outgoing:   outgoing,
				Timestamp:  time.Now(),
			}
		}
	}
	return best
}

// EnqueueSignal appends a signal to the accumulator stream. Failures are
// logged and swallowed; signal loss only delays relationship learning.
func EnqueueSignal(ctx context.Context, store kv.Store, sig *RelationshipSignal) {
	if sig == nil {
		return
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		slog.Error("failed to marshal relationship signal", "error", err)
		return
	}
	if _, err := store.StreamAppend(ctx, kv.StreamSignals, string(payload)); err != nil {
		slog.Warn("failed to enqueue relationship signal",
			"contact", sig.ContactKey, "error", err)
	}
}
