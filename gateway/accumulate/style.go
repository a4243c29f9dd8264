package accumulate

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

const (
	// styleFlushPending is the minimum buffered samples before a flush is
	// considered; the profile additionally needs MinStyleSamples total.
	styleFlushPending = 5
	styleFlushEvery   = time.Minute
)

var emojiRe = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}]`)
})

var greetingWords = map[string]struct{}{
	"hey": {}, "hi": {}, "hello": {}, "yo": {}, "morning": {}, "evening": {},
}

var signOffWords = map[string]struct{}{
	"cheers": {}, "thanks": {}, "best": {}, "later": {}, "ttyl": {}, "x": {}, "xx": {},
}

// styleSample is one analyzed outgoing message.
type styleSample struct {
	length      int
	hasEmoji    bool
	hasEllipsis bool
	hasBang     bool
	endsPeriod  bool
	formality   float64
	greeting    string
	signOff     string
}

// StyleAccumulator learns how the owner writes to each contact. Observe
// is cheap and synchronous; flushing to MEM happens in the background.
type StyleAccumulator struct {
	kv    kv.Store
	store *store.Store

	mu      sync.Mutex
	pending map[string][]styleSample
}

// NewStyleAccumulator creates the accumulator.
func NewStyleAccumulator(kvStore kv.Store, st *store.Store) *StyleAccumulator {
	return &StyleAccumulator{
		kv:      kvStore,
		store:   st,
		pending: make(map[string][]styleSample),
	}
}

// Observe analyzes one owner-authored message to the contact.
func (a *StyleAccumulator) Observe(contactKey, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	sample := analyze(content)

	a.mu.Lock()
	a.pending[contactKey] = append(a.pending[contactKey], sample)
	a.mu.Unlock()
}

// Run flushes pending samples periodically until the context ends.
func (a *StyleAccumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(styleFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Flush merges buffered samples into stored profiles. A contact flushes
// only once enough samples are pending and the combined profile clears
// the minimum sample floor; thin profiles stay buffered.
func (a *StyleAccumulator) Flush(ctx context.Context) {
	a.mu.Lock()
	batches := make(map[string][]styleSample, len(a.pending))
	for key, samples := range a.pending {
		if len(samples) >= styleFlushPending {
			batches[key] = samples
			delete(a.pending, key)
		}
	}
	a.mu.Unlock()

	for contactKey, samples := range batches {
		if err := a.merge(ctx, contactKey, samples); err != nil {
			slog.Error("style profile flush failed", "contact", contactKey, "error", err)
		}
	}
}

func (a *StyleAccumulator) merge(ctx context.Context, contactKey string, samples []styleSample) error {
	profile, err := a.store.Styles.Get(ctx, contactKey)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &store.StyleProfile{ContactKey: contactKey}
	}

	if profile.SampleCount+len(samples) < store.MinStyleSamples {
		// Not enough evidence yet; hold the batch for next time.
		a.mu.Lock()
		a.pending[contactKey] = append(samples, a.pending[contactKey]...)
		a.mu.Unlock()
		return nil
	}

	oldN := float64(profile.SampleCount)
	n := float64(len(samples))
	total := oldN + n

	var sumLen, emoji, ellipsis, bang, period, formality float64
	for _, s := range samples {
		sumLen += float64(s.length)
		formality += s.formality
		if s.hasEmoji {
			emoji++
		}
		if s.hasEllipsis {
			ellipsis++
		}
		if s.hasBang {
			bang++
		}
		if s.endsPeriod {
			period++
		}
		profile.GreetingStyle = appendDistinct(profile.GreetingStyle, s.greeting, 5)
		profile.SignOffStyle = appendDistinct(profile.SignOffStyle, s.signOff, 5)
	}

	profile.AvgMessageLength = (profile.AvgMessageLength*oldN + sumLen) / total
	profile.EmojiFrequency = (profile.EmojiFrequency*oldN + emoji) / total
	profile.FormalityScore = (profile.FormalityScore*oldN + formality) / total
	profile.EllipsisFrequency = (profile.EllipsisFrequency*oldN + ellipsis) / total
	profile.ExclamationFrequency = (profile.ExclamationFrequency*oldN + bang) / total
	profile.EndsWithPeriodRate = (profile.EndsWithPeriodRate*oldN + period) / total
	profile.SampleCount = int(total)
	profile.LastUpdated = time.Now()
	profile.Confidence = store.ConfidenceFor(profile.SampleCount)
	profile.PunctuationStyle = punctuationStyle(profile)

	if err := a.store.Styles.Upsert(ctx, profile); err != nil {
		return err
	}
	// Drop the read-through cache so the next assembly sees the update.
	if err := a.kv.Delete(ctx, kv.PrefixCacheStyle+contactKey); err != nil {
		slog.Debug("style cache invalidation failed", "contact", contactKey, "error", err)
	}
	return nil
}

func punctuationStyle(p *store.StyleProfile) string {
	switch {
	case p.ExclamationFrequency > 0.3 || p.EllipsisFrequency > 0.3:
		return "expressive"
	case p.EndsWithPeriodRate < 0.3:
		return "minimal"
	default:
		return "standard"
	}
}

func analyze(content string) styleSample {
	s := styleSample{
		length:      len([]rune(content)),
		hasEmoji:    emojiRe().MatchString(content),
		hasEllipsis: strings.Contains(content, "...") || strings.Contains(content, "…"),
		hasBang:     strings.Contains(content, "!"),
		endsPeriod:  strings.HasSuffix(content, "."),
	}

	lower := strings.ToLower(content)
	tokens := strings.Fields(lower)
	if len(tokens) > 0 {
		if _, ok := greetingWords[strings.Trim(tokens[0], ",.!")]; ok {
			s.greeting = firstWords(content, 2)
		}
		last := strings.Trim(tokens[len(tokens)-1], ",.!")
		if _, ok := signOffWords[last]; ok {
			s.signOff = last
		}
	}

	s.formality = formalityOf(content, tokens)
	return s
}

// formalityOf scores 0 (casual) to 1 (formal) from surface features.
func formalityOf(content string, tokens []string) float64 {
	score := 0.5
	if len(content) > 0 && unicode.IsUpper([]rune(content)[0]) {
		score += 0.15
	}
	if strings.HasSuffix(content, ".") {
		score += 0.15
	}
	for _, t := range tokens {
		switch t {
		case "lol", "lmao", "haha", "gonna", "wanna", "u", "ur", "btw", "omg":
			score -= 0.2
		case "regards", "sincerely", "kindly", "please", "appreciate":
			score += 0.1
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func firstWords(content string, n int) string {
	fields := strings.Fields(content)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func appendDistinct(list []string, item string, max int) []string {
	if item == "" || len(list) >= max {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, item) {
			return list
		}
	}
	return append(list, item)
}
