// Package classify routes inbound messages into phatic small talk or
// substantive content. Cheap heuristics handle the bulk of traffic; the
// small LLM tier only sees what the rules cannot decide.
package classify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ghostwriter-im/ghostwriter/gateway/llm"
)

// Kind is the classification outcome.
type Kind string

const (
	// KindPhatic covers greetings, acknowledgements, and emoji chatter.
	KindPhatic Kind = "phatic"
	// KindSubstantive covers anything that needs a real answer.
	KindSubstantive Kind = "substantive"
)

const llmTimeout = 10 * time.Second

// ackTokens are exact-match acknowledgements, compared lowercase with
// trailing punctuation stripped.
var ackTokens = map[string]struct{}{
	"ok": {}, "okay": {}, "k": {}, "kk": {}, "yes": {}, "no": {},
	"yeah": {}, "yep": {}, "yup": {}, "nope": {}, "nah": {},
	"thanks": {}, "thank you": {}, "thx": {}, "ty": {}, "cheers": {},
	"cool": {}, "nice": {}, "great": {}, "awesome": {}, "perfect": {},
	"sure": {}, "fine": {}, "alright": {}, "got it": {}, "sounds good": {},
	"lol": {}, "haha": {}, "hahaha": {}, "lmao": {},
	"hi": {}, "hey": {}, "hello": {}, "yo": {}, "sup": {},
	"good morning": {}, "good night": {}, "goodnight": {}, "gn": {}, "gm": {},
	"bye": {}, "see you": {}, "later": {}, "ttyl": {},
	"np": {}, "no problem": {}, "welcome": {}, "you're welcome": {},
}

// interrogativeHeads mark a short message as a question even without "?".
var interrogativeHeads = map[string]struct{}{
	"what": {}, "who": {}, "where": {}, "when": {}, "why": {}, "how": {},
	"which": {}, "can": {}, "could": {}, "would": {}, "will": {},
	"should": {}, "do": {}, "does": {}, "did": {}, "is": {}, "are": {},
}

var trailingPunct = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`[.!,;:~]+$`)
})

// Classifier decides phatic versus substantive.
type Classifier struct {
	llm llm.Service
}

// New creates a Classifier. llm may be nil; everything the heuristics
// cannot decide then defaults to substantive.
func New(service llm.Service) *Classifier {
	return &Classifier{llm: service}
}

// Classify returns the kind of the message. Stats are non-nil only when
// the LLM tier was consulted.
func (c *Classifier) Classify(ctx context.Context, content string) (Kind, *llm.CallStats) {
	if kind, ok := classifyFast(content); ok {
		return kind, nil
	}
	return c.classifyLLM(ctx, content)
}

// classifyFast applies the rule tier. The second return is false when
// the rules cannot decide.
func classifyFast(content string) (Kind, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return KindPhatic, true
	}

	if isEmojiOnly(trimmed) && len([]rune(trimmed)) <= 10 {
		return KindPhatic, true
	}

	normalized := strings.ToLower(trailingPunct().ReplaceAllString(trimmed, ""))
	if _, ok := ackTokens[normalized]; ok {
		return KindPhatic, true
	}

	if strings.Contains(trimmed, "?") {
		return KindSubstantive, true
	}

	tokens := strings.Fields(normalized)
	if len(tokens) <= 2 {
		if len(tokens) > 0 {
			if _, ok := interrogativeHeads[tokens[0]]; ok {
				return KindSubstantive, true
			}
		}
		return KindPhatic, true
	}

	return "", false
}

const classifyPrompt = `Classify the following chat message as either "phatic" (small talk, greeting, acknowledgement, emotional filler) or "substantive" (asks something, shares information, needs a real reply). Answer with exactly one word: phatic or substantive.`

// classifyLLM asks the small model. Any failure defaults to substantive
// so a real question is never swallowed by an outage.
func (c *Classifier) classifyLLM(ctx context.Context, content string) (Kind, *llm.CallStats) {
	if c.llm == nil {
		return KindSubstantive, nil
	}
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	answer, stats, err := c.llm.Chat(ctx, llm.TierSmall, []llm.Message{
		llm.SystemPrompt(classifyPrompt),
		llm.UserPrompt(content),
	})
	if err != nil {
		slog.Warn("llm classification failed, defaulting to substantive", "error", err)
		return KindSubstantive, nil
	}
	if strings.Contains(strings.ToLower(answer), "phatic") {
		return KindPhatic, stats
	}
	return KindSubstantive, stats
}

// isEmojiOnly reports whether every rune is an emoji, symbol, or space.
func isEmojiOnly(s string) bool {
	seen := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if !isEmojiRune(r) {
			return false
		}
		seen = true
	}
	return seen
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r == 0x200D: // zero-width joiner
		return true
	case unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r):
		return true
	}
	return false
}
