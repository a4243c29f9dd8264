package generate

import (
	"fmt"
	"strings"

	"github.com/ghostwriter-im/ghostwriter/store"
)

// StyleSummary renders a style profile as a prompt block. Returns ""
// for profiles without enough samples.
func StyleSummary(p *store.StyleProfile) string {
	if !p.Usable() {
		return ""
	}

	var b strings.Builder
	b.WriteString("How this person writes:\n")
	b.WriteString("- Message length: " + lengthDescriptor(p.AvgMessageLength) + "\n")
	b.WriteString("- Emoji use: " + emojiDescriptor(p.EmojiFrequency) + "\n")
	b.WriteString("- Tone: " + formalityDescriptor(p.FormalityScore) + "\n")

	if greetings := capped(p.GreetingStyle, 3); len(greetings) > 0 {
		fmt.Fprintf(&b, "- Typical greetings: %s\n", strings.Join(greetings, ", "))
	}
	if signOffs := capped(p.SignOffStyle, 3); len(signOffs) > 0 {
		fmt.Fprintf(&b, "- Typical sign-offs: %s\n", strings.Join(signOffs, ", "))
	}

	if p.EllipsisFrequency > 0.3 {
		b.WriteString("- Often trails off with ellipses...\n")
	}
	if p.ExclamationFrequency > 0.3 {
		b.WriteString("- Uses exclamation marks freely\n")
	}
	if p.EndsWithPeriodRate < 0.3 && p.SampleCount >= store.MinStyleSamples {
		b.WriteString("- Usually skips the final period\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func lengthDescriptor(avg float64) string {
	switch {
	case avg < 50:
		return "short, a sentence or less"
	case avg < 100:
		return "medium, one to two sentences"
	default:
		return "long, multiple sentences"
	}
}

func emojiDescriptor(freq float64) string {
	switch {
	case freq < 0.2:
		return "rare"
	case freq < 0.8:
		return "occasional"
	default:
		return "frequent"
	}
}

func formalityDescriptor(score float64) string {
	switch {
	case score < 0.3:
		return "casual"
	case score < 0.7:
		return "neutral"
	default:
		return "formal"
	}
}

func capped(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
