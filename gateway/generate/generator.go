// Package generate turns an assembled context bundle into a reply in
// the owner's voice.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/gateway/assemble"
	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/gateway/llm"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

const (
	generateTimeout = 30 * time.Second
	statsTTL        = 30 * 24 * time.Hour
)

// TokenObserver receives per-call LLM usage for metrics export.
type TokenObserver interface {
	ObserveLLM(kind string, stats *llm.CallStats)
}

// Generator produces replies and accounts for token usage.
type Generator struct {
	llm       llm.Service
	kv        kv.Store
	ownerName string
	metrics   TokenObserver
}

// New creates a Generator.
func New(service llm.Service, kvStore kv.Store, ownerName string) *Generator {
	return &Generator{llm: service, kv: kvStore, ownerName: ownerName}
}

// SetMetrics attaches a token observer. Call before the first Generate.
func (g *Generator) SetMetrics(m TokenObserver) { g.metrics = m }

// Generate produces the reply text for a classified message. A failure
// here fails the pipeline for this message; no partial reply is sent.
func (g *Generator) Generate(ctx context.Context, msg *channel.NormalizedMessage, kind classify.Kind, bundle *assemble.Bundle) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var (
		reply string
		stats *llm.CallStats
		err   error
	)
	if kind == classify.KindPhatic {
		reply, stats, err = g.generatePhatic(ctx, msg, bundle)
	} else {
		reply, stats, err = g.generateSubstantive(ctx, msg, bundle)
	}
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errors.New("generator produced empty reply")
	}

	g.RecordTokens(ctx, "response", stats)
	g.logResponse(ctx, msg, kind, reply, stats)
	return reply, nil
}

func (g *Generator) generatePhatic(ctx context.Context, msg *channel.NormalizedMessage, bundle *assemble.Bundle) (string, *llm.CallStats, error) {
	system := fmt.Sprintf(
		"You are replying to a chat message on behalf of %s. Keep it to a few words, warm and natural. Never mention being an assistant.\n\n%s",
		g.owner(), bundle.Persona.StyleGuide)
	return g.llm.Chat(ctx, llm.TierSmall, []llm.Message{
		llm.SystemPrompt(system),
		llm.UserPrompt(msg.Content),
	})
}

func (g *Generator) generateSubstantive(ctx context.Context, msg *channel.NormalizedMessage, bundle *assemble.Bundle) (string, *llm.CallStats, error) {
	blocks := []llm.Block{
		{Text: fmt.Sprintf(
			"You are replying to chat messages on behalf of %s. Write exactly as they would; never reveal that you are automated.",
			g.owner())},
		{Text: bundle.Persona.StyleGuide, Cacheable: true},
		{Text: formatGraph(bundle.Graph), Cacheable: true},
		{Text: StyleSummary(bundle.Style), Cacheable: true},
		{Text: "Reply only with the message text. Match the contact's language. Do not add signatures or meta commentary."},
	}

	messages := []llm.Message{llm.ComposeSystem(blocks)}
	for _, h := range bundle.History {
		role := "user"
		if h.FromMe {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: h.Content})
	}
	messages = append(messages, llm.UserPrompt(msg.Content))

	return g.llm.Chat(ctx, llm.TierLarge, messages)
}

func (g *Generator) owner() string {
	if g.ownerName != "" {
		return g.ownerName
	}
	return "the account owner"
}

// RecordTokens adds a call's usage to the daily counter map. category is
// "classification" or "response".
func (g *Generator) RecordTokens(ctx context.Context, category string, stats *llm.CallStats) {
	if stats == nil {
		return
	}
	if g.metrics != nil {
		g.metrics.ObserveLLM(category, stats)
	}
	key := kv.StatsTokensKey(time.Now())
	pairs := []struct {
		field string
		n     int64
	}{
		{category, int64(stats.TotalTokens)},
		{"cache_read", int64(stats.CacheReadTokens)},
		{"cache_write", int64(stats.CacheWriteTokens)},
		{"total_messages", 1},
	}
	for _, p := range pairs {
		if p.n == 0 && p.field != "total_messages" {
			continue
		}
		if err := g.kv.MapIncr(ctx, key, p.field, p.n, statsTTL); err != nil {
			slog.Warn("token stats write failed", "field", p.field, "error", err)
			return
		}
	}
}

// responseLog is one entry of the per-message response stream.
type responseLog struct {
	MessageID  string         `json:"messageId"`
	ContactKey string         `json:"contactKey"`
	Kind       string         `json:"kind"`
	ReplyLen   int            `json:"replyLen"`
	Stats      *llm.CallStats `json:"stats,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (g *Generator) logResponse(ctx context.Context, msg *channel.NormalizedMessage, kind classify.Kind, reply string, stats *llm.CallStats) {
	entry := responseLog{
		MessageID:  msg.ID,
		ContactKey: msg.ContactKey(),
		Kind:       string(kind),
		ReplyLen:   len(reply),
		Stats:      stats,
		Timestamp:  time.Now(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if _, err := g.kv.StreamAppend(ctx, kv.StreamResponses, string(payload)); err != nil {
		slog.Debug("response log append failed", "error", err)
	}
}

// formatGraph renders graph context as a prompt block, "" when empty.
func formatGraph(gc *store.GraphContext) string {
	if gc == nil || gc.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("What you know about this contact:\n")
	if gc.DisplayName != "" {
		fmt.Fprintf(&b, "- Name: %s\n", gc.DisplayName)
	}
	writeEntities(&b, "People they mention", gc.People)
	writeEntities(&b, "Topics", gc.Topics)
	writeEntities(&b, "Upcoming or recent events", gc.Events)
	if gc.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", gc.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeEntities(b *strings.Builder, label string, entities []store.GraphEntity) {
	if len(entities) == 0 {
		return
	}
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.Detail != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", e.Name, e.Detail))
		} else {
			parts = append(parts, e.Name)
		}
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(parts, ", "))
}
