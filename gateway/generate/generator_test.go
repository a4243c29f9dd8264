package generate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/assemble"
	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/gateway/llm"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

// recordingLLM captures what the generator sends to the model.
type recordingLLM struct {
	reply    string
	err      error
	lastTier llm.Tier
	lastMsgs []llm.Message
}

func (r *recordingLLM) Chat(_ context.Context, tier llm.Tier, msgs []llm.Message) (string, *llm.CallStats, error) {
	r.lastTier = tier
	r.lastMsgs = msgs
	if r.err != nil {
		return "", nil, r.err
	}
	return r.reply, &llm.CallStats{TotalTokens: 40, CacheReadTokens: 10, Model: "test"}, nil
}

func (r *recordingLLM) Warmup(context.Context) {}

func testMsg(content string) *channel.NormalizedMessage {
	return &channel.NormalizedMessage{
		ID:        "m1",
		Version:   channel.SchemaVersion,
		ChannelID: channel.Telegram,
		ContactID: "42",
		Content:   content,
	}
}

func testBundle() *assemble.Bundle {
	return &assemble.Bundle{
		Contact: &store.ApprovedContact{ContactKey: "telegram:42", Tier: store.TierStandard},
		Persona: &store.Persona{ID: "p", StyleGuide: "Keep replies warm and brief."},
	}
}

func TestGeneratePhaticUsesSmallTier(t *testing.T) {
	svc := &recordingLLM{reply: "hey!"}
	g := New(svc, memkv.NewWithClock(time.Now), "Sam")

	reply, err := g.Generate(context.Background(), testMsg("morning"), classify.KindPhatic, testBundle())
	require.NoError(t, err)
	assert.Equal(t, "hey!", reply)
	assert.Equal(t, llm.TierSmall, svc.lastTier)

	require.Len(t, svc.lastMsgs, 2)
	assert.Contains(t, svc.lastMsgs[0].Content, "on behalf of Sam")
	assert.Contains(t, svc.lastMsgs[0].Content, "Keep replies warm and brief.")
	assert.Equal(t, "morning", svc.lastMsgs[1].Content)
}

func TestGenerateSubstantiveComposesContext(t *testing.T) {
	svc := &recordingLLM{reply: "The quote should land tomorrow."}
	g := New(svc, memkv.NewWithClock(time.Now), "")

	bundle := testBundle()
	bundle.Graph = &store.GraphContext{
		ContactKey: "telegram:42",
		Topics:     []store.GraphEntity{{Kind: store.EntityTopic, Name: "kitchen renovation", Detail: "waiting on quote"}},
	}
	bundle.Style = &store.StyleProfile{
		ContactKey:       "telegram:42",
		AvgMessageLength: 30,
		SampleCount:      20,
	}
	bundle.History = []gateway.HistoryEntry{
		{ID: "h1", Content: "any news on the quote?"},
		{ID: "h2", Content: "chasing it now", FromMe: true},
	}

	reply, err := g.Generate(context.Background(), testMsg("so what did they say?"), classify.KindSubstantive, bundle)
	require.NoError(t, err)
	assert.Equal(t, "The quote should land tomorrow.", reply)
	assert.Equal(t, llm.TierLarge, svc.lastTier)

	// system + 2 history turns + current message
	require.Len(t, svc.lastMsgs, 4)
	system := svc.lastMsgs[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "on behalf of the account owner")
	assert.Contains(t, system.Content, "kitchen renovation (waiting on quote)")
	assert.Contains(t, system.Content, "How this person writes:")

	assert.Equal(t, "user", svc.lastMsgs[1].Role)
	assert.Equal(t, "assistant", svc.lastMsgs[2].Role)
	assert.Equal(t, "chasing it now", svc.lastMsgs[2].Content)
	assert.Equal(t, "so what did they say?", svc.lastMsgs[3].Content)
}

func TestGenerateEmptyReplyIsError(t *testing.T) {
	svc := &recordingLLM{reply: "   "}
	g := New(svc, memkv.NewWithClock(time.Now), "")

	_, err := g.Generate(context.Background(), testMsg("hi"), classify.KindPhatic, testBundle())
	assert.Error(t, err)
}

func TestGeneratePropagatesLLMError(t *testing.T) {
	svc := &recordingLLM{err: errors.New("rate limited")}
	g := New(svc, memkv.NewWithClock(time.Now), "")

	_, err := g.Generate(context.Background(), testMsg("hi"), classify.KindPhatic, testBundle())
	assert.Error(t, err)
}

func TestGenerateRecordsTokensAndLogsResponse(t *testing.T) {
	svc := &recordingLLM{reply: "done"}
	kvStore := memkv.NewWithClock(time.Now)
	g := New(svc, kvStore, "")
	ctx := context.Background()

	_, err := g.Generate(ctx, testMsg("status?"), classify.KindSubstantive, testBundle())
	require.NoError(t, err)

	stats, err := kvStore.MapGet(ctx, kv.StatsTokensKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(40), stats["response"])
	assert.Equal(t, int64(10), stats["cache_read"])
	assert.Equal(t, int64(1), stats["total_messages"])

	entries, err := kvStore.StreamRead(ctx, kv.StreamResponses, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Value, `"telegram:42"`)
}

func TestRecordTokensByCategory(t *testing.T) {
	kvStore := memkv.NewWithClock(time.Now)
	g := New(nil, kvStore, "")
	ctx := context.Background()

	g.RecordTokens(ctx, "classification", &llm.CallStats{TotalTokens: 7})
	g.RecordTokens(ctx, "classification", nil) // nil stats are a no-op

	stats, err := kvStore.MapGet(ctx, kv.StatsTokensKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats["classification"])
	assert.Equal(t, int64(1), stats["total_messages"])
}

type recordedUsage struct {
	kinds []string
	total int
}

func (r *recordedUsage) ObserveLLM(kind string, stats *llm.CallStats) {
	r.kinds = append(r.kinds, kind)
	r.total += stats.TotalTokens
}

func TestRecordTokensForwardsToObserver(t *testing.T) {
	kvStore := memkv.NewWithClock(time.Now)
	g := New(nil, kvStore, "")
	rec := &recordedUsage{}
	g.SetMetrics(rec)
	ctx := context.Background()

	g.RecordTokens(ctx, "classification", &llm.CallStats{TotalTokens: 7})
	g.RecordTokens(ctx, "response", &llm.CallStats{TotalTokens: 40})
	g.RecordTokens(ctx, "response", nil)

	assert.Equal(t, []string{"classification", "response"}, rec.kinds)
	assert.Equal(t, 47, rec.total)
}

func TestStyleSummary(t *testing.T) {
	p := &store.StyleProfile{
		ContactKey:           "k",
		AvgMessageLength:     30,
		EmojiFrequency:       0.9,
		FormalityScore:       0.1,
		GreetingStyle:        []string{"hey", "yo", "morning", "hiya"},
		SignOffStyle:         []string{"later"},
		SampleCount:          25,
		EllipsisFrequency:    0.5,
		ExclamationFrequency: 0.1,
		EndsWithPeriodRate:   0.1,
	}
	s := StyleSummary(p)

	assert.Contains(t, s, "short, a sentence or less")
	assert.Contains(t, s, "frequent")
	assert.Contains(t, s, "casual")
	assert.Contains(t, s, "hey, yo, morning")
	assert.NotContains(t, s, "hiya", "greetings are capped at three")
	assert.Contains(t, s, "later")
	assert.Contains(t, s, "ellipses")
	assert.NotContains(t, s, "exclamation")
	assert.Contains(t, s, "skips the final period")
}

func TestStyleSummaryThinProfileIsEmpty(t *testing.T) {
	assert.Empty(t, StyleSummary(nil))
	assert.Empty(t, StyleSummary(&store.StyleProfile{ContactKey: "k", SampleCount: 3}))
}

func TestStyleSummaryDescriptorBoundaries(t *testing.T) {
	tests := []struct {
		length    float64
		formality float64
		emoji     float64
		wantLen   string
		wantForm  string
		wantEmoji string
	}{
		{30, 0.1, 0.1, "short", "casual", "rare"},
		{75, 0.5, 0.5, "medium", "neutral", "occasional"},
		{150, 0.9, 0.9, "long", "formal", "frequent"},
	}
	for _, tt := range tests {
		p := &store.StyleProfile{
			ContactKey:         "k",
			AvgMessageLength:   tt.length,
			FormalityScore:     tt.formality,
			EmojiFrequency:     tt.emoji,
			SampleCount:        15,
			EndsWithPeriodRate: 1,
		}
		s := StyleSummary(p)
		assert.Contains(t, s, tt.wantLen)
		assert.Contains(t, s, tt.wantForm)
		assert.Contains(t, s, tt.wantEmoji)
	}
}

func TestFormatGraph(t *testing.T) {
	assert.Empty(t, formatGraph(nil))
	assert.Empty(t, formatGraph(&store.GraphContext{ContactKey: "k"}))

	gc := &store.GraphContext{
		ContactKey:  "k",
		DisplayName: "Ana",
		Notes:       "prefers voice calls",
		People:      []store.GraphEntity{{Name: "Luis", Detail: "her brother"}},
		Events:      []store.GraphEntity{{Name: "housewarming"}},
	}
	s := formatGraph(gc)
	lines := strings.Split(s, "\n")
	assert.Equal(t, "What you know about this contact:", lines[0])
	assert.Contains(t, s, "- Name: Ana")
	assert.Contains(t, s, "Luis (her brother)")
	assert.Contains(t, s, "housewarming")
	assert.Contains(t, s, "- Notes: prefers voice calls")
}
