package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/channel/channels"
	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/admission"
	"github.com/ghostwriter-im/ghostwriter/gateway/assemble"
	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/gateway/generate"
	"github.com/ghostwriter-im/ghostwriter/gateway/hts"
	"github.com/ghostwriter-im/ghostwriter/gateway/llm"
	"github.com/ghostwriter-im/ghostwriter/gateway/pause"
	"github.com/ghostwriter-im/ghostwriter/gateway/ratelimit"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
	"github.com/ghostwriter-im/ghostwriter/store"
	"github.com/ghostwriter-im/ghostwriter/store/storetest"
)

type scriptedLLM struct {
	mu       sync.Mutex
	reply    string
	lastTier llm.Tier
	calls    int
}

func (s *scriptedLLM) Chat(_ context.Context, tier llm.Tier, _ []llm.Message) (string, *llm.CallStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTier = tier
	s.calls++
	return s.reply, &llm.CallStats{TotalTokens: 10}, nil
}

func (s *scriptedLLM) Warmup(context.Context) {}

type stubAdapter struct {
	mu         sync.Mutex
	sendResult channel.SendResult
	sent       []*channel.OutgoingMessage
}

func (a *stubAdapter) ID() channel.ID                   { return channel.Telegram }
func (a *stubAdapter) DisplayName() string              { return "Stub" }
func (a *stubAdapter) Icon() string                     { return "stub" }
func (a *stubAdapter) Status() channel.Status           { return channel.StatusConnected }
func (a *stubAdapter) IsConnected() bool                { return true }
func (a *stubAdapter) Connect(context.Context) error    { return nil }
func (a *stubAdapter) Disconnect(context.Context) error { return nil }

func (a *stubAdapter) SendMessage(_ context.Context, _ string, msg *channel.OutgoingMessage) channel.SendResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return a.sendResult
}

func (a *stubAdapter) SendTypingIndicator(context.Context, string, time.Duration) {}
func (a *stubAdapter) GetContacts(context.Context) ([]channel.Contact, error)     { return nil, nil }
func (a *stubAdapter) GetContact(context.Context, string) (*channel.Contact, error) {
	return nil, nil
}
func (a *stubAdapter) NormalizeContactID(raw string) string { return raw }

func (a *stubAdapter) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, m := range a.sent {
		out[i] = m.Text
	}
	return out
}

type recordingStyle struct {
	mu       sync.Mutex
	observed []string
}

func (r *recordingStyle) Observe(_, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, content)
}

type fixture struct {
	c       *Coordinator
	kv      kv.Store
	store   *store.Store
	driver  *storetest.Driver
	bus     *events.Bus
	adapter *stubAdapter
	llm     *scriptedLLM
	pauses  *pause.Controller
	style   *recordingStyle
}

func newFixture(t *testing.T, mutate func(*gateway.Config)) *fixture {
	t.Helper()

	cfg := gateway.DefaultConfig()
	cfg.Sleep.Enabled = false
	cfg.Admission.AutoReplyUnknown = false
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		kv:      memkv.New(),
		driver:  storetest.New(),
		bus:     events.NewBus(),
		adapter: &stubAdapter{sendResult: channel.SendResult{OK: true, MessageID: "out-1"}},
		llm:     &scriptedLLM{reply: "sounds good, talk soon"},
		style:   &recordingStyle{},
	}
	f.store = store.New(f.driver)
	f.pauses = pause.NewController(f.kv, f.bus)

	manager := channels.NewManager()
	manager.Register(f.adapter)

	rules, err := admission.CompileDropRules(cfg.Admission.DropRules)
	require.NoError(t, err)

	f.c = New(Deps{
		Config:     cfg,
		KV:         f.kv,
		Store:      f.store,
		Bus:        f.bus,
		Gate:       admission.NewGate(f.store, f.kv, f.bus, rules, cfg.Admission, nil),
		Limiter:    ratelimit.New(f.kv, cfg.RateLimit, f.bus, f.pauses),
		Pauses:     f.pauses,
		Sleep:      pause.NewSleep(cfg.Sleep),
		Classifier: classify.New(nil),
		Assembler:  assemble.New(f.store, f.kv, cfg.CacheTTL),
		Generator:  generate.New(f.llm, f.kv, cfg.OwnerName),
		Dispatcher: hts.New(f.kv, manager, cfg.HTSMaxDelay),
		Style:      f.style,
	})
	t.Cleanup(f.c.Close)
	return f
}

func (f *fixture) approve(t *testing.T, contactKey string) {
	t.Helper()
	err := f.store.Contacts.UpsertApproved(context.Background(), &store.ApprovedContact{
		ContactKey: contactKey,
		ApprovedAt: time.Now(),
		ApprovedBy: "admin",
		Tier:       store.TierStandard,
	})
	require.NoError(t, err)
}

func inbound(id, content string) *channel.NormalizedMessage {
	return &channel.NormalizedMessage{
		ID:                  id,
		Version:             channel.SchemaVersion,
		ChannelID:           channel.Telegram,
		ContactID:           "100",
		NormalizedContactID: "100",
		Content:             content,
		Timestamp:           time.Now().UnixMilli(),
	}
}

func (f *fixture) history(t *testing.T, contactKey string) []gateway.HistoryEntry {
	t.Helper()
	entries, err := gateway.LoadHistory(context.Background(), f.kv, contactKey, 50)
	require.NoError(t, err)
	return entries
}

func TestProcessSubstantiveRepliesAndRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")

	msg := inbound("m1", "What time does the film start on Saturday?")
	status := f.c.process(context.Background(), task{msg: msg})
	require.Equal(t, StatusDone, status)

	assert.Equal(t, []string{"sounds good, talk soon"}, f.adapter.sentTexts())
	assert.Equal(t, llm.TierLarge, f.llm.lastTier)

	entries := f.history(t, "telegram:100")
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].ID)
	assert.False(t, entries[0].FromMe)
	assert.Equal(t, "sounds good, talk soon", entries[1].Content)
	assert.True(t, entries[1].FromMe)

	// Substantive messages feed the graph extraction queue.
	queued, err := f.kv.StreamRead(context.Background(), kv.StreamExtraction, "", 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var enqueued channel.NormalizedMessage
	require.NoError(t, json.Unmarshal([]byte(queued[0].Value), &enqueued))
	assert.Equal(t, "m1", enqueued.ID)
}

func TestProcessPhaticSkipsExtraction(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")

	status := f.c.process(context.Background(), task{msg: inbound("m1", "thanks!")})
	require.Equal(t, StatusDone, status)

	assert.Len(t, f.adapter.sentTexts(), 1)
	assert.Equal(t, llm.TierSmall, f.llm.lastTier)

	queued, err := f.kv.StreamRead(context.Background(), kv.StreamExtraction, "", 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestProcessUnknownSenderPending(t *testing.T) {
	f := newFixture(t, nil)

	status := f.c.process(context.Background(), task{msg: inbound("m1", "hey, remember me?")})
	assert.Equal(t, StatusPending, status)
	assert.Empty(t, f.adapter.sentTexts())

	req, err := f.store.Pairing.Get(context.Background(), "telegram:100")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, store.PairingPending, req.Status)
}

func TestProcessGroupChatDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")

	msg := inbound("m1", "hello all")
	msg.GroupChat = true
	status := f.c.process(context.Background(), task{msg: msg})
	assert.Equal(t, StatusDropped, status)
	assert.Empty(t, f.adapter.sentTexts())
}

func TestProcessRateLimitBreachDrops(t *testing.T) {
	f := newFixture(t, func(cfg *gateway.Config) {
		cfg.RateLimit.Threshold = 1
	})
	f.approve(t, "telegram:100")
	ctx := context.Background()

	require.Equal(t, StatusDone, f.c.process(ctx, task{msg: inbound("m1", "first one gets through fine")}))
	assert.Equal(t, StatusDropped, f.c.process(ctx, task{msg: inbound("m2", "second one hits the limit")}))

	// The breach auto-paused the contact.
	paused, st := f.pauses.IsPaused(ctx, "telegram:100")
	require.True(t, paused)
	assert.Equal(t, pause.ReasonRateLimit, st.Reason)
}

func TestProcessPausedContactLogsButStaysSilent(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")
	ctx := context.Background()
	require.NoError(t, f.pauses.Pause(ctx, "telegram:100", pause.ReasonManual))

	status := f.c.process(ctx, task{msg: inbound("m1", "are you there?")})
	assert.Equal(t, StatusPaused, status)
	assert.Empty(t, f.adapter.sentTexts())

	// The message still lands in history so the operator has context.
	entries := f.history(t, "telegram:100")
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
}

func TestProcessFromMePausesAndLearns(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")
	ctx := context.Background()

	msg := inbound("m1", "I'll handle this one myself, give me a minute.")
	msg.FromMe = true
	status := f.c.process(ctx, task{msg: msg})
	require.Equal(t, StatusDone, status)

	assert.Empty(t, f.adapter.sentTexts())

	paused, st := f.pauses.IsPaused(ctx, "telegram:100")
	require.True(t, paused)
	assert.Equal(t, pause.ReasonFromMe, st.Reason)

	require.Len(t, f.style.observed, 1)
	assert.Equal(t, msg.Content, f.style.observed[0])
}

func TestProcessSleepWindowDefers(t *testing.T) {
	now := time.Now().UTC()
	cur := now.Hour()*60 + now.Minute()
	start := (cur - 60 + 24*60) % (24 * 60)
	end := (cur + 120) % (24 * 60)

	f := newFixture(t, func(cfg *gateway.Config) {
		cfg.Sleep = gateway.SleepConfig{
			Enabled:     true,
			StartHour:   start / 60,
			StartMinute: start % 60,
			EndHour:     end / 60,
			EndMinute:   end % 60,
		}
	})
	f.approve(t, "telegram:100")
	ctx := context.Background()

	status := f.c.process(ctx, task{msg: inbound("m1", "ping me when you wake up")})
	require.Equal(t, StatusDeferred, status)
	assert.Empty(t, f.adapter.sentTexts())

	n, err := f.kv.ZCard(ctx, kv.KeyDeferred)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	popped, err := f.kv.ZPopUntil(ctx, kv.KeyDeferred, time.Now().Add(24*time.Hour).UnixMilli(), 10)
	require.NoError(t, err)
	require.Len(t, popped, 1)
	var deferred channel.NormalizedMessage
	require.NoError(t, json.Unmarshal([]byte(popped[0].Member), &deferred))
	assert.Equal(t, "m1", deferred.ID)
}

func TestReinjectedSkipsAdmissionAndPause(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")
	ctx := context.Background()

	// A pause taken after deferral must not swallow the woken message.
	require.NoError(t, f.pauses.Pause(ctx, "telegram:100", pause.ReasonManual))

	status := f.c.process(ctx, task{msg: inbound("m1", "still up for dinner on Friday?"), reinjected: true})
	require.Equal(t, StatusDone, status)
	assert.Len(t, f.adapter.sentTexts(), 1)
}

func TestReinjectedContactNoLongerApproved(t *testing.T) {
	f := newFixture(t, nil)

	status := f.c.process(context.Background(), task{msg: inbound("m1", "hello again"), reinjected: true})
	assert.Equal(t, StatusDropped, status)
	assert.Empty(t, f.adapter.sentTexts())
}

func TestProcessDispatchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")
	f.adapter.sendResult = channel.SendResult{OK: false, Error: "transport down"}

	status := f.c.process(context.Background(), task{msg: inbound("m1", "ok")})
	assert.Equal(t, StatusFailed, status)

	// Only the inbound turn is recorded when the reply never went out.
	entries := f.history(t, "telegram:100")
	require.Len(t, entries, 1)
	assert.False(t, entries[0].FromMe)
}

func TestSubmitMalformedMessageIgnored(t *testing.T) {
	f := newFixture(t, nil)

	f.c.Submit(&channel.NormalizedMessage{ID: "m1", Version: channel.SchemaVersion})

	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	assert.Empty(t, f.c.workers)
}

func TestSubmitOrdersPerContactFIFO(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")

	ch, unsub := f.bus.Subscribe()
	defer unsub()

	f.c.Submit(inbound("m1", "first question about the trip?"))
	f.c.Submit(inbound("m2", "second question about the trip?"))

	var done []string
	deadline := time.After(10 * time.Second)
	for len(done) < 2 {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeMessageStatus && ev.Payload["status"] == StatusDone {
				done = append(done, ev.Payload["messageId"].(string))
			}
		case <-deadline:
			t.Fatalf("timed out waiting for statuses, got %v", done)
		}
	}
	assert.Equal(t, []string{"m1", "m2"}, done)
}

func TestSubmitSurvivesWorkerRetirement(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")
	f.c.idleTimeout = 10 * time.Millisecond

	ch, unsub := f.bus.Subscribe()
	defer unsub()

	// Each submission lands just after the previous worker's idle timer
	// fires, so enqueue keeps racing retirement. Every message must still
	// reach a terminal status.
	const rounds = 25
	for i := 0; i < rounds; i++ {
		msg := inbound(fmt.Sprintf("m%d", i), "heading out now")
		msg.FromMe = true
		f.c.Submit(msg)
		time.Sleep(15 * time.Millisecond)
	}

	done := map[string]bool{}
	deadline := time.After(10 * time.Second)
	for len(done) < rounds {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeMessageStatus && ev.Payload["status"] == StatusDone {
				done[ev.Payload["messageId"].(string)] = true
			}
		case <-deadline:
			t.Fatalf("lost messages: %d of %d completed", len(done), rounds)
		}
	}
}

type recordedPipeline struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recordedPipeline) ObservePipeline(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func TestSubmitObservesTerminalStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")
	rec := &recordedPipeline{}
	f.c.deps.Metrics = rec

	ch, unsub := f.bus.Subscribe()
	defer unsub()

	f.c.Submit(inbound("m1", "What time does the film start on Saturday?"))

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeMessageStatus && ev.Payload["status"] == StatusDone {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				require.Equal(t, []string{StatusDone}, rec.statuses)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for message status")
		}
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	f := newFixture(t, nil)
	f.approve(t, "telegram:100")

	f.c.Close()
	f.c.Submit(inbound("m1", "anyone home?"))

	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	assert.Empty(t, f.c.workers)
}
