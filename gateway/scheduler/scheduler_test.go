package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
	"github.com/ghostwriter-im/ghostwriter/store"
	"github.com/ghostwriter-im/ghostwriter/store/storetest"
)

type recordingReinjector struct {
	woken []*channel.NormalizedMessage
}

func (r *recordingReinjector) Reinject(msg *channel.NormalizedMessage) {
	r.woken = append(r.woken, msg)
}

type schedFixture struct {
	sched    *Scheduler
	kv       kv.Store
	store    *store.Store
	pipeline *recordingReinjector
	clock    time.Time
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	f := &schedFixture{
		pipeline: &recordingReinjector{},
		clock:    time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
	}
	f.kv = memkv.NewWithClock(func() time.Time { return f.clock })
	f.store = store.New(storetest.New())
	f.sched = New(f.kv, f.store, f.pipeline)
	f.sched.now = func() time.Time { return f.clock }
	return f
}

func (f *schedFixture) deferMsg(t *testing.T, id string, wakeAt time.Time) {
	t.Helper()
	msg := &channel.NormalizedMessage{
		ID:        id,
		Version:   channel.SchemaVersion,
		ChannelID: channel.Telegram,
		ContactID: "100",
		Content:   "deferred",
		Timestamp: f.clock.UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, f.kv.ZAdd(context.Background(), kv.KeyDeferred, wakeAt.UnixMilli(), string(payload)))
}

func TestWakeDeferredReinjectsDueMessages(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.deferMsg(t, "m1", f.clock.Add(-2*time.Minute))
	f.deferMsg(t, "m2", f.clock.Add(-time.Minute))
	f.deferMsg(t, "m3", f.clock.Add(time.Hour))

	f.sched.wakeDeferred(ctx)

	require.Len(t, f.pipeline.woken, 2)
	assert.Equal(t, "m1", f.pipeline.woken[0].ID)
	assert.Equal(t, "m2", f.pipeline.woken[1].ID)

	// The future entry stays queued.
	n, err := f.kv.ZCard(ctx, kv.KeyDeferred)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestWakeDeferredNothingDue(t *testing.T) {
	f := newSchedFixture(t)

	f.deferMsg(t, "m1", f.clock.Add(time.Hour))
	f.sched.wakeDeferred(context.Background())

	assert.Empty(t, f.pipeline.woken)
}

func TestWakeDeferredDropsMalformedPayload(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	require.NoError(t, f.kv.ZAdd(ctx, kv.KeyDeferred, f.clock.Add(-time.Minute).UnixMilli(), "{broken"))
	f.deferMsg(t, "m1", f.clock.Add(-time.Second))

	f.sched.wakeDeferred(ctx)

	require.Len(t, f.pipeline.woken, 1)
	assert.Equal(t, "m1", f.pipeline.woken[0].ID)

	// The malformed entry was consumed, not requeued.
	n, err := f.kv.ZCard(ctx, kv.KeyDeferred)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestSweepPairingExpiresStaleRequests(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Pairing.Upsert(ctx, &store.PairingRequest{
		ContactKey:  "telegram:old",
		Status:      store.PairingPending,
		RequestedAt: f.clock.Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, f.store.Pairing.Upsert(ctx, &store.PairingRequest{
		ContactKey:  "telegram:fresh",
		Status:      store.PairingPending,
		RequestedAt: f.clock.Add(-time.Hour),
	}))

	f.sched.sweepPairing(ctx)

	old, err := f.store.Pairing.Get(ctx, "telegram:old")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, store.PairingExpired, old.Status)

	fresh, err := f.store.Pairing.Get(ctx, "telegram:fresh")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, store.PairingPending, fresh.Status)
}

func TestRunSweepsOnStartup(t *testing.T) {
	f := newSchedFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.store.Pairing.Upsert(ctx, &store.PairingRequest{
		ContactKey:  "telegram:old",
		Status:      store.PairingPending,
		RequestedAt: f.clock.Add(-8 * 24 * time.Hour),
	}))

	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}

	req, err := f.store.Pairing.Get(context.Background(), "telegram:old")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, store.PairingExpired, req.Status)
}
