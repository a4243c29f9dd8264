package pause

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
)

func TestPauseResumeContact(t *testing.T) {
	ctrl := NewController(memkv.NewWithClock(time.Now), nil)
	ctx := context.Background()

	paused, _ := ctrl.IsPaused(ctx, "telegram:1")
	assert.False(t, paused)

	require.NoError(t, ctrl.Pause(ctx, "telegram:1", ReasonRateLimit))
	paused, st := ctrl.IsPaused(ctx, "telegram:1")
	require.True(t, paused)
	assert.Equal(t, ReasonRateLimit, st.Reason)
	assert.False(t, st.PausedAt.IsZero())

	// Other contacts are unaffected.
	paused, _ = ctrl.IsPaused(ctx, "telegram:2")
	assert.False(t, paused)

	require.NoError(t, ctrl.Resume(ctx, "telegram:1"))
	paused, _ = ctrl.IsPaused(ctx, "telegram:1")
	assert.False(t, paused)
}

func TestPauseAllOverridesContacts(t *testing.T) {
	ctrl := NewController(memkv.NewWithClock(time.Now), nil)
	ctx := context.Background()

	require.NoError(t, ctrl.PauseAll(ctx, "admin"))
	paused, st := ctrl.IsPaused(ctx, "whatsapp:555")
	require.True(t, paused)
	assert.Equal(t, ReasonManual, st.Reason)
	assert.Equal(t, "admin", st.PausedBy)

	require.NoError(t, ctrl.ResumeAll(ctx))
	paused, _ = ctrl.IsPaused(ctx, "whatsapp:555")
	assert.False(t, paused)
}

func TestLegacyPlainFlagReadsAsManual(t *testing.T) {
	store := memkv.NewWithClock(time.Now)
	ctrl := NewController(store, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, kv.PauseKey("telegram:1"), "1", 0))
	paused, st := ctrl.IsPaused(ctx, "telegram:1")
	require.True(t, paused)
	assert.Equal(t, ReasonManual, st.Reason)
}

func TestPausePublishesEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, unsub := bus.Subscribe()
	defer unsub()

	ctrl := NewController(memkv.NewWithClock(time.Now), bus)
	ctx := context.Background()

	require.NoError(t, ctrl.Pause(ctx, "telegram:1", ReasonFromMe))
	ev := <-ch
	assert.Equal(t, events.TypePauseUpdate, ev.Type)
	assert.Equal(t, true, ev.Payload["paused"])
	assert.Equal(t, "telegram:1", ev.Payload["contactKey"])
	assert.Equal(t, ReasonFromMe, ev.Payload["reason"])

	require.NoError(t, ctrl.PauseAll(ctx, "admin"))
	ev = <-ch
	assert.Equal(t, true, ev.Payload["global"])

	require.NoError(t, ctrl.Resume(ctx, "telegram:1"))
	ev = <-ch
	assert.Equal(t, false, ev.Payload["paused"])
}

// Reason values are wire format: they appear in stored pause state and
// on pause_update events, so operator tooling depends on them.
func TestReasonWireValues(t *testing.T) {
	assert.Equal(t, "manual", ReasonManual)
	assert.Equal(t, "fromMe", ReasonFromMe)
	assert.Equal(t, "rate_limit", ReasonRateLimit)
}

func TestPausedContactsExcludesGlobalFlag(t *testing.T) {
	ctrl := NewController(memkv.NewWithClock(time.Now), nil)
	ctx := context.Background()

	n, err := ctrl.PausedContacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, ctrl.Pause(ctx, "telegram:1", ReasonManual))
	require.NoError(t, ctrl.Pause(ctx, "whatsapp:2", ReasonFromMe))
	require.NoError(t, ctrl.PauseAll(ctx, "admin"))

	n, err = ctrl.PausedContacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
