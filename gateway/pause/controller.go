// Package pause tracks manual and automatic response pauses. Pause state
// lives in the KV store so an operator's "stop replying to this person"
// survives a restart.
package pause

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/kv"
)

// Pause reasons.
const (
	ReasonManual    = "manual"
	ReasonFromMe    = "fromMe"
	ReasonRateLimit = "rate_limit"
)

// State is the stored pause record.
type State struct {
	Reason   string    `json:"reason"`
	PausedAt time.Time `json:"pausedAt"`
	PausedBy string    `json:"pausedBy,omitempty"`
}

// Controller manages the global and per-contact pause flags.
type Controller struct {
	kv  kv.Store
	bus *events.Bus
	now func() time.Time
}

// NewController creates a Controller. bus may be nil in tests.
func NewController(store kv.Store, bus *events.Bus) *Controller {
	return &Controller{kv: store, bus: bus, now: time.Now}
}

// PauseAll sets the global pause flag.
func (c *Controller) PauseAll(ctx context.Context, by string) error {
	return c.set(ctx, kv.KeyPauseAll, "", State{Reason: ReasonManual, PausedAt: c.now(), PausedBy: by})
}

// ResumeAll clears the global pause flag.
func (c *Controller) ResumeAll(ctx context.Context) error {
	return c.clear(ctx, kv.KeyPauseAll, "")
}

// Pause sets a per-contact pause with the given reason.
func (c *Controller) Pause(ctx context.Context, contactKey, reason string) error {
	return c.set(ctx, kv.PauseKey(contactKey), contactKey, State{Reason: reason, PausedAt: c.now()})
}

// Resume clears a per-contact pause.
func (c *Controller) Resume(ctx context.Context, contactKey string) error {
	return c.clear(ctx, kv.PauseKey(contactKey), contactKey)
}

// IsPaused reports whether responses to this contact are suppressed,
// either globally or individually. KV failures report not paused so a
// degraded store does not silence the gateway.
func (c *Controller) IsPaused(ctx context.Context, contactKey string) (bool, *State) {
	if st := c.get(ctx, kv.KeyPauseAll); st != nil {
		return true, st
	}
	if st := c.get(ctx, kv.PauseKey(contactKey)); st != nil {
		return true, st
	}
	return false, nil
}

// Get returns the pause state for a key, nil when not paused.
func (c *Controller) Get(ctx context.Context, contactKey string) *State {
	return c.get(ctx, kv.PauseKey(contactKey))
}

// PausedContacts counts contacts with an active pause. The global flag
// is not a contact and is excluded.
func (c *Controller) PausedContacts(ctx context.Context) (int, error) {
	keys, err := c.kv.Keys(ctx, kv.PrefixPause)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pause keys")
	}
	n := 0
	for _, k := range keys {
		if k != kv.KeyPauseAll {
			n++
		}
	}
	return n, nil
}

func (c *Controller) get(ctx context.Context, key string) *State {
	v, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		slog.Error("pause state unavailable", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	st := &State{}
	if err := json.Unmarshal([]byte(v), st); err != nil {
		// Legacy plain flag, treat as a manual pause.
		return &State{Reason: ReasonManual}
	}
	return st
}

func (c *Controller) set(ctx context.Context, key, contactKey string, st State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "failed to marshal pause state")
	}
	if err := c.kv.Set(ctx, key, string(payload), 0); err != nil {
		return errors.Wrap(err, "failed to set pause")
	}
	c.publish(contactKey, true, st.Reason)
	return nil
}

func (c *Controller) clear(ctx context.Context, key, contactKey string) error {
	if err := c.kv.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "failed to clear pause")
	}
	c.publish(contactKey, false, "")
	return nil
}

func (c *Controller) publish(contactKey string, paused bool, reason string) {
	if c.bus == nil {
		return
	}
	payload := map[string]any{"paused": paused}
	if contactKey != "" {
		payload["contactKey"] = contactKey
	} else {
		payload["global"] = true
	}
	if reason != "" {
		payload["reason"] = reason
	}
	c.bus.Publish(events.TypePauseUpdate, payload)
}
