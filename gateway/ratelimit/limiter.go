// Package ratelimit implements the per-contact sliding-window inbound
// message limiter. The counter lives in the KV store so restarts do not
// reset an abuser's window.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/gateway/pause"
	"github.com/ghostwriter-im/ghostwriter/kv"
)

// Pauser is the slice of the pause controller the limiter needs for
// auto-pause on breach.
type Pauser interface {
	Pause(ctx context.Context, contactKey, reason string) error
	Resume(ctx context.Context, contactKey string) error
}

// Result reports the outcome of a limit check.
type Result struct {
	Allowed       bool
	CurrentCount  int64
	Threshold     int
	WindowSeconds int
	AutoPaused    bool
}

// Limiter counts inbound messages per contact over a fixed window.
type Limiter struct {
	kv     kv.Store
	cfg    gateway.RateLimitConfig
	bus    *events.Bus
	pauser Pauser
}

// New creates a Limiter. bus and pauser may be nil in tests.
func New(store kv.Store, cfg gateway.RateLimitConfig, bus *events.Bus, pauser Pauser) *Limiter {
	return &Limiter{kv: store, cfg: cfg, bus: bus, pauser: pauser}
}

func (l *Limiter) result(allowed bool, count int64) Result {
	return Result{
		Allowed:       allowed,
		CurrentCount:  count,
		Threshold:     l.cfg.Threshold,
		WindowSeconds: int(l.cfg.Window / time.Second),
	}
}

// Check records one inbound message for the contact and reports whether
// it is within the limit. KV failures fail open: the message is allowed
// and the error is logged, never surfaced to the pipeline.
func (l *Limiter) Check(ctx context.Context, contactKey string) Result {
	count, err := l.kv.IncrWindow(ctx, kv.CounterKey(contactKey), l.cfg.Window)
	if err != nil {
		slog.Error("rate limit counter unavailable, allowing message",
			"contact", contactKey, "error", err)
		return l.result(true, 0)
	}
	if count <= int64(l.cfg.Threshold) {
		return l.result(true, count)
	}

	slog.Warn("rate limit exceeded",
		"contact", contactKey,
		"count", count,
		"threshold", l.cfg.Threshold,
	)
	res := l.result(false, count)
	if l.cfg.AutoPause && l.pauser != nil {
		if err := l.pauser.Pause(ctx, contactKey, pause.ReasonRateLimit); err != nil {
			slog.Error("failed to auto-pause rate limited contact",
				"contact", contactKey, "error", err)
		} else {
			res.AutoPaused = true
		}
	}
	if l.bus != nil {
		l.bus.Publish(events.TypeRateLimit, map[string]any{
			"contactKey": contactKey,
			"count":      count,
			"threshold":  l.cfg.Threshold,
			"autoPaused": res.AutoPaused,
		})
	}
	return res
}

// Count returns the current window count without incrementing.
func (l *Limiter) Count(ctx context.Context, contactKey string) (int64, error) {
	return l.kv.CounterGet(ctx, kv.CounterKey(contactKey))
}

// Reset clears the contact's window and, when clearPause is set, lifts
// any auto-pause. Used by the admin side-channel.
func (l *Limiter) Reset(ctx context.Context, contactKey string, clearPause bool) error {
	if err := l.kv.Delete(ctx, kv.CounterKey(contactKey)); err != nil {
		return err
	}
	if clearPause && l.pauser != nil {
		return l.pauser.Resume(ctx, contactKey)
	}
	return nil
}

// Window exposes the configured window length for observers.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }
