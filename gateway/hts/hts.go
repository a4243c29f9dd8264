// Package hts delays outbound replies so they land at a human typing
// cadence instead of machine speed.
package hts

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/channel/channels"
	"github.com/ghostwriter-im/ghostwriter/kv"
)

const (
	baseDelay    = 30 * time.Millisecond
	perCharDelay = 2 * time.Millisecond
	maxJitter    = 500 * time.Millisecond
	lastMsgTTL   = time.Hour
	sendTimeout  = 10 * time.Second
)

// DelayObserver receives the computed typing delay of each dispatch.
type DelayObserver interface {
	ObserveDispatchDelay(d time.Duration)
}

// Dispatcher paces and sends replies through the adapter manager.
type Dispatcher struct {
	kv       kv.Store
	manager  *channels.Manager
	maxDelay time.Duration
	metrics  DelayObserver
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func() time.Duration
}

// New creates a Dispatcher with the given total delay cap.
func New(store kv.Store, manager *channels.Manager, maxDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		kv:       store,
		manager:  manager,
		maxDelay: maxDelay,
		now:      time.Now,
		sleep:    sleepCtx,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
	}
}

// SetMetrics attaches a delay observer. Call before the first Dispatch.
func (d *Dispatcher) SetMetrics(m DelayObserver) { d.metrics = m }

// Delay computes the typing delay for a reply of the given length,
// factoring in how recently the previous reply to this contact went out.
func (d *Dispatcher) Delay(ctx context.Context, contactKey string, textLen int) time.Duration {
	delay := baseDelay + time.Duration(textLen)*perCharDelay + d.jitter()
	delay += d.cognitivePause(ctx, contactKey)
	if delay > d.maxDelay {
		delay = d.maxDelay
	}
	return delay
}

// cognitivePause grows with the gap since the previous dispatch: a reply
// after a long silence needs a moment of "reading" first. No prior
// message means no pause.
func (d *Dispatcher) cognitivePause(ctx context.Context, contactKey string) time.Duration {
	v, ok, err := d.kv.Get(ctx, kv.HTSLastKey(contactKey))
	if err != nil || !ok {
		return 0
	}
	lastMilli, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	elapsed := d.now().Sub(time.UnixMilli(lastMilli))

	switch {
	case elapsed < 10*time.Second:
		return 200 * time.Millisecond
	case elapsed < time.Minute:
		return 500 * time.Millisecond
	case elapsed < 10*time.Minute:
		return time.Second
	default:
		return 2 * time.Second
	}
}

// Dispatch waits the computed delay, shows the typing indicator, and
// sends. A send failure is returned in the result; there is no automatic
// retry, the operator replays manually.
func (d *Dispatcher) Dispatch(ctx context.Context, channelID channel.ID, contactID, contactKey, text string) channel.SendResult {
	delay := d.Delay(ctx, contactKey, len(text))
	if d.metrics != nil {
		d.metrics.ObserveDispatchDelay(delay)
	}
	if err := d.sleep(ctx, delay); err != nil {
		return channel.SendResult{OK: false, Error: err.Error()}
	}

	d.manager.Typing(ctx, channelID, contactID, delay)

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	result := d.manager.Send(sendCtx, channelID, contactID, &channel.OutgoingMessage{
		To:   contactID,
		Text: text,
	})

	if result.OK {
		stamp := strconv.FormatInt(d.now().UnixMilli(), 10)
		if err := d.kv.Set(ctx, kv.HTSLastKey(contactKey), stamp, lastMsgTTL); err != nil {
			slog.Debug("hts timestamp write failed", "contact", contactKey, "error", err)
		}
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
