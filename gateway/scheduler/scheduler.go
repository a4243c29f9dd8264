// Package scheduler runs the gateway's periodic loops: waking deferred
// messages after sleep hours and expiring stale pairing requests.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

const (
	deferredPollEvery = 5 * time.Second
	deferredBatchSize = 50

	pairingSweepEvery = time.Hour
	pairingMaxAge     = 7 * 24 * time.Hour
)

// Reinjector receives woken messages back into the pipeline.
type Reinjector interface {
	Reinject(msg *channel.NormalizedMessage)
}

// Scheduler owns the deferred-message and pairing-expiry loops.
type Scheduler struct {
	kv       kv.Store
	store    *store.Store
	pipeline Reinjector
	now      func() time.Time
}

// New creates a Scheduler.
func New(kvStore kv.Store, st *store.Store, pipeline Reinjector) *Scheduler {
	return &Scheduler{kv: kvStore, store: st, pipeline: pipeline, now: time.Now}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	deferred := time.NewTicker(deferredPollEvery)
	defer deferred.Stop()
	pairing := time.NewTicker(pairingSweepEvery)
	defer pairing.Stop()

	// Sweep once at startup so a long downtime does not leave stale
	// pending requests behind.
	s.sweepPairing(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deferred.C:
			s.wakeDeferred(ctx)
		case <-pairing.C:
			s.sweepPairing(ctx)
		}
	}
}

// wakeDeferred pops every entry whose wake time has passed and feeds it
// back into the pipeline.
func (s *Scheduler) wakeDeferred(ctx context.Context) {
	members, err := s.kv.ZPopUntil(ctx, kv.KeyDeferred, s.now().UnixMilli(), deferredBatchSize)
	if err != nil {
		slog.Error("deferred queue poll failed", "error", err)
		return
	}
	for _, m := range members {
		msg := &channel.NormalizedMessage{}
		if err := json.Unmarshal([]byte(m.Member), msg); err != nil {
			slog.Warn("malformed deferred message, dropping", "error", err)
			continue
		}
		slog.Info("waking deferred message",
			"message", msg.ID, "contact", msg.ContactKey())
		s.pipeline.Reinject(msg)
	}
}

func (s *Scheduler) sweepPairing(ctx context.Context) {
	cutoff := s.now().Add(-pairingMaxAge)
	n, err := s.store.Pairing.ExpirePending(ctx, cutoff)
	if err != nil {
		slog.Error("pairing expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired stale pairing requests", "count", n)
	}
}
