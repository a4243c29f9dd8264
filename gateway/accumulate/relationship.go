// Package accumulate hosts the background learners: relationship scores
// from classifier signals and style profiles from the owner's own
// messages. Both write to MEM rarely and deliberately; a single signal
// never flips anything.
package accumulate

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

const (
	signalBatchSize  = 10
	signalFlushAfter = 30 * time.Second
	signalPollEvery  = 5 * time.Second
	signalReadLimit  = 100

	decayFactor = 0.95
	// minSignals and minDelta gate persistence: a type change needs at
	// least this much evidence and separation from the incumbent.
	minSignals = 3
	minDelta   = 0.3
)

// RelationshipAccumulator consumes the signal stream and maintains
// per-contact relationship scores.
type RelationshipAccumulator struct {
	kv    kv.Store
	store *store.Store
	now   func() time.Time

	// pending buffers signals per contact between flushes.
	pending map[string]*pendingSignals
	cursor  string
}

type pendingSignals struct {
	signals []*classify.RelationshipSignal
	first   time.Time
}

// NewRelationshipAccumulator creates the accumulator.
func NewRelationshipAccumulator(kvStore kv.Store, st *store.Store) *RelationshipAccumulator {
	return &RelationshipAccumulator{
		kv:      kvStore,
		store:   st,
		now:     time.Now,
		pending: make(map[string]*pendingSignals),
	}
}

// Run polls the signal stream until the context is cancelled.
func (a *RelationshipAccumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(signalPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(context.Background())
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *RelationshipAccumulator) poll(ctx context.Context) {
	entries, err := a.kv.StreamRead(ctx, kv.StreamSignals, a.cursor, signalReadLimit)
	if err != nil {
		slog.Error("signal stream read failed", "error", err)
		return
	}
	for _, e := range entries {
		sig := &classify.RelationshipSignal{}
		if err := json.Unmarshal([]byte(e.Value), sig); err != nil {
			slog.Warn("malformed relationship signal, skipping", "id", e.ID)
			a.cursor = e.ID
			continue
		}
		p, ok := a.pending[sig.ContactKey]
		if !ok {
			p = &pendingSignals{first: a.now()}
			a.pending[sig.ContactKey] = p
		}
		p.signals = append(p.signals, sig)
		a.cursor = e.ID

		if len(p.signals) >= signalBatchSize {
			a.flush(ctx, sig.ContactKey, p)
		}
	}

	// Time-based flush for contacts that never reach a full batch.
	for key, p := range a.pending {
		if a.now().Sub(p.first) >= signalFlushAfter {
			a.flush(ctx, key, p)
		}
	}

	if len(entries) > 0 && len(a.pending) == 0 {
		if err := a.kv.StreamTrim(ctx, kv.StreamSignals, a.cursor); err != nil {
			slog.Debug("signal stream trim failed", "error", err)
		}
	}
}

func (a *RelationshipAccumulator) flushAll(ctx context.Context) {
	for key, p := range a.pending {
		a.flush(ctx, key, p)
	}
}

// flush folds a batch of signals into the stored scores.
func (a *RelationshipAccumulator) flush(ctx context.Context, contactKey string, p *pendingSignals) {
	delete(a.pending, contactKey)
	if len(p.signals) == 0 {
		return
	}

	scores, err := a.store.Relationships.Get(ctx, contactKey)
	if err != nil {
		slog.Error("failed to load relationship scores", "contact", contactKey, "error", err)
		return
	}
	if scores == nil {
		scores = &store.RelationshipScores{
			ContactKey: contactKey,
			Scores:     make(map[store.RelationshipType]float64),
		}
	}
	if scores.Scores == nil {
		scores.Scores = make(map[store.RelationshipType]float64)
	}

	a.decay(scores)
	for _, sig := range p.signals {
		scores.Scores[sig.Type] += sig.Confidence
	}
	scores.SignalCount += len(p.signals)
	scores.LastUpdated = a.now()

	a.resolveType(scores)

	if err := a.store.Relationships.Upsert(ctx, scores); err != nil {
		slog.Error("failed to persist relationship scores", "contact", contactKey, "error", err)
	}
}

// decay shrinks all scores by 0.95 per elapsed day since the last
// update, so old evidence fades instead of accumulating forever.
func (a *RelationshipAccumulator) decay(scores *store.RelationshipScores) {
	if scores.LastUpdated.IsZero() {
		return
	}
	days := a.now().Sub(scores.LastUpdated).Hours() / 24
	if days <= 0 {
		return
	}
	factor := math.Pow(decayFactor, days)
	for k, v := range scores.Scores {
		scores.Scores[k] = v * factor
	}
}

// resolveType decides whether the leading score may become the current
// type. Close relationships never degrade to acquaintance on score
// drift alone; only explicit operator action does that.
func (a *RelationshipAccumulator) resolveType(scores *store.RelationshipScores) {
	var top store.RelationshipType
	var topScore float64
	for k, v := range scores.Scores {
		if v > topScore {
			top, topScore = k, v
		}
	}
	if top == "" || top == scores.CurrentType {
		if scores.CurrentType != "" {
			scores.CurrentConfidence = topScore
		}
		return
	}
	if scores.SignalCount < minSignals {
		return
	}
	current := scores.Scores[scores.CurrentType]
	if topScore-current < minDelta {
		return
	}
	if top == store.RelAcquaintance &&
		(scores.CurrentType == store.RelFamily || scores.CurrentType == store.RelFriend) {
		return
	}

	slog.Info("relationship type updated",
		"contact", scores.ContactKey,
		"from", scores.CurrentType,
		"to", top,
		"score", topScore,
	)
	scores.CurrentType = top
	scores.CurrentConfidence = topScore
}
