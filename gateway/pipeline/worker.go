package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/admission"
	"github.com/ghostwriter-im/ghostwriter/gateway/assemble"
	"github.com/ghostwriter-im/ghostwriter/gateway/classify"
	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/gateway/pause"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

// process walks one message through the state machine and returns its
// terminal status.
func (c *Coordinator) process(ctx context.Context, t task) string {
	msg := t.msg
	contactKey := msg.ContactKey()

	if c.deps.Bus != nil && !t.reinjected {
		c.deps.Bus.Publish(events.TypeMessageReceived, map[string]any{
			"messageId":  msg.ID,
			"contactKey": contactKey,
			"channelId":  string(msg.ChannelID),
			"fromMe":     msg.FromMe,
		})
	}

	// An outbound message typed by the owner means they took over this
	// conversation: pause it until explicit resume, and learn from it.
	if msg.FromMe {
		return c.handleFromMe(ctx, msg)
	}

	var contact *store.ApprovedContact
	if t.reinjected {
		// Admission was settled before deferral; re-resolve the record.
		var err error
		contact, err = c.deps.Store.GetApprovedCached(ctx, contactKey)
		if err != nil || contact == nil {
			slog.Warn("deferred message contact no longer approved", "contact", contactKey)
			return StatusDropped
		}
	} else {
		decision, err := c.deps.Gate.Check(ctx, msg)
		if err != nil {
			slog.Error("admission check failed", "contact", contactKey, "error", err)
			return StatusFailed
		}
		switch decision.Verdict {
		case admission.VerdictDrop:
			return StatusDropped
		case admission.VerdictPending:
			return StatusPending
		}
		contact = decision.Contact

		if res := c.deps.Limiter.Check(ctx, contactKey); !res.Allowed {
			return StatusDropped
		}

		if paused, st := c.deps.Pauses.IsPaused(ctx, contactKey); paused {
			c.appendInbound(ctx, msg)
			slog.Debug("contact paused, not replying",
				"contact", contactKey, "reason", st.Reason)
			return StatusPaused
		}
	}

	now := time.Now()
	if c.deps.Sleep.Enabled() && c.deps.Sleep.IsSleeping(now) {
		return c.deferUntil(ctx, msg, c.deps.Sleep.NextWake(now))
	}

	c.appendInbound(ctx, msg)

	kind, classStats := c.deps.Classifier.Classify(ctx, msg.Content)
	c.deps.Generator.RecordTokens(ctx, "classification", classStats)

	signal := classify.ExtractSignal(contactKey, msg.Content, false)
	classify.EnqueueSignal(ctx, c.deps.KV, signal)
	var relOverride store.RelationshipType
	if signal != nil && signal.Confidence >= classify.OverrideThreshold {
		relOverride = signal.Type
	}

	var bundle *assemble.Bundle
	if kind == classify.KindSubstantive {
		bundle = c.deps.Assembler.Assemble(ctx, contact, relOverride)
		c.enqueueExtraction(ctx, msg)
	} else {
		bundle = &assemble.Bundle{
			Contact: contact,
			Persona: c.deps.Assembler.Persona(ctx, contact, relOverride),
		}
	}

	reply, err := c.deps.Generator.Generate(ctx, msg, kind, bundle)
	if err != nil {
		slog.Error("response generation failed",
			"message", msg.ID, "contact", contactKey, "error", err)
		return StatusFailed
	}

	result := c.deps.Dispatcher.Dispatch(ctx, msg.ChannelID, msg.ContactID, contactKey, reply)
	if !result.OK {
		slog.Error("dispatch failed",
			"message", msg.ID, "contact", contactKey, "error", result.Error)
		return StatusFailed
	}

	gateway.AppendHistory(ctx, c.deps.KV, c.deps.Config.History, contactKey, gateway.HistoryEntry{
		ID:        result.MessageID,
		Content:   reply,
		FromMe:    true,
		Timestamp: time.Now(),
	})
	return StatusDone
}

func (c *Coordinator) handleFromMe(ctx context.Context, msg *channel.NormalizedMessage) string {
	contactKey := msg.ContactKey()

	if err := c.deps.Pauses.Pause(ctx, contactKey, pause.ReasonFromMe); err != nil {
		slog.Error("failed to pause after owner takeover", "contact", contactKey, "error", err)
	}
	c.appendInbound(ctx, msg)

	signal := classify.ExtractSignal(contactKey, msg.Content, true)
	classify.EnqueueSignal(ctx, c.deps.KV, signal)

	if c.deps.Style != nil {
		c.deps.Style.Observe(contactKey, msg.Content)
	}
	return StatusDone
}

func (c *Coordinator) appendInbound(ctx context.Context, msg *channel.NormalizedMessage) {
	gateway.AppendHistory(ctx, c.deps.KV, c.deps.Config.History, msg.ContactKey(), gateway.HistoryEntry{
		ID:        msg.ID,
		Content:   msg.Content,
		FromMe:    msg.FromMe,
		Timestamp: time.UnixMilli(msg.Timestamp),
	})
}

// enqueueExtraction feeds substantive inbound messages to the background
// graph extraction queue.
func (c *Coordinator) enqueueExtraction(ctx context.Context, msg *channel.NormalizedMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if _, err := c.deps.KV.StreamAppend(ctx, kv.StreamExtraction, string(payload)); err != nil {
		slog.Debug("extraction enqueue failed", "message", msg.ID, "error", err)
	}
}
