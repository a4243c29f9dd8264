// Package admission decides whether an inbound message may reach the
// response pipeline. Unknown senders are parked as pairing requests
// until the operator approves or denies them.
package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/gateway/events"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

// Verdict is the admission outcome for one message.
type Verdict int

const (
	// VerdictAdmit lets the message into the pipeline.
	VerdictAdmit Verdict = iota
	// VerdictDrop discards the message silently.
	VerdictDrop
	// VerdictPending parked the sender behind a pairing request.
	VerdictPending
)

func (v Verdict) String() string {
	switch v {
	case VerdictAdmit:
		return "admit"
	case VerdictDrop:
		return "drop"
	case VerdictPending:
		return "pending"
	}
	return "unknown"
}

// Decision carries the verdict and the rule or state that produced it.
type Decision struct {
	Verdict Verdict
	Reason  string
	Contact *store.ApprovedContact // set when admitted
}

// Sender is the outbound slice the gate needs for pairing auto-replies.
type Sender interface {
	Send(ctx context.Context, channelID channel.ID, contactID, text string) error
}

const firstMessageMaxLen = 280

// Gate serializes admission decisions. Callers must already hold the
// per-contact pipeline lock; the gate itself only orders its own writes.
type Gate struct {
	store  *store.Store
	kv     kv.Store
	bus    *events.Bus
	rules  *DropRules
	cfg    gateway.AdmissionConfig
	sender Sender
	now    func() time.Time
}

// NewGate creates a Gate. sender and bus may be nil in tests.
func NewGate(st *store.Store, kvStore kv.Store, bus *events.Bus, rules *DropRules, cfg gateway.AdmissionConfig, sender Sender) *Gate {
	return &Gate{
		store:  st,
		kv:     kvStore,
		bus:    bus,
		rules:  rules,
		cfg:    cfg,
		sender: sender,
		now:    time.Now,
	}
}

// Check runs the admission decision procedure for one inbound message.
func (g *Gate) Check(ctx context.Context, msg *channel.NormalizedMessage) (Decision, error) {
	contactKey := msg.ContactKey()

	if msg.GroupChat {
		return Decision{Verdict: VerdictDrop, Reason: "group_chat"}, nil
	}
	if matched, rule := g.rules.Match(msg); matched {
		slog.Debug("message dropped by rule", "contact", contactKey, "rule", rule)
		return Decision{Verdict: VerdictDrop, Reason: "drop_rule"}, nil
	}

	denied, err := g.store.Contacts.GetDenied(ctx, contactKey)
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed to check denied contact")
	}
	if denied != nil && denied.Active(g.now()) {
		return Decision{Verdict: VerdictDrop, Reason: "denied"}, nil
	}

	approved, err := g.store.GetApprovedCached(ctx, contactKey)
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed to check approved contact")
	}
	if approved != nil {
		return Decision{Verdict: VerdictAdmit, Reason: "approved", Contact: approved}, nil
	}

	if g.cfg.AutoApproveExisting && g.hasHistory(ctx, contactKey) {
		contact := &store.ApprovedContact{
			ContactKey:  contactKey,
			ChannelID:   string(msg.ChannelID),
			DisplayName: msg.NormalizedContactID,
			Tier:        store.TierStandard,
			ApprovedAt:  g.now(),
			ApprovedBy:  "auto",
		}
		if err := g.store.Contacts.UpsertApproved(ctx, contact); err != nil {
			return Decision{}, errors.Wrap(err, "failed to auto-approve contact")
		}
		g.store.InvalidateContact(contactKey)
		slog.Info("auto-approved contact with existing history", "contact", contactKey)
		return Decision{Verdict: VerdictAdmit, Reason: "auto_approved", Contact: contact}, nil
	}

	if err := g.createPairing(ctx, msg); err != nil {
		return Decision{}, err
	}
	return Decision{Verdict: VerdictPending, Reason: "pairing_pending"}, nil
}

// hasHistory reports whether any conversation log exists for the contact.
// KV failure means no auto-approval, not an admission error.
func (g *Gate) hasHistory(ctx context.Context, contactKey string) bool {
	n, err := g.kv.ListLen(ctx, kv.HistoryKey(contactKey))
	if err != nil {
		slog.Error("history lookup failed during admission", "contact", contactKey, "error", err)
		return false
	}
	return n > 0
}

func (g *Gate) createPairing(ctx context.Context, msg *channel.NormalizedMessage) error {
	contactKey := msg.ContactKey()

	existing, err := g.store.Pairing.Get(ctx, contactKey)
	if err != nil {
		return errors.Wrap(err, "failed to look up pairing request")
	}
	isNew := existing == nil || existing.Status != store.PairingPending

	firstMessage := msg.Content
	if len(firstMessage) > firstMessageMaxLen {
		firstMessage = firstMessage[:firstMessageMaxLen]
	}
	req := &store.PairingRequest{
		ContactKey:   contactKey,
		ChannelID:    string(msg.ChannelID),
		DisplayName:  msg.NormalizedContactID,
		FirstMessage: firstMessage,
		RequestedAt:  g.now(),
		Status:       store.PairingPending,
	}
	if existing != nil && existing.Status == store.PairingPending {
		// Refresh keeps the original request time so expiry still applies.
		req.RequestedAt = existing.RequestedAt
		req.FirstMessage = existing.FirstMessage
	}
	if err := g.store.Pairing.Upsert(ctx, req); err != nil {
		return errors.Wrap(err, "failed to persist pairing request")
	}

	if g.bus != nil {
		g.bus.Publish(events.TypePairingRequest, map[string]any{
			"contactKey": contactKey,
			"channelId":  string(msg.ChannelID),
			"new":        isNew,
		})
	}

	// Auto-reply only once per request; a send failure must not roll the
	// pending state back.
	if isNew && g.cfg.AutoReplyUnknown && g.sender != nil && g.cfg.AutoReplyText != "" {
		if err := g.sender.Send(ctx, msg.ChannelID, msg.ContactID, g.cfg.AutoReplyText); err != nil {
			slog.Warn("pairing auto-reply failed", "contact", contactKey, "error", err)
		}
	}
	return nil
}

// Approve marks a contact approved and resolves any pairing request.
// Idempotent; repeated calls refresh the record (last write wins).
func (g *Gate) Approve(ctx context.Context, contactKey, channelID, by string, tier store.Tier) error {
	if !tier.IsValid() {
		tier = store.TierStandard
	}
	now := g.now()

	contact := &store.ApprovedContact{
		ContactKey: contactKey,
		ChannelID:  channelID,
		Tier:       tier,
		ApprovedAt: now,
		ApprovedBy: by,
	}
	if req, err := g.store.Pairing.Get(ctx, contactKey); err == nil && req != nil {
		contact.DisplayName = req.DisplayName
		if contact.ChannelID == "" {
			contact.ChannelID = req.ChannelID
		}
		req.Status = store.PairingApproved
		req.ApprovedBy = by
		req.ApprovedAt = &now
		if err := g.store.Pairing.Upsert(ctx, req); err != nil {
			return errors.Wrap(err, "failed to resolve pairing request")
		}
	}
	if err := g.store.Contacts.UpsertApproved(ctx, contact); err != nil {
		return errors.Wrap(err, "failed to approve contact")
	}
	// Approval supersedes a prior denial.
	if err := g.store.Contacts.DeleteDenied(ctx, contactKey); err != nil {
		return errors.Wrap(err, "failed to clear denial")
	}
	g.store.InvalidateContact(contactKey)

	if g.bus != nil {
		g.bus.Publish(events.TypePairingApproved, map[string]any{
			"contactKey": contactKey,
			"approvedBy": by,
		})
	}
	return nil
}

// Deny records a denial with the configured cooldown and removes any
// approval. Idempotent; repeated calls extend the cooldown.
func (g *Gate) Deny(ctx context.Context, contactKey, by, reason string) error {
	now := g.now()
	denial := &store.DeniedContact{
		ContactKey: contactKey,
		DeniedAt:   now,
		DeniedBy:   by,
		ExpiresAt:  now.Add(g.cfg.DenyCooldown),
		Reason:     reason,
	}
	if err := g.store.Contacts.UpsertDenied(ctx, denial); err != nil {
		return errors.Wrap(err, "failed to deny contact")
	}
	if err := g.store.Contacts.DeleteApproved(ctx, contactKey); err != nil {
		return errors.Wrap(err, "failed to remove approval")
	}
	if req, err := g.store.Pairing.Get(ctx, contactKey); err == nil && req != nil && req.Status == store.PairingPending {
		req.Status = store.PairingDenied
		req.ApprovedBy = by
		if err := g.store.Pairing.Upsert(ctx, req); err != nil {
			return errors.Wrap(err, "failed to resolve pairing request")
		}
	}
	g.store.InvalidateContact(contactKey)
	return nil
}
