// Package whatsapp implements the WhatsApp adapter via a Baileys Node.js
// bridge. The bridge owns the WhatsApp session (QR pairing included); this
// adapter speaks a small REST surface plus an SSE event stream.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/time/rate"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/channel/channels"
	"github.com/ghostwriter-im/ghostwriter/channel/format"
)

const (
	groupJIDSuffix = "@g.us"
	userJIDSuffix  = "@s.whatsapp.net"

	// WhatsApp bans aggressively; keep outbound pacing conservative.
	sendRatePerSecond = 1
	sendBurst         = 3
)

// Config holds configuration for the WhatsApp adapter.
type Config struct {
	BridgeURL  string
	APIKey     string
	SkipGroups bool
}

// Adapter implements channels.Adapter for WhatsApp through the Baileys bridge.
type Adapter struct {
	bridge  *BridgeClient
	config  Config
	manager *channels.Manager
	limiter *rate.Limiter

	mu     sync.RWMutex
	status channel.Status
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a WhatsApp adapter. The bridge is not contacted until Connect.
func New(cfg Config, manager *channels.Manager) *Adapter {
	return &Adapter{
		bridge:  NewBridgeClient(cfg.BridgeURL, cfg.APIKey),
		config:  cfg,
		manager: manager,
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSecond), sendBurst),
		status:  channel.StatusDisconnected,
	}
}

// ID returns the transport identifier.
func (a *Adapter) ID() channel.ID { return channel.WhatsApp }

// DisplayName returns the transport name for operator surfaces.
func (a *Adapter) DisplayName() string { return "WhatsApp" }

// Icon returns the icon identifier for operator surfaces.
func (a *Adapter) Icon() string { return "whatsapp" }

// Status reports the current connection state.
func (a *Adapter) Status() channel.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// IsConnected reports whether the bridge session is established.
func (a *Adapter) IsConnected() bool {
	return a.Status() == channel.StatusConnected
}

func (a *Adapter) setStatus(s channel.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Connect verifies the bridge and starts the event stream loop.
func (a *Adapter) Connect(ctx context.Context) error {
	a.setStatus(channel.StatusConnecting)

	if err := a.bridge.HealthCheck(ctx); err != nil {
		a.setStatus(channel.StatusError)
		return fmt.Errorf("baileys bridge not reachable: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.streamLoop(loopCtx)
	a.setStatus(channel.StatusConnected)
	return nil
}

// Disconnect stops the event stream loop. The bridge keeps its WhatsApp
// session; disconnect only detaches this process.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		a.setStatus(channel.StatusDisconnected)
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.setStatus(channel.StatusDisconnected)
	return nil
}

// streamLoop consumes bridge events, reconnecting with bounded backoff.
func (a *Adapter) streamLoop(ctx context.Context) {
	defer close(a.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := a.bridge.StreamEvents(ctx, func(ev *BridgeEvent) {
			if msg := a.normalize(ev); msg != nil {
				a.manager.Emit(msg)
			}
		})
		if ctx.Err() != nil {
			return
		}
		slog.Warn("whatsapp: event stream dropped, reconnecting",
			"backoff", backoff, "error", err)
		a.setStatus(channel.StatusConnecting)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
		if a.bridge.HealthCheck(ctx) == nil {
			a.setStatus(channel.StatusConnected)
			backoff = time.Second
		}
	}
}

// normalize maps a bridge event into the pipeline's message shape. Returns
// nil for events the pipeline does not consume.
func (a *Adapter) normalize(ev *BridgeEvent) *channel.NormalizedMessage {
	if ev.Type != "message" || ev.Message == nil {
		return nil
	}
	wa := ev.Message

	isGroup := strings.HasSuffix(wa.Key.RemoteJID, groupJIDSuffix)
	if isGroup && a.config.SkipGroups {
		slog.Debug("whatsapp: skipping group message", "jid", wa.Key.RemoteJID)
		return nil
	}

	content := wa.Message.Conversation
	if content == "" {
		content = wa.Message.ExtendedText.Text
	}

	// Some bridge payloads (protocol revokes, resyncs) carry no key id;
	// history dedup needs every message to have one.
	msgID := wa.Key.ID
	if msgID == "" {
		msgID = shortuuid.New()
	}

	msg := &channel.NormalizedMessage{
		ID:                  "wa-" + msgID,
		Version:             channel.SchemaVersion,
		ChannelID:           channel.WhatsApp,
		ContactID:           wa.Key.RemoteJID,
		NormalizedContactID: a.NormalizeContactID(wa.Key.RemoteJID),
		Content:             content,
		Timestamp:           wa.Timestamp * 1000,
		FromMe:              wa.Key.FromMe,
		GroupChat:           isGroup,
		MediaType:           mediaTypeOf(wa.MessageType),
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return msg
}

func mediaTypeOf(bridgeType string) channel.MediaType {
	switch bridgeType {
	case "imageMessage":
		return channel.MediaImage
	case "audioMessage", "pttMessage": // ptt = voice note
		return channel.MediaAudio
	case "videoMessage":
		return channel.MediaVideo
	case "documentMessage":
		return channel.MediaDocument
	default:
		return channel.MediaText
	}
}

// SendMessage delivers text to a JID through the bridge.
func (a *Adapter) SendMessage(ctx context.Context, to string, msg *channel.OutgoingMessage) channel.SendResult {
	if !a.IsConnected() {
		return channel.SendResult{OK: false, Error: channels.ErrNotConnected.Error()}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channel.SendResult{OK: false, Error: err.Error()}
	}

	id, err := a.bridge.SendMessage(ctx, &SendRequest{
		JID:     to,
		Type:    "text",
		Content: format.PlainText(msg.Text),
	})
	if err != nil {
		slog.Error("whatsapp: send failed", "jid", to, "error", err)
		return channel.SendResult{OK: false, Error: err.Error()}
	}
	if id == "" {
		id = shortuuid.New()
	}
	return channel.SendResult{OK: true, MessageID: "wa-" + id}
}

// SendTypingIndicator asks the bridge to present "composing" for the given
// duration, best-effort.
func (a *Adapter) SendTypingIndicator(ctx context.Context, to string, duration time.Duration) {
	if err := a.bridge.SendPresence(ctx, to, "composing", duration); err != nil {
		slog.Debug("whatsapp: typing indicator failed", "jid", to, "error", err)
	}
}

// GetContacts lists the bridge's synced address book.
func (a *Adapter) GetContacts(ctx context.Context) ([]channel.Contact, error) {
	raw, err := a.bridge.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]channel.Contact, 0, len(raw))
	for _, c := range raw {
		out = append(out, channel.Contact{
			ID:          c.JID,
			DisplayName: c.Name,
			PhoneNumber: a.NormalizeContactID(c.JID),
			IsGroup:     strings.HasSuffix(c.JID, groupJIDSuffix),
		})
	}
	return out, nil
}

// GetContact resolves a single contact by JID.
func (a *Adapter) GetContact(ctx context.Context, id string) (*channel.Contact, error) {
	all, err := a.GetContacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("contact %q not found", id)
}

// NormalizeContactID strips the WhatsApp JID suffix, leaving a bare phone
// number. Group JIDs are returned unchanged.
func (a *Adapter) NormalizeContactID(raw string) string {
	return strings.TrimSuffix(raw, userJIDSuffix)
}

var _ channels.Adapter = (*Adapter)(nil)
