// Package telegram implements the Telegram Bot adapter.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/ghostwriter-im/ghostwriter/channel"
	"github.com/ghostwriter-im/ghostwriter/channel/channels"
	"github.com/ghostwriter-im/ghostwriter/channel/format"
)

const (
	// Telegram allows ~30 messages/second bot-wide; stay well under it.
	sendRatePerSecond = 20
	longPollTimeout   = 30 // seconds, passed to getUpdates
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	BotToken   string
	SkipGroups bool
}

// Adapter implements channels.Adapter for the Telegram Bot API using
// long polling.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	config  Config
	manager *channels.Manager
	limiter *rate.Limiter

	mu     sync.RWMutex
	status channel.Status
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Telegram adapter. The session is not established until
// Connect is called.
func New(cfg Config, manager *channels.Manager) *Adapter {
	return &Adapter{
		config:  cfg,
		manager: manager,
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSecond), sendRatePerSecond),
		status:  channel.StatusDisconnected,
	}
}

// ID returns the transport identifier.
func (a *Adapter) ID() channel.ID { return channel.Telegram }

// DisplayName returns the transport name for operator surfaces.
func (a *Adapter) DisplayName() string { return "Telegram" }

// Icon returns the icon identifier for operator surfaces.
func (a *Adapter) Icon() string { return "telegram" }

// Status reports the current connection state.
func (a *Adapter) Status() channel.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// IsConnected reports whether the long-poll loop is running.
func (a *Adapter) IsConnected() bool {
	return a.Status() == channel.StatusConnected
}

func (a *Adapter) setStatus(s channel.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Connect authorizes the bot and starts the long-polling receive loop.
func (a *Adapter) Connect(ctx context.Context) error {
	a.setStatus(channel.StatusConnecting)

	bot, err := tgbotapi.NewBotAPI(a.config.BotToken)
	if err != nil {
		a.setStatus(channel.StatusError)
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.bot = bot
	slog.Info("telegram: bot authorized", "username", bot.Self.UserName)

	loopCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = longPollTimeout
	updates := bot.GetUpdatesChan(u)

	go a.receiveLoop(loopCtx, updates)
	a.setStatus(channel.StatusConnected)
	return nil
}

// Disconnect stops the receive loop.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		a.setStatus(channel.StatusDisconnected)
		return nil
	}
	a.bot.StopReceivingUpdates()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.setStatus(channel.StatusDisconnected)
	return nil
}

func (a *Adapter) receiveLoop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				a.setStatus(channel.StatusDisconnected)
				return
			}
			if msg := a.normalize(&update); msg != nil {
				a.manager.Emit(msg)
			}
		}
	}
}

// normalize maps a Telegram update into the pipeline's message shape.
// Returns nil for updates the pipeline does not consume.
func (a *Adapter) normalize(update *tgbotapi.Update) *channel.NormalizedMessage {
	tgMsg := update.Message
	if tgMsg == nil {
		tgMsg = update.EditedMessage
	}
	if tgMsg == nil || tgMsg.From == nil {
		return nil
	}

	isGroup := tgMsg.Chat != nil && (tgMsg.Chat.IsGroup() || tgMsg.Chat.IsSuperGroup())
	if isGroup && a.config.SkipGroups {
		slog.Debug("telegram: skipping group message", "chat_id", tgMsg.Chat.ID)
		return nil
	}

	msg := &channel.NormalizedMessage{
		ID:        fmt.Sprintf("tg-%d-%d", tgMsg.Chat.ID, tgMsg.MessageID),
		Version:   channel.SchemaVersion,
		ChannelID: channel.Telegram,
		ContactID: strconv.FormatInt(tgMsg.Chat.ID, 10),
		Content:   tgMsg.Text,
		Timestamp: int64(tgMsg.Date) * 1000,
		GroupChat: isGroup,
		Metadata: map[string]string{
			"username":      tgMsg.From.UserName,
			"language_code": tgMsg.From.LanguageCode,
		},
	}
	if tgMsg.ReplyToMessage != nil {
		msg.ReplyTo = fmt.Sprintf("tg-%d-%d", tgMsg.Chat.ID, tgMsg.ReplyToMessage.MessageID)
	}

	switch {
	case len(tgMsg.Photo) > 0:
		msg.MediaType = channel.MediaImage
		largest := tgMsg.Photo[len(tgMsg.Photo)-1]
		msg.MediaURL = fmt.Sprintf("telegram://file/%s", largest.FileID)
		msg.Content = tgMsg.Caption
	case tgMsg.Voice != nil:
		msg.MediaType = channel.MediaAudio
		msg.MediaURL = fmt.Sprintf("telegram://file/%s", tgMsg.Voice.FileID)
	case tgMsg.Audio != nil:
		msg.MediaType = channel.MediaAudio
		msg.MediaURL = fmt.Sprintf("telegram://file/%s", tgMsg.Audio.FileID)
	case tgMsg.Video != nil:
		msg.MediaType = channel.MediaVideo
		msg.MediaURL = fmt.Sprintf("telegram://file/%s", tgMsg.Video.FileID)
		msg.Content = tgMsg.Caption
	case tgMsg.Document != nil:
		msg.MediaType = channel.MediaDocument
		msg.MediaURL = fmt.Sprintf("telegram://file/%s", tgMsg.Document.FileID)
	default:
		msg.MediaType = channel.MediaText
	}
	return msg
}

// SendMessage delivers text to a chat. Generator Markdown is rendered to
// Telegram's HTML subset; on a render failure the raw text is sent as-is.
func (a *Adapter) SendMessage(ctx context.Context, to string, msg *channel.OutgoingMessage) channel.SendResult {
	if !a.IsConnected() {
		return channel.SendResult{OK: false, Error: channels.ErrNotConnected.Error()}
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return channel.SendResult{OK: false, Error: fmt.Sprintf("invalid chat id %q", to)}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return channel.SendResult{OK: false, Error: err.Error()}
	}

	text := msg.Text
	parseMode := ""
	if rendered, rerr := format.TelegramHTML(msg.Text); rerr == nil && rendered != "" {
		text = rendered
		parseMode = tgbotapi.ModeHTML
	}

	tgMsg := tgbotapi.NewMessage(chatID, text)
	tgMsg.ParseMode = parseMode
	sent, err := a.bot.Send(tgMsg)
	if err != nil {
		slog.Error("telegram: send failed", "chat_id", to, "error", err)
		return channel.SendResult{OK: false, Error: err.Error()}
	}
	return channel.SendResult{
		OK:        true,
		MessageID: fmt.Sprintf("tg-%d-%d", chatID, sent.MessageID),
	}
}

// SendTypingIndicator shows the "typing..." chat action, best-effort.
// Telegram clears the action automatically after ~5s or on the next send,
// so the duration is advisory only.
func (a *Adapter) SendTypingIndicator(ctx context.Context, to string, _ time.Duration) {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := a.bot.Request(action); err != nil {
		slog.Debug("telegram: typing indicator failed", "chat_id", to, "error", err)
	}
}

// GetContacts is unsupported by the Bot API; bots only learn chats from
// inbound traffic.
func (a *Adapter) GetContacts(ctx context.Context) ([]channel.Contact, error) {
	return nil, nil
}

// GetContact resolves a chat by id.
func (a *Adapter) GetContact(ctx context.Context, id string) (*channel.Contact, error) {
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q", id)
	}
	chat, err := a.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat: %w", err)
	}
	name := chat.Title
	if name == "" {
		name = chat.FirstName + " " + chat.LastName
	}
	return &channel.Contact{
		ID:          id,
		DisplayName: name,
		IsGroup:     chat.IsGroup() || chat.IsSuperGroup(),
	}, nil
}

// NormalizeContactID is a no-op for Telegram; chat ids are already canonical.
func (a *Adapter) NormalizeContactID(raw string) string { return raw }

var _ channels.Adapter = (*Adapter)(nil)
