// Package channels provides the Adapter interface implemented by every chat
// transport integration, plus the Manager that owns the adapter set.
package channels

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ghostwriter-im/ghostwriter/channel"
)

// Adapter is the capability set every transport exposes. One adapter instance
// serves one transport account. All methods must be safe for concurrent use.
type Adapter interface {
	// ID returns the transport identifier (e.g. channel.Telegram).
	ID() channel.ID

	// DisplayName returns a human-readable transport name for operator surfaces.
	DisplayName() string

	// Icon returns a short icon identifier for operator surfaces.
	Icon() string

	// Status reports the current connection state.
	Status() channel.Status

	// Connect starts the transport session and begins emitting inbound events
	// on the sink registered with the Manager. It returns once the session is
	// established or the attempt failed.
	Connect(ctx context.Context) error

	// Disconnect tears down the transport session.
	Disconnect(ctx context.Context) error

	// SendMessage delivers text to a contact. Transport failures are reported
	// in the SendResult, never as a panic or pipeline error.
	SendMessage(ctx context.Context, to string, msg *channel.OutgoingMessage) channel.SendResult

	// SendTypingIndicator shows a typing notification, best-effort.
	SendTypingIndicator(ctx context.Context, to string, duration time.Duration)

	// GetContacts lists the transport's known contacts.
	GetContacts(ctx context.Context) ([]channel.Contact, error)

	// GetContact resolves a single contact by id.
	GetContact(ctx context.Context, id string) (*channel.Contact, error)

	// NormalizeContactID canonicalizes a raw transport address (e.g. strips a
	// WhatsApp JID down to the bare phone number).
	NormalizeContactID(raw string) string

	// IsConnected reports whether the session is currently established.
	IsConnected() bool
}

// Errors shared across adapters.
var (
	ErrNoAdapterForChannel = &AdapterError{Code: "NO_ADAPTER", Message: "no adapter registered for channel"}
	ErrNotConnected        = &AdapterError{Code: "NOT_CONNECTED", Message: "adapter is not connected"}
	ErrInvalidPayload      = &AdapterError{Code: "INVALID_PAYLOAD", Message: "could not parse transport payload"}
)

// AdapterError represents an error in adapter operations.
type AdapterError struct {
	Code    string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient.
func (e *AdapterError) IsRetryable() bool {
	switch e.Code {
	case "NO_ADAPTER", "INVALID_PAYLOAD":
		return false
	default:
		return true
	}
}

// Sink receives every normalized inbound event. The Manager fans all adapters
// into a single sink owned by the pipeline coordinator.
type Sink func(msg *channel.NormalizedMessage)

// Manager owns the adapter set, keyed by channel id, and drives lifecycle.
// Concurrent-safe for Register and Get operations.
type Manager struct {
	mu       sync.RWMutex
	registry map[channel.ID]Adapter
	sink     Sink
}

// NewManager creates an empty adapter manager.
func NewManager() *Manager {
	return &Manager{registry: make(map[channel.ID]Adapter)}
}

// SetSink installs the inbound event consumer. Must be called before
// ConnectAll; events emitted with no sink installed are dropped with a log.
func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Emit forwards a normalized event to the installed sink. Adapters call this
// from their receive loops.
func (m *Manager) Emit(msg *channel.NormalizedMessage) {
	m.mu.RLock()
	sink := m.sink
	m.mu.RUnlock()
	if sink == nil {
		slog.Warn("channel manager: event dropped, no sink installed",
			"channel", msg.ChannelID, "message_id", msg.ID)
		return
	}
	sink(msg)
}

// Register adds an adapter for its channel. Re-registering replaces the
// previous adapter for that channel.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	m.registry[a.ID()] = a
	m.mu.Unlock()
}

// Get returns the adapter for a channel, or nil if none is registered.
func (m *Manager) Get(id channel.ID) Adapter {
	m.mu.RLock()
	a := m.registry[id]
	m.mu.RUnlock()
	return a
}

// Adapters returns a snapshot of all registered adapters.
func (m *Manager) Adapters() []Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adapter, 0, len(m.registry))
	for _, a := range m.registry {
		out = append(out, a)
	}
	return out
}

// ConnectAll connects every registered adapter. A failed connect is logged
// and skipped; one dead transport must not prevent the others from starting.
func (m *Manager) ConnectAll(ctx context.Context) {
	for _, a := range m.Adapters() {
		if err := a.Connect(ctx); err != nil {
			slog.Error("channel manager: adapter connect failed",
				"channel", a.ID(), "error", err)
			continue
		}
		slog.Info("channel manager: adapter connected", "channel", a.ID())
	}
}

// Send routes an outbound message to the adapter for the given channel.
func (m *Manager) Send(ctx context.Context, id channel.ID, to string, msg *channel.OutgoingMessage) channel.SendResult {
	a := m.Get(id)
	if a == nil {
		return channel.SendResult{OK: false, Error: ErrNoAdapterForChannel.Error()}
	}
	return a.SendMessage(ctx, to, msg)
}

// Typing routes a typing indicator to the adapter for the given channel.
func (m *Manager) Typing(ctx context.Context, id channel.ID, to string, duration time.Duration) {
	if a := m.Get(id); a != nil {
		a.SendTypingIndicator(ctx, to, duration)
	}
}

var _ io.Closer = (*Manager)(nil)

// Close disconnects all registered adapters.
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	for _, a := range m.Adapters() {
		if err := a.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
