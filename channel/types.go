// Package channel defines the transport-agnostic message model shared by all
// chat platform adapters. Supported platforms: WhatsApp (via Baileys bridge),
// Telegram; Discord and Slack are reserved identifiers.
package channel

import "fmt"

// ID identifies a chat transport. The set is frozen; adding a value is a code
// change, never configuration.
type ID string

const (
	WhatsApp ID = "whatsapp"
	Telegram ID = "telegram"
	Discord  ID = "discord"
	Slack    ID = "slack"
)

// IsValid checks if the channel id is a known transport.
func (id ID) IsValid() bool {
	switch id {
	case WhatsApp, Telegram, Discord, Slack:
		return true
	default:
		return false
	}
}

// MediaType classifies the payload of a message.
type MediaType int

const (
	MediaText MediaType = iota
	MediaImage
	MediaAudio
	MediaVideo
	MediaDocument
)

// String returns the wire representation of MediaType.
func (m MediaType) String() string {
	switch m {
	case MediaText:
		return "text"
	case MediaImage:
		return "image"
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaDocument:
		return "document"
	default:
		return "unknown"
	}
}

// ParseMediaType maps a wire string back to a MediaType. Unknown strings map
// to MediaText so a malformed record degrades to plain text handling.
func ParseMediaType(s string) MediaType {
	switch s {
	case "image", "photo":
		return MediaImage
	case "audio":
		return MediaAudio
	case "video":
		return MediaVideo
	case "document":
		return MediaDocument
	default:
		return MediaText
	}
}

// SchemaVersion is the NormalizedMessage schema emitted by current adapters.
// Version 1 records (no ChannelID) are still accepted on read.
const SchemaVersion = 2

// NormalizedMessage is the single event shape every adapter produces. One
// instance is owned by the pipeline coordinator from arrival to disposal.
type NormalizedMessage struct {
	ID                  string            `json:"id"`
	Version             int               `json:"version"`
	ChannelID           ID                `json:"channelId"`
	ContactID           string            `json:"contactId"`
	NormalizedContactID string            `json:"normalizedContactId,omitempty"`
	Content             string            `json:"content"`
	Timestamp           int64             `json:"timestamp"` // unix millis
	MediaType           MediaType         `json:"mediaType,omitempty"`
	MediaURL            string            `json:"mediaUrl,omitempty"`
	ReplyTo             string            `json:"replyTo,omitempty"`
	FromMe              bool              `json:"fromMe,omitempty"`
	GroupChat           bool              `json:"groupChat,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields every consumer relies on. Version 1 messages
// without a channel id default to WhatsApp to support rolling upgrades.
func (m *NormalizedMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if m.ID == "" {
		return fmt.Errorf("message id required")
	}
	if m.ContactID == "" {
		return fmt.Errorf("contact id required")
	}
	switch m.Version {
	case 1:
		if m.ChannelID == "" {
			m.ChannelID = WhatsApp
		}
	case SchemaVersion:
		if !m.ChannelID.IsValid() {
			return fmt.Errorf("unknown channel id %q", m.ChannelID)
		}
	default:
		return fmt.Errorf("unsupported message version %d", m.Version)
	}
	return nil
}

// ContactKey returns the composite identity of the sender. Contact identity
// is always the pair (channel, contact); a bare contact id is ambiguous
// across transports.
func (m *NormalizedMessage) ContactKey() string {
	return ContactKey(m.ChannelID, m.ContactID)
}

// ContactKey formats a composite contact identity.
func ContactKey(ch ID, contactID string) string {
	return string(ch) + ":" + contactID
}

// OutgoingMessage is a reply handed to an adapter for delivery.
type OutgoingMessage struct {
	To        string    `json:"to"`
	Text      string    `json:"text"`
	MediaType MediaType `json:"mediaType,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	ReplyTo   string    `json:"replyTo,omitempty"`
}

// SendResult is the typed outcome of a send. Adapters never raise transport
// failures to the pipeline; they report them here.
type SendResult struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Contact is the adapter-side view of an address book entry.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	IsGroup     bool   `json:"isGroup,omitempty"`
}

// Status is the adapter connection state observed by the pipeline.
// Reconnect policy is adapter-internal; only the state is surfaced.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)
