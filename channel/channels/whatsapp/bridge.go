package whatsapp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BridgeClient speaks to the Node.js Baileys bridge service.
type BridgeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// streamClient has no timeout: the SSE connection is long-lived.
	streamClient *http.Client
}

// NewBridgeClient creates a client for the Baileys bridge.
func NewBridgeClient(bridgeURL, apiKey string) *BridgeClient {
	return &BridgeClient{
		baseURL:      strings.TrimRight(bridgeURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		streamClient: &http.Client{},
	}
}

// BridgeEvent is one event on the bridge's SSE stream.
type BridgeEvent struct {
	Type    string          `json:"type"` // "message", "presence", "connection"
	Message *BridgeMessage  `json:"message,omitempty"`
	Raw     json.RawMessage `json:"data,omitempty"`
}

// BridgeMessage mirrors the Baileys message envelope.
type BridgeMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Message struct {
		Conversation string `json:"conversation"`
		ExtendedText struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
	MessageType string `json:"messageType"` // "conversation", "imageMessage", ...
	Timestamp   int64  `json:"messageTimestamp"`
}

// SendRequest is the bridge /send payload.
type SendRequest struct {
	JID     string `json:"jid"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// BridgeContact is one entry of the bridge /contacts response.
type BridgeContact struct {
	JID  string `json:"jid"`
	Name string `json:"name"`
}

func (b *BridgeClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("x-bridge-api-key", b.apiKey)
	}
	return req, nil
}

// HealthCheck verifies the bridge is running and the WhatsApp session is
// active.
func (b *BridgeClient) HealthCheck(ctx context.Context) error {
	req, err := b.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	var result struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// Bridge is up even if the body is unreadable.
		return nil
	}
	if result.Status == "disconnected" || (result.Status == "" && !result.Connected) {
		return fmt.Errorf("whatsapp session not active on bridge")
	}
	return nil
}

// SendMessage posts a message through the bridge and returns the WhatsApp
// message id assigned by the transport.
func (b *BridgeClient) SendMessage(ctx context.Context, sendReq *SendRequest) (string, error) {
	data, err := json.Marshal(sendReq)
	if err != nil {
		return "", err
	}
	req, err := b.newRequest(ctx, http.MethodPost, "/send", data)
	if err != nil {
		return "", err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send failed: status %d", resp.StatusCode)
	}
	var result struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil
	}
	return result.MessageID, nil
}

// SendPresence sets a presence state ("composing", "paused") for a JID.
func (b *BridgeClient) SendPresence(ctx context.Context, jid, state string, duration time.Duration) error {
	data, err := json.Marshal(map[string]any{
		"jid":        jid,
		"state":      state,
		"durationMs": duration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	req, err := b.newRequest(ctx, http.MethodPost, "/presence", data)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presence failed: status %d", resp.StatusCode)
	}
	return nil
}

// Contacts fetches the bridge's synced address book.
func (b *BridgeClient) Contacts(ctx context.Context) ([]BridgeContact, error) {
	req, err := b.newRequest(ctx, http.MethodGet, "/contacts", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contacts failed: status %d", resp.StatusCode)
	}
	var out []BridgeContact
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamEvents attaches to the bridge SSE stream and invokes handler for each
// event. Blocks until the stream drops or ctx is cancelled.
func (b *BridgeClient) StreamEvents(ctx context.Context, handler func(*BridgeEvent)) error {
	req, err := b.newRequest(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := b.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream failed: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev BridgeEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		handler(&ev)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
