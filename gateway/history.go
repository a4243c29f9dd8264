package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ghostwriter-im/ghostwriter/kv"
)

// HistoryEntry is one turn of a contact's conversation log as stored in
// the bounded KV history list.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	FromMe    bool      `json:"fromMe"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendHistory records one turn, de-duplicated by message id and
// bounded by the history config. Failures are logged, not surfaced;
// a missing history entry degrades later context, nothing else.
func AppendHistory(ctx context.Context, store kv.Store, cfg HistoryConfig, contactKey string, entry HistoryEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to marshal history entry", "error", err)
		return
	}
	if err := store.ListAppend(ctx, kv.HistoryKey(contactKey), entry.ID, string(payload), cfg.MaxMessages, cfg.TTL); err != nil {
		slog.Warn("failed to append history", "contact", contactKey, "error", err)
	}
}

// LoadHistory returns up to limit most recent turns, oldest first.
func LoadHistory(ctx context.Context, store kv.Store, contactKey string, limit int) ([]HistoryEntry, error) {
	raw, err := store.ListRange(ctx, kv.HistoryKey(contactKey), limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, v := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
