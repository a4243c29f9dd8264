// Package kv defines the key/value + stream store backing the pipeline's
// counters, pause keys, history, caches, and queues. Two drivers exist:
// memkv (in-process, tests and single-node default) and sqlitekv (durable,
// pause state survives restarts).
package kv

import (
	"context"
	"time"
)

// Key schema. Everything the pipeline stores in KV lives under one of these
// prefixes; see the driver tests for the exact semantics of each.
const (
	KeyPauseAll        = "PAUSE:ALL"
	PrefixPause        = "PAUSE:"
	PrefixCounter      = "COUNTER:"
	PrefixHistory      = "HISTORY:"
	PrefixHTSLast      = "HTS:lastMessage:"
	PrefixStatsTokens  = "STATS:tokens:"
	PrefixCachePersona = "CACHE:persona:"
	PrefixCacheStyle   = "CACHE:style:"
	KeyDeferred        = "DEFERRED:messages"

	StreamMessages   = "QUEUE:messages"
	StreamResponses  = "QUEUE:responses"
	StreamExtraction = "QUEUE:messages_for_extraction"
	StreamSignals    = "QUEUE:relationship_signals"
)

// PauseKey returns the pause key for a contact.
func PauseKey(contactKey string) string { return PrefixPause + contactKey }

// CounterKey returns the sliding-window counter key for a contact.
func CounterKey(contactKey string) string { return PrefixCounter + contactKey + ":msgs" }

// HistoryKey returns the conversation history key for a contact.
func HistoryKey(contactKey string) string { return PrefixHistory + contactKey }

// HTSLastKey returns the last-dispatch timestamp key for a contact.
func HTSLastKey(contactKey string) string { return PrefixHTSLast + contactKey }

// StatsTokensKey returns the daily token counter key for a date.
func StatsTokensKey(day time.Time) string {
	return PrefixStatsTokens + day.UTC().Format("2006-01-02")
}

// ScoredMember is one entry of a sorted sequence.
type ScoredMember struct {
	Member string
	Score  int64
}

// StreamEntry is one entry of an append-only stream.
type StreamEntry struct {
	ID    string
	Value string
}

// Store is the KV + stream contract. All mutating operations are atomic
// within a single call; callers never compose multi-step transactions.
type Store interface {
	// Get returns the value for key, reporting presence. Expired keys read
	// as absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key=value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// IncrWindow atomically increments an integer counter and, exactly on
	// the 0 to 1 transition, arms the window TTL. Later increments within
	// the window never reset it.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// CounterGet returns the current value of a window counter without
	// incrementing it. Absent or expired counters read as zero.
	CounterGet(ctx context.Context, key string) (int64, error)

	// ZAdd inserts a member into a sorted sequence, replacing its score if
	// present.
	ZAdd(ctx context.Context, key string, score int64, member string) error

	// ZPopUntil atomically removes and returns up to limit members with
	// score <= max, lowest score first.
	ZPopUntil(ctx context.Context, key string, max int64, limit int) ([]ScoredMember, error)

	// ZCard returns the number of members in a sorted sequence.
	ZCard(ctx context.Context, key string) (int64, error)

	// ListAppend appends a value to a bounded time-ordered list, de-duplicated
	// by entry id: appending an id already present is a no-op. The list is
	// trimmed to its newest maxLen entries and the key TTL is refreshed.
	ListAppend(ctx context.Context, key, id, value string, maxLen int, ttl time.Duration) error

	// ListRange returns the newest lastN entries, oldest first.
	ListRange(ctx context.Context, key string, lastN int) ([]string, error)

	// ListLen returns the number of entries in a list.
	ListLen(ctx context.Context, key string) (int64, error)

	// StreamAppend appends a value to a stream and returns the generated id.
	StreamAppend(ctx context.Context, stream, value string) (string, error)

	// StreamRead returns up to limit entries with id greater than afterID,
	// oldest first. An empty afterID reads from the beginning.
	StreamRead(ctx context.Context, stream, afterID string, limit int) ([]StreamEntry, error)

	// StreamTrim drops entries with id <= upToID.
	StreamTrim(ctx context.Context, stream, upToID string) error

	// MapIncr atomically increments a named field of a counter map, creating
	// the map with the given ttl when absent.
	MapIncr(ctx context.Context, key, field string, delta int64, ttl time.Duration) error

	// MapGet returns a snapshot of a counter map.
	MapGet(ctx context.Context, key string) (map[string]int64, error)

	Close() error
}
