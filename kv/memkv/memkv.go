// Package memkv is the in-process kv.Store driver. It backs tests and
// single-node deployments that can afford to lose counters on restart;
// deployments that need pause state to survive use sqlitekv.
package memkv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ghostwriter-im/ghostwriter/kv"
)

type stringEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

type listEntry struct {
	id    string
	value string
}

type listValue struct {
	entries   []listEntry
	ids       map[string]struct{}
	expiresAt time.Time
}

type streamValue struct {
	entries []kvStreamEntry
	seq     int64
}

type kvStreamEntry struct {
	id    string
	value string
}

type mapValue struct {
	fields    map[string]int64
	expiresAt time.Time
}

var _ kv.Store = (*Store)(nil)

// Store is an in-memory kv.Store. All operations take a single lock; the
// critical sections are short and never suspend.
type Store struct {
	mu       sync.Mutex
	strings  map[string]stringEntry
	counters map[string]counterEntry
	zsets    map[string]map[string]int64
	lists    map[string]*listValue
	streams  map[string]*streamValue
	maps     map[string]*mapValue

	now   func() time.Time
	done  chan struct{}
	closeOnce sync.Once
}

// New creates an in-memory store with a background janitor sweeping expired
// keys once a minute.
func New() *Store {
	s := newStore(time.Now)
	go s.janitor()
	return s
}

// NewWithClock creates a store with an injected clock and no janitor.
// Expiry is still enforced lazily on read. Test use.
func NewWithClock(now func() time.Time) *Store {
	return newStore(now)
}

func newStore(now func() time.Time) *Store {
	return &Store{
		strings:  make(map[string]stringEntry),
		counters: make(map[string]counterEntry),
		zsets:    make(map[string]map[string]int64),
		lists:    make(map[string]*listValue),
		streams:  make(map[string]*streamValue),
		maps:     make(map[string]*mapValue),
		now:      now,
		done:     make(chan struct{}),
	}
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.strings {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.strings, k)
		}
	}
	for k, e := range s.counters {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.counters, k)
		}
	}
	for k, e := range s.lists {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.lists, k)
		}
	}
	for k, e := range s.maps {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.maps, k)
		}
	}
}

func (s *Store) expired(at time.Time) bool {
	return !at.IsZero() && s.now().After(at)
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	if !ok || s.expired(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set writes key=value with an optional ttl.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := stringEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.strings[key] = e
	return nil
}

// Delete removes a key from every namespace.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strings, key)
	delete(s.counters, key)
	delete(s.zsets, key)
	delete(s.lists, key)
	delete(s.maps, key)
	return nil
}

// Keys lists live string keys with the given prefix.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, e := range s.strings {
		if strings.HasPrefix(k, prefix) && !s.expired(e.expiresAt) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IncrWindow atomically increments a counter, arming the TTL only on the
// 0 to 1 transition.
func (s *Store) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.counters[key]
	if !ok || s.expired(e.expiresAt) {
		e = counterEntry{count: 0}
	}
	e.count++
	if e.count == 1 && window > 0 {
		e.expiresAt = s.now().Add(window)
	}
	s.counters[key] = e
	return e.count, nil
}

// CounterGet reads a window counter without incrementing it.
func (s *Store) CounterGet(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.counters[key]
	if !ok || s.expired(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

// ZAdd inserts a member into a sorted set.
func (s *Store) ZAdd(_ context.Context, key string, score int64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		set = make(map[string]int64)
		s.zsets[key] = set
	}
	set[member] = score
	return nil
}

// ZPopUntil removes and returns up to limit members with score <= max.
func (s *Store) ZPopUntil(_ context.Context, key string, max int64, limit int) ([]kv.ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}
	var due []kv.ScoredMember
	for member, score := range set {
		if score <= max {
			due = append(due, kv.ScoredMember{Member: member, Score: score})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Score != due[j].Score {
			return due[i].Score < due[j].Score
		}
		return due[i].Member < due[j].Member
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, m := range due {
		delete(set, m.Member)
	}
	return due, nil
}

// ZCard returns the size of a sorted set.
func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

// ListAppend appends to a bounded list, de-duplicated by id.
func (s *Store) ListAppend(_ context.Context, key, id, value string, maxLen int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok || s.expired(l.expiresAt) {
		l = &listValue{ids: make(map[string]struct{})}
		s.lists[key] = l
	}
	if _, dup := l.ids[id]; dup {
		return nil
	}
	l.entries = append(l.entries, listEntry{id: id, value: value})
	l.ids[id] = struct{}{}
	if maxLen > 0 && len(l.entries) > maxLen {
		evicted := l.entries[:len(l.entries)-maxLen]
		for _, e := range evicted {
			delete(l.ids, e.id)
		}
		l.entries = append([]listEntry(nil), l.entries[len(l.entries)-maxLen:]...)
	}
	if ttl > 0 {
		l.expiresAt = s.now().Add(ttl)
	}
	return nil
}

// ListRange returns the newest lastN entries, oldest first.
func (s *Store) ListRange(_ context.Context, key string, lastN int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok || s.expired(l.expiresAt) {
		return nil, nil
	}
	entries := l.entries
	if lastN > 0 && len(entries) > lastN {
		entries = entries[len(entries)-lastN:]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}

// ListLen returns the length of a list.
func (s *Store) ListLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok || s.expired(l.expiresAt) {
		return 0, nil
	}
	return int64(len(l.entries)), nil
}

// StreamAppend appends a value to a stream. Ids are zero-padded so that
// lexicographic order equals append order.
func (s *Store) StreamAppend(_ context.Context, stream, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[stream]
	if !ok {
		st = &streamValue{}
		s.streams[stream] = st
	}
	st.seq++
	id := fmt.Sprintf("%013d-%09d", s.now().UnixMilli(), st.seq)
	st.entries = append(st.entries, kvStreamEntry{id: id, value: value})
	return id, nil
}

// StreamRead returns up to limit entries after afterID, oldest first.
func (s *Store) StreamRead(_ context.Context, stream, afterID string, limit int) ([]kv.StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[stream]
	if !ok {
		return nil, nil
	}
	var out []kv.StreamEntry
	for _, e := range st.entries {
		if e.id <= afterID {
			continue
		}
		out = append(out, kv.StreamEntry{ID: e.id, Value: e.value})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// StreamTrim drops entries with id <= upToID.
func (s *Store) StreamTrim(_ context.Context, stream, upToID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[stream]
	if !ok {
		return nil
	}
	idx := 0
	for idx < len(st.entries) && st.entries[idx].id <= upToID {
		idx++
	}
	st.entries = append([]kvStreamEntry(nil), st.entries[idx:]...)
	return nil
}

// MapIncr increments a field of a counter map.
func (s *Store) MapIncr(_ context.Context, key, field string, delta int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[key]
	if !ok || s.expired(m.expiresAt) {
		m = &mapValue{fields: make(map[string]int64)}
		if ttl > 0 {
			m.expiresAt = s.now().Add(ttl)
		}
		s.maps[key] = m
	}
	m.fields[field] += delta
	return nil
}

// MapGet returns a snapshot of a counter map.
func (s *Store) MapGet(_ context.Context, key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[key]
	if !ok || s.expired(m.expiresAt) {
		return map[string]int64{}, nil
	}
	out := make(map[string]int64, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out, nil
}

// Close stops the janitor.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
