package memkv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a controllable time source for expiry tests.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *clock) {
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(c.now), c
}

func TestSetGetExpiry(t *testing.T) {
	s, c := newTestStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	c.advance(2 * time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as absent")

	require.NoError(t, s.Set(ctx, "forever", "v", 0))
	c.advance(240 * time.Hour)
	_, ok, _ = s.Get(ctx, "forever")
	assert.True(t, ok, "zero ttl means no expiry")
}

func TestKeysPrefix(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "PAUSE:a", "1", 0))
	require.NoError(t, s.Set(ctx, "PAUSE:b", "1", 0))
	require.NoError(t, s.Set(ctx, "OTHER:c", "1", 0))

	keys, err := s.Keys(ctx, "PAUSE:")
	require.NoError(t, err)
	assert.Equal(t, []string{"PAUSE:a", "PAUSE:b"}, keys)
}

func TestIncrWindow(t *testing.T) {
	s, c := newTestStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrWindow(ctx, "cnt", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// The window is armed on the first increment only; later increments
	// must not extend it.
	c.advance(45 * time.Second)
	n, err := s.IncrWindow(ctx, "cnt", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	c.advance(20 * time.Second)
	n, err = s.IncrWindow(ctx, "cnt", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter must restart after the window expires")
}

func TestCounterGet(t *testing.T) {
	s, c := newTestStore()
	ctx := context.Background()

	n, err := s.CounterGet(ctx, "cnt")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.IncrWindow(ctx, "cnt", time.Minute)
	require.NoError(t, err)
	_, err = s.IncrWindow(ctx, "cnt", time.Minute)
	require.NoError(t, err)

	n, err = s.CounterGet(ctx, "cnt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "reading must not increment")

	c.advance(2 * time.Minute)
	n, _ = s.CounterGet(ctx, "cnt")
	assert.Zero(t, n)
}

func TestZSet(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "z", 30, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 10, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 20, "b"))

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	due, err := s.ZPopUntil(ctx, "z", 20, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].Member)
	assert.Equal(t, "b", due[1].Member)

	// Popped members are gone, the rest stays.
	card, _ = s.ZCard(ctx, "z")
	assert.Equal(t, int64(1), card)

	due, err = s.ZPopUntil(ctx, "z", 100, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c", due[0].Member)
}

func TestZPopUntilLimit(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	for i, m := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.ZAdd(ctx, "z", int64(i), m))
	}
	due, err := s.ZPopUntil(ctx, "z", 100, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].Member)
	assert.Equal(t, "b", due[1].Member)

	card, _ := s.ZCard(ctx, "z")
	assert.Equal(t, int64(2), card)
}

func TestListAppendDedupAndBound(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.ListAppend(ctx, "l", "id1", "one", 3, 0))
	require.NoError(t, s.ListAppend(ctx, "l", "id2", "two", 3, 0))
	require.NoError(t, s.ListAppend(ctx, "l", "id1", "duplicate", 3, 0))

	vals, err := s.ListRange(ctx, "l", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, vals, "same id must not append twice")

	require.NoError(t, s.ListAppend(ctx, "l", "id3", "three", 3, 0))
	require.NoError(t, s.ListAppend(ctx, "l", "id4", "four", 3, 0))

	vals, _ = s.ListRange(ctx, "l", 0)
	assert.Equal(t, []string{"two", "three", "four"}, vals, "oldest entry evicted at the bound")

	// The evicted id is reusable again.
	require.NoError(t, s.ListAppend(ctx, "l", "id1", "one again", 3, 0))
	vals, _ = s.ListRange(ctx, "l", 0)
	assert.Equal(t, []string{"three", "four", "one again"}, vals)

	n, err := s.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestListRangeLastN(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.ListAppend(ctx, "l", id, id, 0, 0))
	}
	vals, err := s.ListRange(ctx, "l", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, vals, "lastN keeps the newest entries, oldest first")
}

func TestStream(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	id1, err := s.StreamAppend(ctx, "st", "one")
	require.NoError(t, err)
	id2, err := s.StreamAppend(ctx, "st", "two")
	require.NoError(t, err)
	assert.Less(t, id1, id2, "ids must be lexicographically ordered")

	entries, err := s.StreamRead(ctx, "st", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Value)
	assert.Equal(t, "two", entries[1].Value)

	entries, err = s.StreamRead(ctx, "st", id1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "two", entries[0].Value)

	require.NoError(t, s.StreamTrim(ctx, "st", id1))
	entries, _ = s.StreamRead(ctx, "st", "", 10)
	require.Len(t, entries, 1)
	assert.Equal(t, id2, entries[0].ID)
}

func TestMapIncr(t *testing.T) {
	s, c := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.MapIncr(ctx, "m", "reads", 5, time.Hour))
	require.NoError(t, s.MapIncr(ctx, "m", "reads", 3, time.Hour))
	require.NoError(t, s.MapIncr(ctx, "m", "writes", 1, time.Hour))

	snap, err := s.MapGet(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"reads": 8, "writes": 1}, snap)

	c.advance(2 * time.Hour)
	snap, err = s.MapGet(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestDeleteSpansNamespaces(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	_, err := s.IncrWindow(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
	n, _ := s.IncrWindow(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)
}
