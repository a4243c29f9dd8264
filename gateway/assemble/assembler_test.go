package assemble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
	"github.com/ghostwriter-im/ghostwriter/store"
	"github.com/ghostwriter-im/ghostwriter/store/storetest"
)

type fixture struct {
	assembler *Assembler
	store     *store.Store
	kv        *memkv.Store
}

func newFixture() *fixture {
	st := store.New(storetest.New())
	kvStore := memkv.NewWithClock(time.Now)
	return &fixture{
		assembler: New(st, kvStore, 30*time.Minute),
		store:     st,
		kv:        kvStore,
	}
}

func contact(key string) *store.ApprovedContact {
	return &store.ApprovedContact{ContactKey: key, Tier: store.TierStandard}
}

func usableStyle(key string) *store.StyleProfile {
	return &store.StyleProfile{
		ContactKey:       key,
		AvgMessageLength: 42,
		SampleCount:      store.MinStyleSamples,
		Confidence:       store.ConfidenceMedium,
		LastUpdated:      time.Now(),
	}
}

func TestAssembleEmptyStoreFallsBack(t *testing.T) {
	f := newFixture()
	bundle := f.assembler.Assemble(context.Background(), contact("telegram:1"), "")

	require.NotNil(t, bundle)
	assert.Equal(t, "telegram:1", bundle.Contact.ContactKey)
	require.NotNil(t, bundle.Persona, "fallback persona must always be present")
	assert.Equal(t, "fallback", bundle.Persona.ID)
	assert.Nil(t, bundle.Style)
	assert.Empty(t, bundle.History)
	assert.True(t, bundle.Graph.Empty())
}

func TestAssembleFullBundle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.store.Graph.UpsertEntity(ctx, &store.GraphEntity{
		ContactKey: "telegram:1", Kind: store.EntityTopic, Name: "marathon training", UpdatedAt: time.Now(),
	}))
	require.NoError(t, f.store.Personas.Upsert(ctx, &store.Persona{
		ID: "casual", Name: "Casual", StyleGuide: "keep it light", IsDefault: true,
	}))
	require.NoError(t, f.store.Styles.Upsert(ctx, usableStyle("telegram:1")))
	gateway.AppendHistory(ctx, f.kv, gateway.HistoryConfig{MaxMessages: 100, TTL: time.Hour}, "telegram:1",
		gateway.HistoryEntry{ID: "m1", Content: "how was the run?"})

	bundle := f.assembler.Assemble(ctx, contact("telegram:1"), "")

	require.NotNil(t, bundle.Graph)
	require.Len(t, bundle.Graph.Topics, 1)
	assert.Equal(t, "marathon training", bundle.Graph.Topics[0].Name)
	assert.Equal(t, "casual", bundle.Persona.ID)
	require.NotNil(t, bundle.Style)
	assert.Equal(t, float64(42), bundle.Style.AvgMessageLength)
	require.Len(t, bundle.History, 1)
}

func TestPersonaPrecedence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.store.Personas.Upsert(ctx, &store.Persona{
		ID: "default", StyleGuide: "neutral", IsDefault: true,
	}))
	require.NoError(t, f.store.Personas.Upsert(ctx, &store.Persona{
		ID: "work", StyleGuide: "formal", ApplicableTo: []store.RelationshipType{store.RelColleague},
	}))
	require.NoError(t, f.store.Personas.Upsert(ctx, &store.Persona{
		ID: "pinned", StyleGuide: "inside jokes",
	}))

	// Default wins when nothing else applies.
	p := f.assembler.Persona(ctx, contact("telegram:1"), "")
	assert.Equal(t, "default", p.ID)

	// Stored relationship type selects the applicable persona.
	require.NoError(t, f.store.Relationships.Upsert(ctx, &store.RelationshipScores{
		ContactKey:  "telegram:1",
		Scores:      map[store.RelationshipType]float64{store.RelColleague: 2},
		CurrentType: store.RelColleague,
	}))
	p = f.assembler.Persona(ctx, contact("telegram:1"), "")
	assert.Equal(t, "work", p.ID)

	// A request-scoped override beats the stored type.
	p = f.assembler.Persona(ctx, contact("telegram:1"), store.RelFriend)
	assert.Equal(t, "default", p.ID, "no persona applies to friend, fall through to default")

	// A pinned persona beats everything.
	c := contact("telegram:1")
	c.PersonaID = "pinned"
	p = f.assembler.Persona(ctx, c, store.RelColleague)
	assert.Equal(t, "pinned", p.ID)
}

func TestLoadStyleCachesAndGates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Too few samples: present in storage but not usable.
	thin := usableStyle("telegram:1")
	thin.SampleCount = 3
	require.NoError(t, f.store.Styles.Upsert(ctx, thin))
	assert.Nil(t, f.assembler.loadStyle(ctx, "telegram:1"))

	// The thin profile was still cached; the gate applies on cache reads too.
	_, ok, err := f.kv.Get(ctx, kv.PrefixCacheStyle+"telegram:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, f.assembler.loadStyle(ctx, "telegram:1"))

	// A usable profile is served from store, then from cache even after
	// the store copy disappears.
	require.NoError(t, f.kv.Delete(ctx, kv.PrefixCacheStyle+"telegram:2"))
	require.NoError(t, f.store.Styles.Upsert(ctx, usableStyle("telegram:2")))
	got := f.assembler.loadStyle(ctx, "telegram:2")
	require.NotNil(t, got)

	cached := f.assembler.loadStyle(ctx, "telegram:2")
	require.NotNil(t, cached)
	assert.Equal(t, got.AvgMessageLength, cached.AvgMessageLength)
}
