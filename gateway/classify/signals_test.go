package classify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/kv/memkv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

func TestExtractSignalIncoming(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		relType    store.RelationshipType
		confidence float64
		none       bool
	}{
		{name: "romantic", content: "miss you already babe", relType: store.RelRomanticPartner, confidence: 0.95},
		{name: "family", content: "Mom wants to know when you visit", relType: store.RelFamily, confidence: 0.9},
		{name: "client", content: "please see the attached invoice", relType: store.RelClient, confidence: 0.7},
		{name: "colleague", content: "standup moved to 10am", relType: store.RelColleague, confidence: 0.65},
		{name: "manager", content: "let's schedule your performance review", relType: store.RelManager, confidence: 0.7},
		{name: "friend address", content: "dude that was wild", relType: store.RelFriend, confidence: 0.55},
		{name: "friend topic", content: "beer this weekend?", relType: store.RelFriend, confidence: 0.5},
		{name: "no signal", content: "the package arrived this morning", none: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := ExtractSignal("telegram:1", tt.content, false)
			if tt.none {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, tt.relType, sig.Type)
			assert.Equal(t, tt.confidence, sig.Confidence)
			assert.Equal(t, "telegram:1", sig.ContactKey)
			assert.False(t, sig.Outgoing)
		})
	}
}

func TestExtractSignalEvidenceIsMatchedSnippet(t *testing.T) {
	sig := ExtractSignal("k", "hey, miss you already", false)
	require.NotNil(t, sig)
	assert.Equal(t, "miss you", sig.Evidence)
	assert.LessOrEqual(t, len(sig.Evidence), 50)
}

func TestExtractSignalPicksHighestConfidence(t *testing.T) {
	// Matches both the friend address pattern and the romantic pattern;
	// the stronger one wins.
	sig := ExtractSignal("k", "love you dude", false)
	require.NotNil(t, sig)
	assert.Equal(t, store.RelRomanticPartner, sig.Type)
	assert.Equal(t, 0.95, sig.Confidence)
	assert.GreaterOrEqual(t, sig.Confidence, OverrideThreshold)
}

func TestExtractSignalOutgoing(t *testing.T) {
	sig := ExtractSignal("k", "Kind regards, sent the revised draft", true)
	require.NotNil(t, sig)
	assert.Equal(t, store.RelClient, sig.Type)
	assert.True(t, sig.Outgoing)

	// Incoming patterns must not leak into the outgoing set.
	assert.Nil(t, ExtractSignal("k", "standup moved to 10am", true))
}

func TestEnqueueSignal(t *testing.T) {
	ctx := context.Background()
	kvStore := memkv.NewWithClock(time.Now)

	EnqueueSignal(ctx, kvStore, nil) // no-op

	sig := ExtractSignal("telegram:1", "miss you", false)
	require.NotNil(t, sig)
	EnqueueSignal(ctx, kvStore, sig)

	entries, err := kvStore.StreamRead(ctx, kv.StreamSignals, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var got RelationshipSignal
	require.NoError(t, json.Unmarshal([]byte(entries[0].Value), &got))
	assert.Equal(t, store.RelRomanticPartner, got.Type)
	assert.Equal(t, "telegram:1", got.ContactKey)
}
