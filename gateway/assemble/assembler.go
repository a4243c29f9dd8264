// Package assemble gathers everything the response generator needs for
// one message: contact record, graph context, persona, style profile,
// and bounded conversation history.
package assemble

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghostwriter-im/ghostwriter/gateway"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

const (
	memTimeout   = 10 * time.Second
	historyLimit = 30
)

// Bundle is the assembled context for one response.
type Bundle struct {
	Contact *store.ApprovedContact
	Graph   *store.GraphContext
	Persona *store.Persona
	Style   *store.StyleProfile
	History []gateway.HistoryEntry
}

// Assembler runs the four context retrievals.
type Assembler struct {
	store    *store.Store
	kv       kv.Store
	cacheTTL time.Duration
}

// New creates an Assembler.
func New(st *store.Store, kvStore kv.Store, cacheTTL time.Duration) *Assembler {
	return &Assembler{store: st, kv: kvStore, cacheTTL: cacheTTL}
}

// Assemble gathers the bundle concurrently with fail-soft semantics:
// any sub-retrieval failure yields an empty or default result and a log
// line, never an error. relOverride, when non-empty, replaces the stored
// relationship type for persona selection in this request only.
func (a *Assembler) Assemble(ctx context.Context, contact *store.ApprovedContact, relOverride store.RelationshipType) *Bundle {
	ctx, cancel := context.WithTimeout(ctx, memTimeout)
	defer cancel()

	contactKey := contact.ContactKey
	bundle := &Bundle{Contact: contact}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		graph, err := a.store.Graph.GetContext(gctx, contactKey)
		if err != nil {
			slog.Warn("graph context unavailable", "contact", contactKey, "error", err)
			return nil
		}
		bundle.Graph = graph
		return nil
	})

	g.Go(func() error {
		bundle.Persona = a.selectPersona(gctx, contact, relOverride)
		return nil
	})

	g.Go(func() error {
		bundle.Style = a.loadStyle(gctx, contactKey)
		return nil
	})

	g.Go(func() error {
		history, err := gateway.LoadHistory(gctx, a.kv, contactKey, historyLimit)
		if err != nil {
			slog.Warn("history unavailable", "contact", contactKey, "error", err)
			return nil
		}
		bundle.History = history
		return nil
	})

	// Workers only log; Wait cannot fail.
	_ = g.Wait()

	if bundle.Persona == nil {
		bundle.Persona = store.FallbackPersona()
	}
	return bundle
}

// Persona resolves only the persona, for the phatic path which needs no
// history or graph context.
func (a *Assembler) Persona(ctx context.Context, contact *store.ApprovedContact, relOverride store.RelationshipType) *store.Persona {
	if p := a.selectPersona(ctx, contact, relOverride); p != nil {
		return p
	}
	return store.FallbackPersona()
}

// selectPersona resolves in precedence order: pinned persona id, persona
// applicable to the relationship type, default persona. Nil means the
// caller falls back to the hard-coded persona.
func (a *Assembler) selectPersona(ctx context.Context, contact *store.ApprovedContact, relOverride store.RelationshipType) *store.Persona {
	if contact.PersonaID != "" {
		p, err := a.store.GetPersonaCached(ctx, contact.PersonaID)
		if err != nil {
			slog.Warn("pinned persona unavailable", "persona", contact.PersonaID, "error", err)
		} else if p != nil {
			return p
		}
	}

	relType := relOverride
	if relType == "" {
		if scores, err := a.store.Relationships.Get(ctx, contact.ContactKey); err != nil {
			slog.Warn("relationship scores unavailable", "contact", contact.ContactKey, "error", err)
		} else if scores != nil {
			relType = scores.CurrentType
		}
	}

	if relType != "" {
		personas, err := a.store.Personas.List(ctx)
		if err != nil {
			slog.Warn("persona list unavailable", "error", err)
		} else {
			for _, p := range personas {
				if p.AppliesTo(relType) {
					return p
				}
			}
		}
	}

	p, err := a.store.Personas.GetDefault(ctx)
	if err != nil {
		slog.Warn("default persona unavailable", "error", err)
		return nil
	}
	return p
}

// loadStyle reads the style profile through the KV cache. Profiles with
// too few samples are treated as absent.
func (a *Assembler) loadStyle(ctx context.Context, contactKey string) *store.StyleProfile {
	cacheKey := kv.PrefixCacheStyle + contactKey
	if cached, ok, err := a.kv.Get(ctx, cacheKey); err == nil && ok {
		profile := &store.StyleProfile{}
		if err := json.Unmarshal([]byte(cached), profile); err == nil {
			if !profile.Usable() {
				return nil
			}
			return profile
		}
	}

	profile, err := a.store.Styles.Get(ctx, contactKey)
	if err != nil {
		slog.Warn("style profile unavailable", "contact", contactKey, "error", err)
		return nil
	}
	if profile == nil {
		return nil
	}
	if payload, err := json.Marshal(profile); err == nil {
		if err := a.kv.Set(ctx, cacheKey, string(payload), a.cacheTTL); err != nil {
			slog.Debug("style cache write failed", "contact", contactKey, "error", err)
		}
	}
	if !profile.Usable() {
		return nil
	}
	return profile
}
