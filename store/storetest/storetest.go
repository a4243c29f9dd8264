// Package storetest provides an in-memory store.Driver for package tests.
// It mirrors the sqlite driver's observable behavior: absent records come
// back as (nil, nil), upserts replace, reads return copies.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ghostwriter-im/ghostwriter/store"
)

// Driver is a map-backed store.Driver.
type Driver struct {
	mu sync.Mutex

	approved map[string]store.ApprovedContact
	denied   map[string]store.DeniedContact
	pairing  map[string]store.PairingRequest
	personas map[string]store.Persona
	styles   map[string]store.StyleProfile
	rels     map[string]store.RelationshipScores
	entities map[string][]store.GraphEntity
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		approved: make(map[string]store.ApprovedContact),
		denied:   make(map[string]store.DeniedContact),
		pairing:  make(map[string]store.PairingRequest),
		personas: make(map[string]store.Persona),
		styles:   make(map[string]store.StyleProfile),
		rels:     make(map[string]store.RelationshipScores),
		entities: make(map[string][]store.GraphEntity),
	}
}

func (d *Driver) Migrate(_ context.Context) error { return nil }
func (d *Driver) Close() error                    { return nil }

func (d *Driver) ContactStore() store.ContactStore           { return (*contactStore)(d) }
func (d *Driver) PairingStore() store.PairingStore           { return (*pairingStore)(d) }
func (d *Driver) PersonaStore() store.PersonaStore           { return (*personaStore)(d) }
func (d *Driver) StyleProfileStore() store.StyleProfileStore { return (*styleStore)(d) }
func (d *Driver) RelationshipStore() store.RelationshipStore { return (*relStore)(d) }
func (d *Driver) GraphStore() store.GraphStore               { return (*graphStore)(d) }

type contactStore Driver

func (s *contactStore) UpsertApproved(_ context.Context, c *store.ApprovedContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[c.ContactKey] = *c
	return nil
}

func (s *contactStore) GetApproved(_ context.Context, contactKey string) (*store.ApprovedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.approved[contactKey]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (s *contactStore) ListApproved(_ context.Context) ([]*store.ApprovedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.ApprovedContact, 0, len(s.approved))
	for _, c := range s.approved {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactKey < out[j].ContactKey })
	return out, nil
}

func (s *contactStore) DeleteApproved(_ context.Context, contactKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.approved, contactKey)
	return nil
}

func (s *contactStore) UpsertDenied(_ context.Context, d *store.DeniedContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[d.ContactKey] = *d
	return nil
}

func (s *contactStore) GetDenied(_ context.Context, contactKey string) (*store.DeniedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.denied[contactKey]
	if !ok {
		return nil, nil
	}
	out := d
	return &out, nil
}

func (s *contactStore) ListDenied(_ context.Context) ([]*store.DeniedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.DeniedContact, 0, len(s.denied))
	for _, d := range s.denied {
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactKey < out[j].ContactKey })
	return out, nil
}

func (s *contactStore) DeleteDenied(_ context.Context, contactKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.denied, contactKey)
	return nil
}

type pairingStore Driver

func (s *pairingStore) Upsert(_ context.Context, p *store.PairingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairing[p.ContactKey] = *p
	return nil
}

func (s *pairingStore) Get(_ context.Context, contactKey string) (*store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairing[contactKey]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

func (s *pairingStore) List(_ context.Context, status store.PairingStatus) ([]*store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.PairingRequest
	for _, p := range s.pairing {
		if p.Status != status {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactKey < out[j].ContactKey })
	return out, nil
}

func (s *pairingStore) ExpirePending(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, p := range s.pairing {
		if p.Status == store.PairingPending && p.RequestedAt.Before(cutoff) {
			p.Status = store.PairingExpired
			s.pairing[key] = p
			n++
		}
	}
	return n, nil
}

func (s *pairingStore) Delete(_ context.Context, contactKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairing, contactKey)
	return nil
}

type personaStore Driver

func (s *personaStore) Upsert(_ context.Context, p *store.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = *p
	return nil
}

func (s *personaStore) Get(_ context.Context, id string) (*store.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

func (s *personaStore) List(_ context.Context) ([]*store.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *personaStore) GetDefault(_ context.Context) (*store.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if p := s.personas[id]; p.IsDefault {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (s *personaStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.personas, id)
	return nil
}

type styleStore Driver

func (s *styleStore) Upsert(_ context.Context, p *store.StyleProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.styles[p.ContactKey] = *p
	return nil
}

func (s *styleStore) Get(_ context.Context, contactKey string) (*store.StyleProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.styles[contactKey]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

type relStore Driver

func (s *relStore) Upsert(_ context.Context, r *store.RelationshipScores) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Scores = make(map[store.RelationshipType]float64, len(r.Scores))
	for k, v := range r.Scores {
		cp.Scores[k] = v
	}
	s.rels[r.ContactKey] = cp
	return nil
}

func (s *relStore) Get(_ context.Context, contactKey string) (*store.RelationshipScores, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rels[contactKey]
	if !ok {
		return nil, nil
	}
	out := r
	out.Scores = make(map[store.RelationshipType]float64, len(r.Scores))
	for k, v := range r.Scores {
		out.Scores[k] = v
	}
	return &out, nil
}

type graphStore Driver

func (s *graphStore) UpsertEntity(_ context.Context, e *store.GraphEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entities[e.ContactKey]
	for i, old := range list {
		if old.Kind == e.Kind && old.Name == e.Name {
			list[i] = *e
			return nil
		}
	}
	s.entities[e.ContactKey] = append(list, *e)
	return nil
}

func (s *graphStore) GetContext(_ context.Context, contactKey string) (*store.GraphContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gc := &store.GraphContext{ContactKey: contactKey}
	for _, e := range s.entities[contactKey] {
		switch e.Kind {
		case store.EntityPerson:
			gc.People = append(gc.People, e)
		case store.EntityTopic:
			gc.Topics = append(gc.Topics, e)
		case store.EntityEvent:
			gc.Events = append(gc.Events, e)
		}
	}
	return gc, nil
}

func (s *graphStore) DeleteEntity(_ context.Context, contactKey string, kind store.GraphEntityKind, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entities[contactKey]
	for i, e := range list {
		if e.Kind == kind && e.Name == name {
			s.entities[contactKey] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}
