// Package store provides durable access to contact, persona, style, and
// relationship records (the MEM surface). Pipeline-side ephemeral state lives
// in the kv package instead.
package store

import (
	"context"
	"time"

	"github.com/ghostwriter-im/ghostwriter/store/cache"
)

// Driver is a database backend. Implementations: sqlite, postgres.
type Driver interface {
	Migrate(ctx context.Context) error
	ContactStore() ContactStore
	PairingStore() PairingStore
	PersonaStore() PersonaStore
	StyleProfileStore() StyleProfileStore
	RelationshipStore() RelationshipStore
	GraphStore() GraphStore
	Close() error
}

// Store provides database access to all raw objects, with read-through
// caches for the read-mostly records the pipeline touches on every message.
type Store struct {
	driver Driver

	personaCache *cache.Cache
	contactCache *cache.Cache

	Contacts      ContactStore
	Pairing       PairingStore
	Personas      PersonaStore
	Styles        StyleProfileStore
	Relationships RelationshipStore
	Graph         GraphStore
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}
	return &Store{
		driver:        driver,
		personaCache:  cache.New(cacheConfig),
		contactCache:  cache.New(cacheConfig),
		Contacts:      driver.ContactStore(),
		Pairing:       driver.PairingStore(),
		Personas:      driver.PersonaStore(),
		Styles:        driver.StyleProfileStore(),
		Relationships: driver.RelationshipStore(),
		Graph:         driver.GraphStore(),
	}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// GetApprovedCached reads an approved contact through the process-local
// cache. Invalidation on write is explicit via InvalidateContact.
func (s *Store) GetApprovedCached(ctx context.Context, contactKey string) (*ApprovedContact, error) {
	if v, ok := s.contactCache.Get(contactKey); ok {
		if c, ok := v.(*ApprovedContact); ok {
			return c, nil
		}
	}
	c, err := s.Contacts.GetApproved(ctx, contactKey)
	if err != nil {
		return nil, err
	}
	if c != nil {
		s.contactCache.Set(contactKey, c)
	}
	return c, nil
}

// InvalidateContact drops the cached approved record after a write.
func (s *Store) InvalidateContact(contactKey string) {
	s.contactCache.Delete(contactKey)
}

// GetPersonaCached reads a persona through the process-local cache.
func (s *Store) GetPersonaCached(ctx context.Context, id string) (*Persona, error) {
	if v, ok := s.personaCache.Get(id); ok {
		if p, ok := v.(*Persona); ok {
			return p, nil
		}
	}
	p, err := s.Personas.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.personaCache.Set(id, p)
	}
	return p, nil
}

// InvalidatePersona drops a cached persona after a write.
func (s *Store) InvalidatePersona(id string) {
	s.personaCache.Delete(id)
}

// Close releases caches and the driver.
func (s *Store) Close() error {
	s.personaCache.Close()
	s.contactCache.Close()
	return s.driver.Close()
}
