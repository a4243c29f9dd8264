package store

import (
	"context"
	"time"
)

// GraphEntityKind classifies a knowledge-graph entity related to a contact.
type GraphEntityKind string

const (
	EntityPerson GraphEntityKind = "person"
	EntityTopic  GraphEntityKind = "topic"
	EntityEvent  GraphEntityKind = "event"
)

// GraphEntity is one fact linked to a contact: a person they mention, a topic
// they discuss, an event they share with the operator.
type GraphEntity struct {
	ContactKey string          `json:"contactKey"`
	Kind       GraphEntityKind `json:"kind"`
	Name       string          `json:"name"`
	Detail     string          `json:"detail,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// GraphContext is the recall bundle the context assembler injects into the
// system prompt for substantive messages.
type GraphContext struct {
	ContactKey  string        `json:"contactKey"`
	DisplayName string        `json:"displayName,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	People      []GraphEntity `json:"people,omitempty"`
	Topics      []GraphEntity `json:"topics,omitempty"`
	Events      []GraphEntity `json:"events,omitempty"`
}

// Empty reports whether the recall found nothing worth injecting.
func (g *GraphContext) Empty() bool {
	return g == nil || (g.Notes == "" && len(g.People) == 0 && len(g.Topics) == 0 && len(g.Events) == 0)
}

// GraphStore persists contact-linked knowledge-graph entities.
type GraphStore interface {
	UpsertEntity(ctx context.Context, e *GraphEntity) error
	// GetContext gathers all entities for a contact into a recall bundle.
	GetContext(ctx context.Context, contactKey string) (*GraphContext, error)
	DeleteEntity(ctx context.Context, contactKey string, kind GraphEntityKind, name string) error
}
