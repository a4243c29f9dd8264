package store

import "context"

// RelationshipType classifies how the operator relates to a contact. The set
// is shared by signal extraction, the accumulator, and persona selection.
type RelationshipType string

const (
	RelColleague       RelationshipType = "colleague"
	RelClient          RelationshipType = "client"
	RelManager         RelationshipType = "manager"
	RelFriend          RelationshipType = "friend"
	RelAcquaintance    RelationshipType = "acquaintance"
	RelFamily          RelationshipType = "family"
	RelRomanticPartner RelationshipType = "romantic_partner"
)

// IsValid checks if the relationship type is a known value.
func (r RelationshipType) IsValid() bool {
	switch r {
	case RelColleague, RelClient, RelManager, RelFriend,
		RelAcquaintance, RelFamily, RelRomanticPartner:
		return true
	default:
		return false
	}
}

// Persona is a reply-style specification attached to relationship types or
// pinned to specific contacts.
type Persona struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	StyleGuide      string             `json:"styleGuide"`
	Tone            string             `json:"tone,omitempty"`
	ExampleMessages []string           `json:"exampleMessages,omitempty"`
	ApplicableTo    []RelationshipType `json:"applicableTo,omitempty"`
	IsDefault       bool               `json:"isDefault,omitempty"`
}

// Valid reports whether a stored record has the shape consumers rely on.
func (p *Persona) Valid() bool {
	return p != nil && p.ID != "" && p.StyleGuide != ""
}

// AppliesTo reports whether the persona covers a relationship type.
func (p *Persona) AppliesTo(rel RelationshipType) bool {
	for _, r := range p.ApplicableTo {
		if r == rel {
			return true
		}
	}
	return false
}

// FallbackPersona is used when no persona exists in storage at all. It must
// never be persisted; it only keeps the generator from running promptless.
func FallbackPersona() *Persona {
	return &Persona{
		ID:         "fallback",
		Name:       "Neutral",
		StyleGuide: "Reply briefly and naturally, matching the sender's tone. Do not mention being automated.",
		Tone:       "neutral",
	}
}

// PersonaStore persists personas.
type PersonaStore interface {
	Upsert(ctx context.Context, p *Persona) error
	Get(ctx context.Context, id string) (*Persona, error)
	List(ctx context.Context) ([]*Persona, error)
	GetDefault(ctx context.Context) (*Persona, error)
	Delete(ctx context.Context, id string) error
}
