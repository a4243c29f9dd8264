package store

import (
	"context"
	"time"
)

// Tier is the coarse trust level attached to an approved contact.
type Tier string

const (
	TierTrusted    Tier = "trusted"
	TierStandard   Tier = "standard"
	TierRestricted Tier = "restricted"
)

// IsValid checks if the tier is a known value.
func (t Tier) IsValid() bool {
	switch t {
	case TierTrusted, TierStandard, TierRestricted:
		return true
	default:
		return false
	}
}

// ApprovedContact is a contact allowed to reach the pipeline.
type ApprovedContact struct {
	ContactKey  string    `json:"contactKey"` // channel:contact composite
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	ApprovedAt  time.Time `json:"approvedAt"`
	ApprovedBy  string    `json:"approvedBy"`
	Tier        Tier      `json:"tier"`
	DisplayName string    `json:"displayName,omitempty"`
	ChannelID   string    `json:"channelId,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	// PersonaID, when set, pins persona selection for this contact.
	PersonaID string `json:"personaId,omitempty"`
}

// Valid reports whether a record read from storage has the shape the
// pipeline relies on. Invalid records are logged and treated as absent.
func (c *ApprovedContact) Valid() bool {
	return c != nil && c.ContactKey != "" && c.Tier.IsValid()
}

// DeniedContact is a contact blocked from the pipeline until ExpiresAt.
type DeniedContact struct {
	ContactKey  string    `json:"contactKey"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	DeniedAt    time.Time `json:"deniedAt"`
	DeniedBy    string    `json:"deniedBy"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Reason      string    `json:"reason,omitempty"`
}

// Active reports whether the denial is still in force.
func (d *DeniedContact) Active(now time.Time) bool {
	return d != nil && now.Before(d.ExpiresAt)
}

// ContactStore persists approved and denied contacts.
type ContactStore interface {
	UpsertApproved(ctx context.Context, c *ApprovedContact) error
	GetApproved(ctx context.Context, contactKey string) (*ApprovedContact, error)
	ListApproved(ctx context.Context) ([]*ApprovedContact, error)
	DeleteApproved(ctx context.Context, contactKey string) error

	UpsertDenied(ctx context.Context, d *DeniedContact) error
	GetDenied(ctx context.Context, contactKey string) (*DeniedContact, error)
	ListDenied(ctx context.Context) ([]*DeniedContact, error)
	DeleteDenied(ctx context.Context, contactKey string) error
}
