package store

import (
	"context"
	"time"
)

// PairingStatus is the lifecycle state of a pairing request.
type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingApproved PairingStatus = "approved"
	PairingDenied   PairingStatus = "denied"
	PairingExpired  PairingStatus = "expired"
)

// PairingRequest records the first contact from an unknown sender, awaiting
// operator approval.
type PairingRequest struct {
	ContactKey   string        `json:"contactKey"`
	PhoneNumber  string        `json:"phoneNumber,omitempty"`
	RequestedAt  time.Time     `json:"requestedAt"`
	Status       PairingStatus `json:"status"`
	DisplayName  string        `json:"displayName,omitempty"`
	ChannelID    string        `json:"channelId,omitempty"`
	FirstMessage string        `json:"firstMessage,omitempty"`
	ApprovedBy   string        `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time    `json:"approvedAt,omitempty"`
}

// Valid reports whether a stored record has the shape consumers rely on.
func (p *PairingRequest) Valid() bool {
	if p == nil || p.ContactKey == "" {
		return false
	}
	switch p.Status {
	case PairingPending, PairingApproved, PairingDenied, PairingExpired:
		return true
	default:
		return false
	}
}

// PairingStore persists pairing requests.
type PairingStore interface {
	Upsert(ctx context.Context, p *PairingRequest) error
	Get(ctx context.Context, contactKey string) (*PairingRequest, error)
	List(ctx context.Context, status PairingStatus) ([]*PairingRequest, error)
	// ExpirePending marks pending requests older than cutoff as expired and
	// returns how many were transitioned.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
	Delete(ctx context.Context, contactKey string) error
}
