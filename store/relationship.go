package store

import (
	"context"
	"time"
)

// RelationshipScores is the per-contact accumulated evidence for each
// relationship type. Scores decay daily; the current type only changes when
// the accumulator's persistence gates pass.
type RelationshipScores struct {
	ContactKey        string                       `json:"contactKey"`
	Scores            map[RelationshipType]float64 `json:"scores"`
	CurrentType       RelationshipType             `json:"currentType"`
	CurrentConfidence float64                      `json:"currentConfidence"`
	SignalCount       int                          `json:"signalCount"`
	LastUpdated       time.Time                    `json:"lastUpdated"`
}

// Valid reports whether a stored record has the shape consumers rely on.
func (r *RelationshipScores) Valid() bool {
	return r != nil && r.ContactKey != "" && r.Scores != nil
}

// RelationshipStore persists accumulated relationship scores.
type RelationshipStore interface {
	Upsert(ctx context.Context, r *RelationshipScores) error
	Get(ctx context.Context, contactKey string) (*RelationshipScores, error)
}
