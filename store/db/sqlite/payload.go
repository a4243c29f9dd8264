package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/store"
)

// Style profiles and relationship scores are written only by their
// accumulators and read whole; both are stored as JSON payloads keyed by
// contact.

type styleStore struct {
	db *sql.DB
}

func (s *styleStore) Upsert(ctx context.Context, p *store.StyleProfile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to marshal style profile")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO style_profile (contact_key, payload, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT (contact_key) DO UPDATE SET
			payload    = excluded.payload,
			updated_ts = excluded.updated_ts
	`, p.ContactKey, string(payload), time.Now().UnixMilli())
	return errors.Wrap(err, "failed to upsert style profile")
}

func (s *styleStore) Get(ctx context.Context, contactKey string) (*store.StyleProfile, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM style_profile WHERE contact_key = ?`, contactKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get style profile")
	}
	p := &store.StyleProfile{}
	if err := json.Unmarshal([]byte(payload), p); err != nil {
		return nil, errors.Wrap(err, "malformed style profile payload")
	}
	return p, nil
}

type relationshipStore struct {
	db *sql.DB
}

func (s *relationshipStore) Upsert(ctx context.Context, r *store.RelationshipScores) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to marshal relationship scores")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationship_scores (contact_key, payload, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT (contact_key) DO UPDATE SET
			payload    = excluded.payload,
			updated_ts = excluded.updated_ts
	`, r.ContactKey, string(payload), time.Now().UnixMilli())
	return errors.Wrap(err, "failed to upsert relationship scores")
}

func (s *relationshipStore) Get(ctx context.Context, contactKey string) (*store.RelationshipScores, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM relationship_scores WHERE contact_key = ?`, contactKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get relationship scores")
	}
	r := &store.RelationshipScores{}
	if err := json.Unmarshal([]byte(payload), r); err != nil {
		return nil, errors.Wrap(err, "malformed relationship payload")
	}
	return r, nil
}

type graphStore struct {
	db *sql.DB
}

func (s *graphStore) UpsertEntity(ctx context.Context, e *store.GraphEntity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_entity (contact_key, kind, name, detail, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (contact_key, kind, name) DO UPDATE SET
			detail     = excluded.detail,
			updated_ts = excluded.updated_ts
	`, e.ContactKey, string(e.Kind), e.Name, e.Detail, time.Now().UnixMilli())
	return errors.Wrap(err, "failed to upsert graph entity")
}

func (s *graphStore) GetContext(ctx context.Context, contactKey string) (*store.GraphContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, name, detail, updated_ts FROM graph_entity
		WHERE contact_key = ? ORDER BY updated_ts DESC
	`, contactKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query graph entities")
	}
	defer rows.Close()

	gc := &store.GraphContext{ContactKey: contactKey}
	for rows.Next() {
		var kind string
		var updatedTs int64
		e := store.GraphEntity{ContactKey: contactKey}
		if err := rows.Scan(&kind, &e.Name, &e.Detail, &updatedTs); err != nil {
			return nil, err
		}
		e.Kind = store.GraphEntityKind(kind)
		e.UpdatedAt = time.UnixMilli(updatedTs)
		switch e.Kind {
		case store.EntityPerson:
			gc.People = append(gc.People, e)
		case store.EntityTopic:
			gc.Topics = append(gc.Topics, e)
		case store.EntityEvent:
			gc.Events = append(gc.Events, e)
		}
	}
	return gc, rows.Err()
}

func (s *graphStore) DeleteEntity(ctx context.Context, contactKey string, kind store.GraphEntityKind, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_entity WHERE contact_key = ? AND kind = ? AND name = ?`,
		contactKey, string(kind), name)
	return errors.Wrap(err, "failed to delete graph entity")
}
