package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/store"
)

type personaStore struct {
	db *sql.DB
}

func (s *personaStore) Upsert(ctx context.Context, p *store.Persona) error {
	examples, err := json.Marshal(p.ExampleMessages)
	if err != nil {
		return errors.Wrap(err, "failed to marshal example messages")
	}
	applicable, err := json.Marshal(p.ApplicableTo)
	if err != nil {
		return errors.Wrap(err, "failed to marshal applicable relationships")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO persona (id, name, style_guide, tone, example_messages, applicable_to, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name             = EXCLUDED.name,
			style_guide      = EXCLUDED.style_guide,
			tone             = EXCLUDED.tone,
			example_messages = EXCLUDED.example_messages,
			applicable_to    = EXCLUDED.applicable_to,
			is_default       = EXCLUDED.is_default
	`, p.ID, p.Name, p.StyleGuide, p.Tone, string(examples), string(applicable), p.IsDefault)
	return errors.Wrap(err, "failed to upsert persona")
}

func scanPersona(scan func(dest ...any) error) (*store.Persona, error) {
	p := &store.Persona{}
	var examples, applicable string
	if err := scan(&p.ID, &p.Name, &p.StyleGuide, &p.Tone, &examples, &applicable, &p.IsDefault); err != nil {
		return nil, err
	}
	// Malformed JSON degrades to an empty list rather than failing the read.
	_ = json.Unmarshal([]byte(examples), &p.ExampleMessages)
	_ = json.Unmarshal([]byte(applicable), &p.ApplicableTo)
	return p, nil
}

const personaColumns = `id, name, style_guide, tone, example_messages, applicable_to, is_default`

func (s *personaStore) Get(ctx context.Context, id string) (*store.Persona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM persona WHERE id = $1`, id)
	p, err := scanPersona(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get persona")
	}
	return p, nil
}

func (s *personaStore) List(ctx context.Context) ([]*store.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM persona ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list personas")
	}
	defer rows.Close()

	var out []*store.Persona
	for rows.Next() {
		p, err := scanPersona(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *personaStore) GetDefault(ctx context.Context) (*store.Persona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM persona WHERE is_default LIMIT 1`)
	p, err := scanPersona(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get default persona")
	}
	return p, nil
}

func (s *personaStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM persona WHERE id = $1`, id)
	return errors.Wrap(err, "failed to delete persona")
}
