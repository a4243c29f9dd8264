package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/store"
)

type contactStore struct {
	db *sql.DB
}

func (s *contactStore) UpsertApproved(ctx context.Context, c *store.ApprovedContact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approved_contact
			(contact_key, phone_number, approved_ts, approved_by, tier, display_name, channel_id, notes, persona_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (contact_key) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			approved_ts  = EXCLUDED.approved_ts,
			approved_by  = EXCLUDED.approved_by,
			tier         = EXCLUDED.tier,
			display_name = EXCLUDED.display_name,
			channel_id   = EXCLUDED.channel_id,
			notes        = EXCLUDED.notes,
			persona_id   = EXCLUDED.persona_id
	`, c.ContactKey, c.PhoneNumber, c.ApprovedAt.UnixMilli(), c.ApprovedBy,
		string(c.Tier), c.DisplayName, c.ChannelID, c.Notes, c.PersonaID)
	return errors.Wrap(err, "failed to upsert approved contact")
}

func (s *contactStore) GetApproved(ctx context.Context, contactKey string) (*store.ApprovedContact, error) {
	c := &store.ApprovedContact{}
	var approvedTs int64
	var tier string
	err := s.db.QueryRowContext(ctx, `
		SELECT contact_key, phone_number, approved_ts, approved_by, tier, display_name, channel_id, notes, persona_id
		FROM approved_contact WHERE contact_key = $1
	`, contactKey).Scan(&c.ContactKey, &c.PhoneNumber, &approvedTs, &c.ApprovedBy,
		&tier, &c.DisplayName, &c.ChannelID, &c.Notes, &c.PersonaID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get approved contact")
	}
	c.ApprovedAt = time.UnixMilli(approvedTs)
	c.Tier = store.Tier(tier)
	return c, nil
}

func (s *contactStore) ListApproved(ctx context.Context) ([]*store.ApprovedContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_key, phone_number, approved_ts, approved_by, tier, display_name, channel_id, notes, persona_id
		FROM approved_contact ORDER BY approved_ts DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list approved contacts")
	}
	defer rows.Close()

	var out []*store.ApprovedContact
	for rows.Next() {
		c := &store.ApprovedContact{}
		var approvedTs int64
		var tier string
		if err := rows.Scan(&c.ContactKey, &c.PhoneNumber, &approvedTs, &c.ApprovedBy,
			&tier, &c.DisplayName, &c.ChannelID, &c.Notes, &c.PersonaID); err != nil {
			return nil, err
		}
		c.ApprovedAt = time.UnixMilli(approvedTs)
		c.Tier = store.Tier(tier)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *contactStore) DeleteApproved(ctx context.Context, contactKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM approved_contact WHERE contact_key = $1`, contactKey)
	return errors.Wrap(err, "failed to delete approved contact")
}

func (s *contactStore) UpsertDenied(ctx context.Context, d *store.DeniedContact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO denied_contact
			(contact_key, phone_number, denied_ts, denied_by, expires_ts, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_key) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			denied_ts    = EXCLUDED.denied_ts,
			denied_by    = EXCLUDED.denied_by,
			expires_ts   = EXCLUDED.expires_ts,
			reason       = EXCLUDED.reason
	`, d.ContactKey, d.PhoneNumber, d.DeniedAt.UnixMilli(), d.DeniedBy,
		d.ExpiresAt.UnixMilli(), d.Reason)
	return errors.Wrap(err, "failed to upsert denied contact")
}

func (s *contactStore) GetDenied(ctx context.Context, contactKey string) (*store.DeniedContact, error) {
	d := &store.DeniedContact{}
	var deniedTs, expiresTs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT contact_key, phone_number, denied_ts, denied_by, expires_ts, reason
		FROM denied_contact WHERE contact_key = $1
	`, contactKey).Scan(&d.ContactKey, &d.PhoneNumber, &deniedTs, &d.DeniedBy, &expiresTs, &d.Reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get denied contact")
	}
	d.DeniedAt = time.UnixMilli(deniedTs)
	d.ExpiresAt = time.UnixMilli(expiresTs)
	return d, nil
}

func (s *contactStore) ListDenied(ctx context.Context) ([]*store.DeniedContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_key, phone_number, denied_ts, denied_by, expires_ts, reason
		FROM denied_contact ORDER BY denied_ts DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list denied contacts")
	}
	defer rows.Close()

	var out []*store.DeniedContact
	for rows.Next() {
		d := &store.DeniedContact{}
		var deniedTs, expiresTs int64
		if err := rows.Scan(&d.ContactKey, &d.PhoneNumber, &deniedTs, &d.DeniedBy, &expiresTs, &d.Reason); err != nil {
			return nil, err
		}
		d.DeniedAt = time.UnixMilli(deniedTs)
		d.ExpiresAt = time.UnixMilli(expiresTs)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *contactStore) DeleteDenied(ctx context.Context, contactKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM denied_contact WHERE contact_key = $1`, contactKey)
	return errors.Wrap(err, "failed to delete denied contact")
}
