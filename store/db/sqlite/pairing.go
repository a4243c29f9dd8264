package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/store"
)

type pairingStore struct {
	db *sql.DB
}

func (s *pairingStore) Upsert(ctx context.Context, p *store.PairingRequest) error {
	var approvedTs *int64
	if p.ApprovedAt != nil {
		ts := p.ApprovedAt.UnixMilli()
		approvedTs = &ts
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairing_request
			(contact_key, phone_number, requested_ts, status, display_name, channel_id, first_message, approved_by, approved_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (contact_key) DO UPDATE SET
			phone_number  = excluded.phone_number,
			requested_ts  = excluded.requested_ts,
			status        = excluded.status,
			display_name  = excluded.display_name,
			channel_id    = excluded.channel_id,
			first_message = excluded.first_message,
			approved_by   = excluded.approved_by,
			approved_ts   = excluded.approved_ts
	`, p.ContactKey, p.PhoneNumber, p.RequestedAt.UnixMilli(), string(p.Status),
		p.DisplayName, p.ChannelID, p.FirstMessage, p.ApprovedBy, approvedTs)
	return errors.Wrap(err, "failed to upsert pairing request")
}

func scanPairing(scan func(dest ...any) error) (*store.PairingRequest, error) {
	p := &store.PairingRequest{}
	var requestedTs int64
	var approvedTs sql.NullInt64
	var status string
	if err := scan(&p.ContactKey, &p.PhoneNumber, &requestedTs, &status,
		&p.DisplayName, &p.ChannelID, &p.FirstMessage, &p.ApprovedBy, &approvedTs); err != nil {
		return nil, err
	}
	p.RequestedAt = time.UnixMilli(requestedTs)
	p.Status = store.PairingStatus(status)
	if approvedTs.Valid {
		t := time.UnixMilli(approvedTs.Int64)
		p.ApprovedAt = &t
	}
	return p, nil
}

const pairingColumns = `contact_key, phone_number, requested_ts, status, display_name, channel_id, first_message, approved_by, approved_ts`

func (s *pairingStore) Get(ctx context.Context, contactKey string) (*store.PairingRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pairingColumns+` FROM pairing_request WHERE contact_key = ?`, contactKey)
	p, err := scanPairing(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pairing request")
	}
	return p, nil
}

func (s *pairingStore) List(ctx context.Context, status store.PairingStatus) ([]*store.PairingRequest, error) {
	query := `SELECT ` + pairingColumns + ` FROM pairing_request`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_ts DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pairing requests")
	}
	defer rows.Close()

	var out []*store.PairingRequest
	for rows.Next() {
		p, err := scanPairing(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pairingStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pairing_request SET status = ?
		WHERE status = ? AND requested_ts < ?
	`, string(store.PairingExpired), string(store.PairingPending), cutoff.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "failed to expire pairing requests")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *pairingStore) Delete(ctx context.Context, contactKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_request WHERE contact_key = ?`, contactKey)
	return errors.Wrap(err, "failed to delete pairing request")
}
