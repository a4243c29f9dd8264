// Package postgres is the PostgreSQL store.Driver, for deployments where the
// gateway shares a database server with other services.
package postgres

import (
	"context"
	"database/sql"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/store"
)

// DB implements store.Driver on PostgreSQL.
type DB struct {
	db *sql.DB
}

// NewDB opens a database specified by a driver-specific data source name.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	pgDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	pgDB.SetMaxOpenConns(10)
	pgDB.SetMaxIdleConns(5)
	return &DB{db: pgDB}, nil
}

// Migrate applies the schema.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approved_contact (
			contact_key  TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL DEFAULT '',
			approved_ts  BIGINT NOT NULL,
			approved_by  TEXT NOT NULL DEFAULT '',
			tier         TEXT NOT NULL DEFAULT 'standard',
			display_name TEXT NOT NULL DEFAULT '',
			channel_id   TEXT NOT NULL DEFAULT '',
			notes        TEXT NOT NULL DEFAULT '',
			persona_id   TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS denied_contact (
			contact_key  TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL DEFAULT '',
			denied_ts    BIGINT NOT NULL,
			denied_by    TEXT NOT NULL DEFAULT '',
			expires_ts   BIGINT NOT NULL,
			reason       TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS pairing_request (
			contact_key   TEXT PRIMARY KEY,
			phone_number  TEXT NOT NULL DEFAULT '',
			requested_ts  BIGINT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			display_name  TEXT NOT NULL DEFAULT '',
			channel_id    TEXT NOT NULL DEFAULT '',
			first_message TEXT NOT NULL DEFAULT '',
			approved_by   TEXT NOT NULL DEFAULT '',
			approved_ts   BIGINT
		);
		CREATE TABLE IF NOT EXISTS persona (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			style_guide      TEXT NOT NULL,
			tone             TEXT NOT NULL DEFAULT '',
			example_messages TEXT NOT NULL DEFAULT '[]',
			applicable_to    TEXT NOT NULL DEFAULT '[]',
			is_default       BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS style_profile (
			contact_key TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			updated_ts  BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS relationship_scores (
			contact_key TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			updated_ts  BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS graph_entity (
			contact_key TEXT NOT NULL,
			kind        TEXT NOT NULL,
			name        TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			updated_ts  BIGINT NOT NULL,
			PRIMARY KEY (contact_key, kind, name)
		);
		CREATE INDEX IF NOT EXISTS idx_pairing_status ON pairing_request (status, requested_ts);
	`)
	return errors.Wrap(err, "failed to migrate postgres schema")
}

// ContactStore returns the contact sub-store.
func (d *DB) ContactStore() store.ContactStore { return &contactStore{db: d.db} }

// PairingStore returns the pairing sub-store.
func (d *DB) PairingStore() store.PairingStore { return &pairingStore{db: d.db} }

// PersonaStore returns the persona sub-store.
func (d *DB) PersonaStore() store.PersonaStore { return &personaStore{db: d.db} }

// StyleProfileStore returns the style profile sub-store.
func (d *DB) StyleProfileStore() store.StyleProfileStore { return &styleStore{db: d.db} }

// RelationshipStore returns the relationship sub-store.
func (d *DB) RelationshipStore() store.RelationshipStore { return &relationshipStore{db: d.db} }

// GraphStore returns the graph sub-store.
func (d *DB) GraphStore() store.GraphStore { return &graphStore{db: d.db} }

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }
