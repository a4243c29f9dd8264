// Package sqlite is the SQLite store.Driver, suited to single-operator
// deployments where the gateway and its data live on one machine.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/ghostwriter-im/ghostwriter/store"
)

// DB implements store.Driver on SQLite.
type DB struct {
	db *sql.DB
}

// NewDB opens a database specified by a driver-specific data source name.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode prevents locking issues; busy_timeout rides out the
	// occasional concurrent write from background flushers.
	sqliteDB, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// Single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)

	return &DB{db: sqliteDB}, nil
}

// Migrate applies the schema.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approved_contact (
			contact_key  TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL DEFAULT '',
			approved_ts  INTEGER NOT NULL,
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
			denied_ts    INTEGER NOT NULL,
			denied_by    TEXT NOT NULL DEFAULT '',
			expires_ts   INTEGER NOT NULL,
			reason       TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS pairing_request (
			contact_key   TEXT PRIMARY KEY,
			phone_number  TEXT NOT NULL DEFAULT '',
			requested_ts  INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			display_name  TEXT NOT NULL DEFAULT '',
			channel_id    TEXT NOT NULL DEFAULT '',
			first_message TEXT NOT NULL DEFAULT '',
			approved_by   TEXT NOT NULL DEFAULT '',
			approved_ts   INTEGER
		);
		CREATE TABLE IF NOT EXISTS persona (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			style_guide      TEXT NOT NULL,
			tone             TEXT NOT NULL DEFAULT '',
			example_messages TEXT NOT NULL DEFAULT '[]',
			applicable_to    TEXT NOT NULL DEFAULT '[]',
			is_default       INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS style_profile (
			contact_key TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			updated_ts  INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS relationship_scores (
			contact_key TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			updated_ts  INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS graph_entity (
			contact_key TEXT NOT NULL,
			kind        TEXT NOT NULL,
			name        TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			updated_ts  INTEGER NOT NULL,
			PRIMARY KEY (contact_key, kind, name)
		);
		CREATE INDEX IF NOT EXISTS idx_pairing_status ON pairing_request (status, requested_ts);
	`)
	return errors.Wrap(err, "failed to migrate sqlite schema")
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
