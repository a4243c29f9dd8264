// Package db selects a store.Driver implementation from the configured
// database driver name.
package db

import (
	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/internal/profile"
	"github.com/ghostwriter-im/ghostwriter/store"
	"github.com/ghostwriter-im/ghostwriter/store/db/postgres"
	"github.com/ghostwriter-im/ghostwriter/store/db/sqlite"
)

// NewDriver creates a database driver based on the profile.
func NewDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "sqlite":
		return sqlite.NewDB(p.DSN)
	case "postgres":
		return postgres.NewDB(p.DSN)
	default:
		return nil, errors.Errorf("unknown db driver %q", p.Driver)
	}
}
