// Package sqlitekv is the durable kv.Store driver. Pause keys and deferred
// messages written here survive process restarts, which the pipeline relies
// on to resume pause state.
package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/ghostwriter-im/ghostwriter/kv"
)

var _ kv.Store = (*Store)(nil)

// Store is a SQLite-backed kv.Store. A single WAL-mode connection serializes
// writes; each operation runs in one implicit or explicit transaction.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the KV database at the given path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("kv path required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open kv db at %s", path)
	}

	// Single connection is optimal for SQLite with WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to migrate kv schema")
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_string (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS kv_counter (
			key        TEXT PRIMARY KEY,
			count      INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS kv_zset (
			key    TEXT NOT NULL,
			member TEXT NOT NULL,
			score  INTEGER NOT NULL,
			PRIMARY KEY (key, member)
		);
		CREATE TABLE IF NOT EXISTS kv_list (
			key        TEXT NOT NULL,
			entry_id   TEXT NOT NULL,
			value      TEXT NOT NULL,
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			UNIQUE (key, entry_id)
		);
		CREATE TABLE IF NOT EXISTS kv_stream (
			stream TEXT NOT NULL,
			id     TEXT NOT NULL,
			value  TEXT NOT NULL,
			PRIMARY KEY (stream, id)
		);
		CREATE TABLE IF NOT EXISTS kv_stream_seq (
			stream TEXT PRIMARY KEY,
			seq    INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS kv_map (
			key   TEXT NOT NULL,
			field TEXT NOT NULL,
			value INTEGER NOT NULL,
			PRIMARY KEY (key, field)
		);
		CREATE TABLE IF NOT EXISTS kv_meta (
			key        TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

func expiry(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

// Get returns the value for key. Expired rows read as absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_string WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "kv get")
	}
	if expiresAt != 0 && expiresAt <= s.nowMs() {
		return "", false, nil
	}
	return value, true, nil
}

// Set writes key=value with an optional ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_string (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiry(s.now(), ttl))
	return errors.Wrap(err, "kv set")
}

// Delete removes a key from every namespace.
func (s *Store) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "kv delete")
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM kv_string WHERE key = ?`,
		`DELETE FROM kv_counter WHERE key = ?`,
		`DELETE FROM kv_zset WHERE key = ?`,
		`DELETE FROM kv_list WHERE key = ?`,
		`DELETE FROM kv_map WHERE key = ?`,
		`DELETE FROM kv_meta WHERE key = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
			return errors.Wrap(err, "kv delete")
		}
	}
	return errors.Wrap(tx.Commit(), "kv delete commit")
}

// Keys lists live string keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv_string
		WHERE key GLOB ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY key
	`, prefix+"*", s.nowMs())
	if err != nil {
		return nil, errors.Wrap(err, "kv keys")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// IncrWindow atomically increments a counter, arming the TTL only on the
// 0 to 1 transition. A single transaction makes increment + expire atomic.
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "kv incr")
	}
	defer tx.Rollback()

	var count, expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT count, expires_at FROM kv_counter WHERE key = ?`, key,
	).Scan(&count, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		count, expiresAt = 0, 0
	case err != nil:
		return 0, errors.Wrap(err, "kv incr")
	case expiresAt != 0 && expiresAt <= s.nowMs():
		count, expiresAt = 0, 0
	}

	count++
	if count == 1 {
		expiresAt = expiry(s.now(), window)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_counter (key, count, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET count = excluded.count, expires_at = excluded.expires_at
	`, key, count, expiresAt); err != nil {
		return 0, errors.Wrap(err, "kv incr")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "kv incr commit")
	}
	return count, nil
}

// CounterGet reads a window counter without incrementing it.
func (s *Store) CounterGet(ctx context.Context, key string) (int64, error) {
	var count, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count, expires_at FROM kv_counter WHERE key = ?`, key,
	).Scan(&count, &expiresAt)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "kv counter get")
	}
	if expiresAt != 0 && expiresAt <= s.nowMs() {
		return 0, nil
	}
	return count, nil
}

// ZAdd inserts a member into a sorted set.
func (s *Store) ZAdd(ctx context.Context, key string, score int64, member string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_zset (key, member, score) VALUES (?, ?, ?)
		ON CONFLICT (key, member) DO UPDATE SET score = excluded.score
	`, key, member, score)
	return errors.Wrap(err, "kv zadd")
}

// ZPopUntil removes and returns up to limit members with score <= max.
func (s *Store) ZPopUntil(ctx context.Context, key string, max int64, limit int) ([]kv.ScoredMember, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "kv zpop")
	}
	defer tx.Rollback()

	query := `SELECT member, score FROM kv_zset WHERE key = ? AND score <= ? ORDER BY score, member`
	args := []any{key, max}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "kv zpop")
	}
	var due []kv.ScoredMember
	for rows.Next() {
		var m kv.ScoredMember
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range due {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM kv_zset WHERE key = ? AND member = ?`, key, m.Member); err != nil {
			return nil, errors.Wrap(err, "kv zpop")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "kv zpop commit")
	}
	return due, nil
}

// ZCard returns the size of a sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_zset WHERE key = ?`, key).Scan(&n)
	return n, errors.Wrap(err, "kv zcard")
}

func (s *Store) listExpired(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, key string) (bool, error) {
	var expiresAt int64
	err := q.QueryRowContext(ctx,
		`SELECT expires_at FROM kv_meta WHERE key = ?`, key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expiresAt != 0 && expiresAt <= s.nowMs(), nil
}

// ListAppend appends to a bounded list, de-duplicated by entry id, trimming
// to the newest maxLen entries and refreshing the key TTL.
func (s *Store) ListAppend(ctx context.Context, key, id, value string, maxLen int, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "kv list append")
	}
	defer tx.Rollback()

	expired, err := s.listExpired(ctx, tx, key)
	if err != nil {
		return errors.Wrap(err, "kv list append")
	}
	if expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_list WHERE key = ?`, key); err != nil {
			return errors.Wrap(err, "kv list append")
		}
	}

	// De-dup by id: a replayed message must not duplicate history.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO kv_list (key, entry_id, value) VALUES (?, ?, ?)
		ON CONFLICT (key, entry_id) DO NOTHING
	`, key, id, value)
	if err != nil {
		return errors.Wrap(err, "kv list append")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	if maxLen > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM kv_list WHERE key = ? AND seq NOT IN (
				SELECT seq FROM kv_list WHERE key = ? ORDER BY seq DESC LIMIT ?
			)
		`, key, key, maxLen); err != nil {
			return errors.Wrap(err, "kv list trim")
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_meta (key, expires_at) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
	`, key, expiry(s.now(), ttl)); err != nil {
		return errors.Wrap(err, "kv list meta")
	}
	return errors.Wrap(tx.Commit(), "kv list append commit")
}

// ListRange returns the newest lastN entries, oldest first.
func (s *Store) ListRange(ctx context.Context, key string, lastN int) ([]string, error) {
	if expired, err := s.listExpired(ctx, s.db, key); err != nil {
		return nil, errors.Wrap(err, "kv list range")
	} else if expired {
		return nil, nil
	}

	query := `
		SELECT value FROM (
			SELECT seq, value FROM kv_list WHERE key = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
	limit := lastN
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, errors.Wrap(err, "kv list range")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListLen returns the number of entries in a list.
func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	if expired, err := s.listExpired(ctx, s.db, key); err != nil {
		return 0, errors.Wrap(err, "kv list len")
	} else if expired {
		return 0, nil
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_list WHERE key = ?`, key).Scan(&n)
	return n, errors.Wrap(err, "kv list len")
}

// StreamAppend appends a value to a stream. Ids are zero-padded so that
// lexicographic order equals append order.
func (s *Store) StreamAppend(ctx context.Context, stream, value string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "kv stream append")
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO kv_stream_seq (stream, seq) VALUES (?, 1)
		ON CONFLICT (stream) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, stream).Scan(&seq)
	if err != nil {
		return "", errors.Wrap(err, "kv stream seq")
	}

	id := fmt.Sprintf("%013d-%09d", s.nowMs(), seq)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_stream (stream, id, value) VALUES (?, ?, ?)`,
		stream, id, value); err != nil {
		return "", errors.Wrap(err, "kv stream append")
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "kv stream append commit")
	}
	return id, nil
}

// StreamRead returns up to limit entries after afterID, oldest first.
func (s *Store) StreamRead(ctx context.Context, stream, afterID string, limit int) ([]kv.StreamEntry, error) {
	query := `SELECT id, value FROM kv_stream WHERE stream = ? AND id > ? ORDER BY id`
	args := []any{stream, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "kv stream read")
	}
	defer rows.Close()
	var out []kv.StreamEntry
	for rows.Next() {
		var e kv.StreamEntry
		if err := rows.Scan(&e.ID, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StreamTrim drops entries with id <= upToID.
func (s *Store) StreamTrim(ctx context.Context, stream, upToID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_stream WHERE stream = ? AND id <= ?`, stream, upToID)
	return errors.Wrap(err, "kv stream trim")
}

// MapIncr increments a field of a counter map, arming the key TTL on first
// write.
func (s *Store) MapIncr(ctx context.Context, key, field string, delta int64, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "kv map incr")
	}
	defer tx.Rollback()

	expired, err := s.listExpired(ctx, tx, key)
	if err != nil {
		return errors.Wrap(err, "kv map incr")
	}
	if expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_map WHERE key = ?`, key); err != nil {
			return errors.Wrap(err, "kv map incr")
		}
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_map WHERE key = ?`, key).Scan(&exists); err != nil {
		return errors.Wrap(err, "kv map incr")
	}
	if exists == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv_meta (key, expires_at) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
		`, key, expiry(s.now(), ttl)); err != nil {
			return errors.Wrap(err, "kv map incr")
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_map (key, field, value) VALUES (?, ?, ?)
		ON CONFLICT (key, field) DO UPDATE SET value = kv_map.value + excluded.value
	`, key, field, delta); err != nil {
		return errors.Wrap(err, "kv map incr")
	}
	return errors.Wrap(tx.Commit(), "kv map incr commit")
}

// MapGet returns a snapshot of a counter map.
func (s *Store) MapGet(ctx context.Context, key string) (map[string]int64, error) {
	if expired, err := s.listExpired(ctx, s.db, key); err != nil {
		return nil, errors.Wrap(err, "kv map get")
	} else if expired {
		return map[string]int64{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM kv_map WHERE key = ?`, key)
	if err != nil {
		return nil, errors.Wrap(err, "kv map get")
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var f string
		var v int64
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
