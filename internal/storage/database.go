package storage

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

// DB is the SQLite primary tier
type DB struct {
	conn *sql.DB
}

var _ Backend = (*DB)(nil)

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "storage: open database")
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "storage: migrate database")
	}

	return db, nil
}

// OpenReadOnly opens an existing database for inspection. The schema is not migrated.
func OpenReadOnly(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", path)
	}
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "storage: open database")
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "storage: open database")
	}
	return &DB{conn: conn}, nil
}

// ErrNotSelect is returned by Select for anything but a SELECT statement
var ErrNotSelect = eris.New("storage: only SELECT queries are allowed")

// Select runs a raw read query; the caller closes the rows
func (db *DB) Select(ctx context.Context, query string) (*sql.Rows, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, ErrNotSelect
	}
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "storage: select")
	}
	return rows, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- Offline records awaiting or past cloud sync
	CREATE TABLE IF NOT EXISTS offline_records (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT 0,
		synced INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_offline_records_synced ON offline_records(synced);
	CREATE INDEX IF NOT EXISTS idx_offline_records_timestamp ON offline_records(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Put inserts or replaces a record
func (db *DB) Put(ctx context.Context, env *Envelope) error {
	query := `
		INSERT INTO offline_records (key, data, timestamp, created_at, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			timestamp = excluded.timestamp,
			created_at = excluded.created_at,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, env.Key, string(env.Data), env.Timestamp,
		env.CreatedAt, env.Synced, time.Now())
	if err != nil {
		return eris.Wrapf(err, "storage: put %s", env.Key)
	}
	return nil
}

// Get retrieves a record by key
func (db *DB) Get(ctx context.Context, key string) (*Envelope, error) {
	query := `SELECT key, data, timestamp, created_at, synced FROM offline_records WHERE key = ?`

	env := &Envelope{}
	var data string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&env.Key, &data, &env.Timestamp,
		&env.CreatedAt, &env.Synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get %s", key)
	}
	env.Data = []byte(data)
	return env, nil
}

// Delete removes a record
func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM offline_records WHERE key = ?", key); err != nil {
		return eris.Wrapf(err, "storage: delete %s", key)
	}
	return nil
}

// Keys lists every record key
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key FROM offline_records ORDER BY key")
	if err != nil {
		return nil, eris.Wrap(err, "storage: list keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "storage: scan key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Unsynced retrieves records not yet synced to cloud, oldest first
func (db *DB) Unsynced(ctx context.Context, limit int) ([]*Envelope, error) {
	query := `SELECT key, data, timestamp, created_at, synced
		FROM offline_records WHERE synced = 0
		ORDER BY timestamp LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query unsynced")
	}
	defer rows.Close()

	var envs []*Envelope
	for rows.Next() {
		env := &Envelope{}
		var data string
		if err := rows.Scan(&env.Key, &data, &env.Timestamp, &env.CreatedAt, &env.Synced); err != nil {
			return nil, eris.Wrap(err, "storage: scan unsynced")
		}
		env.Data = []byte(data)
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// Stats counts records and reports the timestamp range
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0) FROM offline_records`

	s := &Stats{}
	var oldest, newest int64
	if err := db.conn.QueryRowContext(ctx, query).Scan(&s.Total, &s.Unsynced, &oldest, &newest); err != nil {
		return nil, eris.Wrap(err, "storage: stats")
	}
	if s.Total > 0 {
		s.Oldest = time.UnixMilli(oldest)
		s.Newest = time.UnixMilli(newest)
	}
	return s, nil
}
