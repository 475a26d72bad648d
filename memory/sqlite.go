package memory

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orkacore/orka-go/core"
)

// SQLiteStore is a single-file durable backend with zero setup.
//
// Suited to development and single-process deployments: the journal runs
// in WAL mode, the pool holds a single connection so reads and writes
// through one store take turns, and the schema migrates
// automatically on first open. Use ":memory:" for an ephemeral database
// in tests.
type SQLiteStore struct {
	sqlStore
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orka_memory_entries (
	id          TEXT PRIMARY KEY,
	namespace   TEXT NOT NULL,
	node_id     TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	vector      TEXT NOT NULL DEFAULT 'null',
	category    TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orka_memory_namespace ON orka_memory_entries(namespace, category);
CREATE INDEX IF NOT EXISTS idx_orka_memory_expiry ON orka_memory_entries(expires_at);
`

const sqliteUpsert = `
INSERT INTO orka_memory_entries
	(id, namespace, node_id, trace_id, content, metadata, vector, category, memory_type, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteEmbedder attaches the embedder.
func WithSQLiteEmbedder(e Embedder) SQLiteOption {
	return func(s *SQLiteStore) { s.embedder = e }
}

// WithSQLiteClock overrides the time source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the schema.
func NewSQLiteStore(path string, policy RetentionPolicy, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "open sqlite backend", err)
	}
	// SQLite supports one writer; keep the pool at a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, core.Wrap(core.KindStoreUnavailable, "enable WAL", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, core.Wrap(core.KindStoreUnavailable, fmt.Sprintf("migrate schema at %s", path), err)
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{db: db, policy: policy, upsert: sqliteUpsert, now: time.Now},
		path:     path,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start()
	return s, nil
}
