package memory

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/orkacore/orka-go/core"
)

// MySQLStore is the MySQL-backed durable Store for deployments that
// already run a relational database.
//
// DSN format follows the driver, e.g.
// "user:pass@tcp(localhost:3306)/orka?parseTime=true".
type MySQLStore struct {
	sqlStore
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS orka_memory_entries (
	id          VARCHAR(64) PRIMARY KEY,
	namespace   VARCHAR(255) NOT NULL,
	node_id     VARCHAR(255) NOT NULL DEFAULT '',
	trace_id    VARCHAR(64) NOT NULL DEFAULT '',
	content     MEDIUMTEXT NOT NULL,
	metadata    TEXT NOT NULL,
	vector      MEDIUMTEXT NOT NULL,
	category    VARCHAR(16) NOT NULL,
	memory_type VARCHAR(16) NOT NULL,
	created_at  BIGINT NOT NULL,
	expires_at  BIGINT NOT NULL DEFAULT 0,
	INDEX idx_orka_memory_namespace (namespace, category),
	INDEX idx_orka_memory_expiry (expires_at)
) ENGINE=InnoDB`

const mysqlUpsert = `
INSERT INTO orka_memory_entries
	(id, namespace, node_id, trace_id, content, metadata, vector, category, memory_type, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE id = id`

// MySQLOption configures a MySQLStore.
type MySQLOption func(*MySQLStore)

// WithMySQLEmbedder attaches the embedder.
func WithMySQLEmbedder(e Embedder) MySQLOption {
	return func(s *MySQLStore) { s.embedder = e }
}

// WithMySQLClock overrides the time source.
func WithMySQLClock(now func() time.Time) MySQLOption {
	return func(s *MySQLStore) { s.now = now }
}

// NewMySQLStore connects with the DSN and migrates the schema.
func NewMySQLStore(dsn string, policy RetentionPolicy, opts ...MySQLOption) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "open mysql backend", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, core.Wrap(core.KindStoreUnavailable, "mysql backend unreachable", err)
	}
	if _, err := db.Exec(mysqlSchema); err != nil {
		_ = db.Close()
		return nil, core.Wrap(core.KindStoreUnavailable, "migrate mysql schema", err)
	}

	s := &MySQLStore{
		sqlStore: sqlStore{db: db, policy: policy, upsert: mysqlUpsert, now: time.Now},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start()
	return s, nil
}
