package persist

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	engine "github.com/reactive-dataflow/engine"
)

// SQLiteBackend is a durable engine.Backend, grounded on the teacher's
// NewDB/initSchema idiom (examples/health-monitor/database.go): open,
// ping, create-if-missing schema, single table keyed by persistence id.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens (or creates) a sqlite database at path and
// ensures its schema exists.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open persistence db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping persistence db: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init persistence schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS persisted_values (
		id TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Save upserts the blob for id. Persistence is fire-and-forget per §6.4:
// Backend.Save has no error return, and a write failure is discarded here,
// neither returned nor logged.
func (s *SQLiteBackend) Save(id engine.PersistenceId, blob []byte) {
	const query = `
		INSERT INTO persisted_values (id, blob, updated_at)
		VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`
	s.db.Exec(query, string(id), blob)
}

func (s *SQLiteBackend) Load(id engine.PersistenceId) ([]byte, bool) {
	const query = `SELECT blob FROM persisted_values WHERE id = ?`
	var blob []byte
	err := s.db.QueryRow(query, string(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return blob, true
}

// Close releases the underlying database handle.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
