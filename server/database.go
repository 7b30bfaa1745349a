package server

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
)

// StorageError is the result of a failed database transaction.  It
// carries the driver code and message so operators can tell a
// constraint violation from a full disk.
type StorageError struct {
	Code    int
	Message string
	SubErr  error
}

func NewStorageError(err error) error {
	se := &StorageError{Message: err.Error(), SubErr: err}
	var drvErr *sqlite.Error
	if errors.As(err, &drvErr) {
		se.Code = drvErr.Code()
	}
	return se
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("database error: '%s' (driver code %d)", e.Message, e.Code)
}

func (e *StorageError) Unwrap() error { return e.SubErr }

// The normalized trace database.  Dimension tables are
// unique-by-content so that repeated entries from the same site
// share rows; fact tables reference them by id.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS path_name (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS function_name (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS process (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	pid INTEGER NOT NULL,
	UNIQUE(name, pid)
);
CREATE TABLE IF NOT EXISTS traced_thread (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	process_id INTEGER NOT NULL REFERENCES process(id),
	tid INTEGER NOT NULL,
	UNIQUE(process_id, tid)
);
CREATE TABLE IF NOT EXISTS trace_point (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	verbosity INTEGER NOT NULL,
	type INTEGER NOT NULL,
	path_id INTEGER NOT NULL REFERENCES path_name(id),
	line INTEGER NOT NULL,
	function_id INTEGER NOT NULL REFERENCES function_name(id),
	UNIQUE(verbosity, type, path_id, line, function_id)
);
CREATE TABLE IF NOT EXISTS trace_entry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	traced_thread_id INTEGER NOT NULL REFERENCES traced_thread(id),
	timestamp INTEGER NOT NULL,
	trace_point_id INTEGER NOT NULL REFERENCES trace_point(id),
	message TEXT
);
CREATE TABLE IF NOT EXISTS variable (
	trace_entry_id INTEGER NOT NULL REFERENCES trace_entry(id),
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	type INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stackframe (
	trace_entry_id INTEGER NOT NULL REFERENCES trace_entry(id),
	depth INTEGER NOT NULL,
	module_name TEXT NOT NULL,
	function_name TEXT NOT NULL,
	offset INTEGER NOT NULL,
	file_name TEXT NOT NULL,
	line INTEGER NOT NULL
);
`

// OpenDatabase opens the trace database at path, creating it and
// its schema when absent.  Pass ":memory:" for an ephemeral
// database in tests.
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, NewStorageError(err)
	}

	// The feeder serializes writes through one connection; more
	// would only produce SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, NewStorageError(err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, NewStorageError(err)
	}
	return db, nil
}
