package server

import (
	"database/sql"
	"sync"
)

// DatabaseFeeder persists decoded entries.  Dimension rows are
// resolved idempotently (same content, same id); the fact rows of
// one entry are inserted under a single transaction, so a failure
// leaves at most nothing of that entry behind.  A mutex serializes
// feeders across connection workers: single-writer discipline
// keeps transactions short and spares SQLite the lock churn.
type DatabaseFeeder struct {
	db *sql.DB
	mu sync.Mutex
}

func NewDatabaseFeeder(db *sql.DB) *DatabaseFeeder {
	return &DatabaseFeeder{db: db}
}

// Feed stores one entry.  On any SQL error the transaction is
// rolled back and a StorageError carrying the driver code and
// message is returned; the caller logs it and moves on to the next
// entry.
func (f *DatabaseFeeder) Feed(e *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.db.Begin()
	if err != nil {
		return NewStorageError(err)
	}

	if err := f.feedTx(tx, e); err != nil {
		tx.Rollback()
		return NewStorageError(err)
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError(err)
	}
	return nil
}

func (f *DatabaseFeeder) feedTx(tx *sql.Tx, e *Entry) error {
	pathID, err := resolveDimension(tx,
		"SELECT id FROM path_name WHERE name = ?",
		"INSERT INTO path_name(name) VALUES(?)",
		e.Path)
	if err != nil {
		return err
	}

	functionID, err := resolveDimension(tx,
		"SELECT id FROM function_name WHERE name = ?",
		"INSERT INTO function_name(name) VALUES(?)",
		e.Function)
	if err != nil {
		return err
	}

	processID, err := resolveDimension(tx,
		"SELECT id FROM process WHERE name = ? AND pid = ?",
		"INSERT INTO process(name, pid) VALUES(?, ?)",
		e.ProcessName, e.PID)
	if err != nil {
		return err
	}

	threadID, err := resolveDimension(tx,
		"SELECT id FROM traced_thread WHERE process_id = ? AND tid = ?",
		"INSERT INTO traced_thread(process_id, tid) VALUES(?, ?)",
		processID, e.TID)
	if err != nil {
		return err
	}

	tracePointID, err := resolveDimension(tx,
		"SELECT id FROM trace_point WHERE verbosity = ? AND type = ? AND path_id = ? AND line = ? AND function_id = ?",
		"INSERT INTO trace_point(verbosity, type, path_id, line, function_id) VALUES(?, ?, ?, ?, ?)",
		e.Verbosity, int(e.Type), pathID, e.LineNo, functionID)
	if err != nil {
		return err
	}

	res, err := tx.Exec(
		"INSERT INTO trace_entry(traced_thread_id, timestamp, trace_point_id, message) VALUES(?, ?, ?, ?)",
		threadID, e.Timestamp.Unix(), tracePointID, e.Message)
	if err != nil {
		return err
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, v := range e.Variables {
		if _, err := tx.Exec(
			"INSERT INTO variable(trace_entry_id, name, value, type) VALUES(?, ?, ?, ?)",
			entryID, v.Name, v.Value, int(v.Type)); err != nil {
			return err
		}
	}

	for depth, frame := range e.Backtrace {
		if _, err := tx.Exec(
			"INSERT INTO stackframe(trace_entry_id, depth, module_name, function_name, offset, file_name, line) VALUES(?, ?, ?, ?, ?, ?, ?)",
			entryID, depth, frame.Module, frame.Function, frame.FunctionOffset,
			frame.SourceFile, frame.LineNumber); err != nil {
			return err
		}
	}

	return nil
}

// resolveDimension looks a dimension row up by content and inserts
// it when absent, returning the row id either way.  The insert
// reuses the lookup arguments, so select and insert statements
// must bind the same columns in the same order.
func resolveDimension(tx *sql.Tx, selectSQL, insertSQL string, args ...interface{}) (int64, error) {
	var id int64
	err := tx.QueryRow(selectSQL, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := tx.Exec(insertSQL, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
