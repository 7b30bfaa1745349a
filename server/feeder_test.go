package server

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/froglogic/tracer"
)

func x_OpenTestDatabase(t *testing.T) *sql.DB {
	db, err := OpenDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func x_WatchEntry() *Entry {
	return &Entry{
		PID:         2524,
		TID:         468,
		Timestamp:   time.Date(2010, 9, 3, 16, 0, 56, 0, time.UTC),
		ProcessName: "hello_instrumented",
		Verbosity:   1,
		Type:        tracer.TracePointLog,
		Path:        "main.cpp",
		LineNo:      8,
		Function:    "int main()",
		Message:     "main() entered",
		Variables: []Variable{
			{Name: "name", Type: tracer.VariableTypeString, Value: "Max"},
		},
	}
}

func x_CountRows(t *testing.T, db *sql.DB, table string) int {
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// Feeding one entry into a fresh database produces exactly one row
// per dimension plus the fact rows.
func Test_Feeder_SingleEntry(t *testing.T) {
	db := x_OpenTestDatabase(t)
	feeder := NewDatabaseFeeder(db)

	require.NoError(t, feeder.Feed(x_WatchEntry()))

	assert.Equal(t, 1, x_CountRows(t, db, "path_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "function_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "process"))
	assert.Equal(t, 1, x_CountRows(t, db, "traced_thread"))
	assert.Equal(t, 1, x_CountRows(t, db, "trace_point"))
	assert.Equal(t, 1, x_CountRows(t, db, "trace_entry"))
	assert.Equal(t, 1, x_CountRows(t, db, "variable"))
	assert.Equal(t, 0, x_CountRows(t, db, "stackframe"))

	var name string
	var pid int
	require.NoError(t, db.QueryRow("SELECT name, pid FROM process").Scan(&name, &pid))
	assert.Equal(t, "hello_instrumented", name)
	assert.Equal(t, 2524, pid)

	var varName, varValue string
	var typeCode int
	require.NoError(t, db.QueryRow("SELECT name, value, type FROM variable").
		Scan(&varName, &varValue, &typeCode))
	assert.Equal(t, "name", varName)
	assert.Equal(t, "Max", varValue)
	assert.Equal(t, 0, typeCode, "string type code")
}

// Feeding the same entry N times yields N fact rows over a stable
// set of dimension rows.
func Test_Feeder_DimensionIdempotence(t *testing.T) {
	db := x_OpenTestDatabase(t)
	feeder := NewDatabaseFeeder(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, feeder.Feed(x_WatchEntry()))
	}

	assert.Equal(t, 3, x_CountRows(t, db, "trace_entry"))
	assert.Equal(t, 3, x_CountRows(t, db, "variable"))
	assert.Equal(t, 1, x_CountRows(t, db, "path_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "function_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "process"))
	assert.Equal(t, 1, x_CountRows(t, db, "traced_thread"))
	assert.Equal(t, 1, x_CountRows(t, db, "trace_point"))
}

// Entries from distinct sites share dimension rows only where the
// content is identical.
func Test_Feeder_SharedDimensions(t *testing.T) {
	db := x_OpenTestDatabase(t)
	feeder := NewDatabaseFeeder(db)

	first := x_WatchEntry()
	require.NoError(t, feeder.Feed(first))

	second := x_WatchEntry()
	second.LineNo = 20 // same path, function, process, thread
	require.NoError(t, feeder.Feed(second))

	third := x_WatchEntry()
	third.TID = 999 // new thread in the same process
	require.NoError(t, feeder.Feed(third))

	assert.Equal(t, 3, x_CountRows(t, db, "trace_entry"))
	assert.Equal(t, 1, x_CountRows(t, db, "path_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "function_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "process"))
	assert.Equal(t, 2, x_CountRows(t, db, "traced_thread"))
	assert.Equal(t, 2, x_CountRows(t, db, "trace_point"))
}

// Backtrace frames store with contiguous depth starting at 0.
func Test_Feeder_BacktraceDepths(t *testing.T) {
	db := x_OpenTestDatabase(t)
	feeder := NewDatabaseFeeder(db)

	e := x_WatchEntry()
	e.Backtrace = []StackFrame{
		{Module: "m", Function: "inner", FunctionOffset: 1, SourceFile: "a.cpp", LineNumber: 1},
		{Module: "m", Function: "middle", FunctionOffset: 2, SourceFile: "b.cpp", LineNumber: 2},
		{Module: "m", Function: "outer", FunctionOffset: 3, SourceFile: "c.cpp", LineNumber: 3},
	}
	require.NoError(t, feeder.Feed(e))

	rows, err := db.Query("SELECT depth, function_name FROM stackframe ORDER BY depth")
	require.NoError(t, err)
	defer rows.Close()

	wantFunctions := []string{"inner", "middle", "outer"}
	depth := 0
	for rows.Next() {
		var d int
		var fn string
		require.NoError(t, rows.Scan(&d, &fn))
		assert.Equal(t, depth, d)
		assert.Equal(t, wantFunctions[depth], fn)
		depth++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 3, depth)
}

// The full daemon ingest round-trip of the watch scenario: the
// serialized wire bytes of a hook-side entry decode and store with
// every dimension resolved.
func Test_Feeder_WireRoundTrip(t *testing.T) {
	hookEntry := &tracer.TraceEntry{
		ProcessName: "hello_instrumented",
		ProcessID:   2524,
		ThreadID:    468,
		Timestamp:   time.Date(2010, 9, 3, 16, 0, 56, 789000000, time.UTC),
		TracePoint: &tracer.TracePoint{
			Type:       tracer.TracePointWatch,
			Verbosity:  1,
			SourceFile: "main.cpp",
			Line:       16,
			Function:   "int main()",
		},
		Variables: tracer.VariableSnapshot{
			{Name: "name", Type: tracer.VariableTypeString, Value: "Max"},
		},
	}

	payload, err := (&tracer.XMLSerializer{}).Serialize(hookEntry)
	require.NoError(t, err)

	decoded, err := DecodeEntry(payload)
	require.NoError(t, err)

	// Timestamps truncate to whole seconds on the wire; empty
	// optionals normalize to empty.
	assert.Equal(t, time.Date(2010, 9, 3, 16, 0, 56, 0, time.UTC), decoded.Timestamp)
	assert.Equal(t, hookEntry.ProcessName, decoded.ProcessName)
	assert.Equal(t, hookEntry.ProcessID, decoded.PID)
	assert.Equal(t, hookEntry.ThreadID, decoded.TID)
	assert.Equal(t, hookEntry.TracePoint.Type, decoded.Type)
	assert.Equal(t, "", decoded.Message)
	assert.Empty(t, decoded.Backtrace)
	require.Len(t, decoded.Variables, 1)
	assert.Equal(t, "Max", decoded.Variables[0].Value)

	db := x_OpenTestDatabase(t)
	require.NoError(t, NewDatabaseFeeder(db).Feed(decoded))

	var tid int
	require.NoError(t, db.QueryRow(
		"SELECT tid FROM traced_thread WHERE process_id = (SELECT id FROM process WHERE name = ? AND pid = ?)",
		"hello_instrumented", 2524).Scan(&tid))
	assert.Equal(t, 468, tid)
}
