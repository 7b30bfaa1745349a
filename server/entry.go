// Package server implements the collector daemon side of the
// tracer: a TCP listener accepting framed XML trace entries from
// instrumented processes, an incremental decoder, and a database
// feeder that persists entries into a normalized trace database.
package server

import (
	"time"

	"github.com/froglogic/tracer"
)

// Entry is one decoded trace entry as received on the wire.  It
// mirrors the `<traceentry>` element rather than the hook-side
// TraceEntry: the daemon has no live TracePoint to reference, so
// the site fields travel inline.
type Entry struct {
	PID         uint32
	TID         uint32
	Timestamp   time.Time
	ProcessName string
	Verbosity   int
	Type        tracer.TracePointType
	Path        string
	LineNo      int
	Function    string
	Message     string
	Variables   []Variable
	Backtrace   []StackFrame
}

// Variable is one watched value attached to an entry.
type Variable struct {
	Name  string
	Type  tracer.VariableType
	Value string
}

// StackFrame is one backtrace frame attached to an entry; depth 0
// is innermost and depths are contiguous.
type StackFrame struct {
	Module         string
	Function       string
	FunctionOffset uint64
	SourceFile     string
	LineNumber     int
}
