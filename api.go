package tracer

import (
	"runtime"
	"sync"
)

// The functions in this file are the instrumentation surface: the
// Go rendering of the TRACE/DEBUG/ERROR/WATCH macro family.  Each
// call site gets exactly one TracePoint, interned by program
// counter, so the per-site cached filter decision survives across
// hits just like a function-scope static would.

var (
	tracePointsMutex sync.Mutex
	tracePoints      = map[uintptr]*TracePoint{}
)

func callerTracePoint(typ TracePointType, verbosity int, key string) *TracePoint {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return &TracePoint{Type: typ, Verbosity: verbosity, Key: key}
	}

	tracePointsMutex.Lock()
	tp := tracePoints[pc]
	if tp == nil {
		function := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			function = fn.Name()
		}
		tp = &TracePoint{
			Type:       typ,
			Verbosity:  verbosity,
			SourceFile: file,
			Line:       line,
			Function:   function,
			Key:        key,
		}
		tracePoints[pc] = tp
	}
	tracePointsMutex.Unlock()
	return tp
}

// Log records a plain trace entry for this call site.
func Log() {
	ActiveTrace().visit(callerTracePoint(TracePointLog, 1, ""), "", nil)
}

// LogMsg records a trace entry carrying a message.
func LogMsg(msg string) {
	ActiveTrace().visit(callerTracePoint(TracePointLog, 1, ""), msg, nil)
}

// LogKey records a trace entry under a user-defined grouping key.
func LogKey(key string) {
	ActiveTrace().visit(callerTracePoint(TracePointLog, 1, key), "", nil)
}

// LogKeyMsg records a trace entry with both a key and a message.
func LogKeyMsg(key, msg string) {
	ActiveTrace().visit(callerTracePoint(TracePointLog, 1, key), msg, nil)
}

// Debug records a debug entry for this call site.
func Debug() {
	ActiveTrace().visit(callerTracePoint(TracePointDebug, 1, ""), "", nil)
}

func DebugMsg(msg string) {
	ActiveTrace().visit(callerTracePoint(TracePointDebug, 1, ""), msg, nil)
}

func DebugKey(key string) {
	ActiveTrace().visit(callerTracePoint(TracePointDebug, 1, key), "", nil)
}

func DebugKeyMsg(key, msg string) {
	ActiveTrace().visit(callerTracePoint(TracePointDebug, 1, key), msg, nil)
}

// Error records an error entry for this call site.
func Error() {
	ActiveTrace().visit(callerTracePoint(TracePointError, 1, ""), "", nil)
}

func ErrorMsg(msg string) {
	ActiveTrace().visit(callerTracePoint(TracePointError, 1, ""), msg, nil)
}

func ErrorKey(key string) {
	ActiveTrace().visit(callerTracePoint(TracePointError, 1, key), "", nil)
}

func ErrorKeyMsg(key, msg string) {
	ActiveTrace().visit(callerTracePoint(TracePointError, 1, key), msg, nil)
}

// Watch records a watch-point entry carrying the given variables.
// The snapshot is released unserialized when the active
// configuration does not enable variable yielding for this site.
func Watch(vars ...Variable) {
	ActiveTrace().visit(callerTracePoint(TracePointWatch, 1, ""), "", vars)
}

func WatchMsg(msg string, vars ...Variable) {
	ActiveTrace().visit(callerTracePoint(TracePointWatch, 1, ""), msg, vars)
}

func WatchKey(key string, vars ...Variable) {
	ActiveTrace().visit(callerTracePoint(TracePointWatch, 1, key), "", vars)
}

func WatchKeyMsg(key, msg string, vars ...Variable) {
	ActiveTrace().visit(callerTracePoint(TracePointWatch, 1, key), msg, vars)
}
