package tracer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TracedProcess identifies the process whose trace points are being
// visited.  It is captured once at trace construction.
type TracedProcess struct {
	Name      string
	ID        uint32
	StartTime time.Time
}

// TraceEntry is the dynamic record of one hit of a trace point.  It
// is constructed in the hitting goroutine, handed to the serializer
// and output synchronously, and released afterwards.
type TraceEntry struct {
	ProcessName      string
	ProcessID        uint32
	ProcessStartTime time.Time
	ThreadID         uint32
	Timestamp        time.Time
	TracePoint       *TracePoint
	Message          string
	Variables        VariableSnapshot
	Backtrace        Backtrace
}

// Trace is the per-process trace-point dispatcher.  All exported
// methods are safe for concurrent use.  When the site is inactive,
// Visit returns after the atomic shutdown-flag check, one atomic
// configuration load and one atomic site-state load.
type Trace struct {
	logger  *zap.Logger
	process TracedProcess

	config     atomic.Pointer[Configuration]
	generation atomic.Uint64

	serializerMutex sync.Mutex
	serializer      Serializer

	outputMutex sync.Mutex
	output      Output

	backtraceGen *backtraceGenerator

	monitorMutex sync.Mutex
	monitor      *fileModificationMonitor
	configPath   string

	isShutdown atomic.Bool
	emitErrors atomic.Uint64
}

// NewTrace creates a dispatcher with no configuration installed:
// every trace point resolves to Ignore until ReloadConfiguration
// succeeds.  The logger carries rate-limited self-diagnostics only;
// pass nil to keep the trace silent.
func NewTrace(logger *zap.Logger) *Trace {
	if logger == nil {
		logger = zap.NewNop()
	}

	name := "unknown"
	if exe, err := os.Executable(); err == nil {
		name = filepath.Base(exe)
	}

	return &Trace{
		logger: logger,
		process: TracedProcess{
			Name:      name,
			ID:        uint32(os.Getpid()),
			StartTime: time.Now(),
		},
		serializer:   NewXMLSerializer(),
		backtraceGen: newBacktraceGenerator(),
	}
}

// Process returns the identity of the traced process.
func (t *Trace) Process() TracedProcess { return t.process }

// SetSerializer installs a serializer.  The previous one is
// released once no concurrent emitter holds the serializer mutex.
func (t *Trace) SetSerializer(s Serializer) {
	t.serializerMutex.Lock()
	t.serializer = s
	t.serializerMutex.Unlock()
}

// SetOutput installs an output sink, closing the previous one after
// any in-flight write has finished.
func (t *Trace) SetOutput(o Output) {
	t.outputMutex.Lock()
	old := t.output
	t.output = o
	t.outputMutex.Unlock()

	if old != nil {
		old.Close()
	}
}

// ReloadConfiguration parses the descriptor at path and installs it
// atomically; subsequent Visit calls observe the new generation and
// re-resolve their cached decisions.  On a parse error or a missing
// file the previous configuration stays in force and the error is
// returned.
func (t *Trace) ReloadConfiguration(path string) error {
	if t.isShutdown.Load() {
		return ErrShutdown
	}

	cfg, err := LoadConfiguration(path, t.process.Name)
	if err != nil {
		t.logger.Warn("configuration not replaced", zap.Error(err))
		return err
	}

	if err := t.installConfiguration(cfg, true); err != nil {
		return NewConfigParseError(path, err)
	}

	t.monitorMutex.Lock()
	t.configPath = path
	t.monitorMutex.Unlock()

	return nil
}

// installConfiguration publishes a fully built configuration.  The
// generation stamp is taken here so that every install, from
// whatever source, invalidates all cached site decisions.  With
// applySinks false the currently installed serializer and output
// are kept; the dispatcher embedded in a larger program may manage
// its sinks directly.
func (t *Trace) installConfiguration(cfg *Configuration, applySinks bool) error {
	var serializer Serializer
	var output Output
	if applySinks {
		var err error
		serializer, err = cfg.buildSerializer()
		if err != nil {
			return err
		}
		output, err = cfg.buildOutput()
		if err != nil {
			return err
		}
	}

	cfg.generation = t.generation.Add(1)
	t.config.Store(cfg)
	if applySinks {
		t.SetSerializer(serializer)
		t.SetOutput(output)
	}
	return nil
}

// StartConfigWatcher begins watching the configuration file that
// was last loaded and re-installs it whenever it changes on disk.
// A file that disappears, or one that no longer parses, leaves the
// last-known-good configuration in force.
func (t *Trace) StartConfigWatcher() {
	t.monitorMutex.Lock()
	defer t.monitorMutex.Unlock()

	if t.monitor != nil || t.configPath == "" {
		return
	}
	t.monitor = newFileModificationMonitor(t.configPath, t)
	t.monitor.start()
}

// handleFileModification implements fileModificationObserver.
func (t *Trace) handleFileModification(path string, reason NotificationReason) {
	switch reason {
	case FileDeleted:
		t.logger.Warn("configuration file disappeared, keeping current configuration",
			zap.String("path", path))
	case FileCreated, FileModified:
		if err := t.ReloadConfiguration(path); err != nil {
			t.logger.Warn("configuration reload failed", zap.Error(err))
		}
	}
}

// Visit is the trace-point hit entry point.  It evaluates the
// cached per-site decision (re-resolving against the installed
// configuration when the generation moved), captures ancillary
// data, serializes and emits.  It never returns an error and never
// panics across the instrumentation boundary: tracing is advisory
// and must not alter application behavior.
func (t *Trace) Visit(tp *TracePoint, message string, variables VariableSnapshot) {
	t.visit(tp, message, variables)
}

// visit expects to sit exactly one call below the instrumented
// code's immediate entry point (Visit or one of the package-level
// wrappers) so that a captured backtrace starts at the call site.
func (t *Trace) visit(tp *TracePoint, message string, variables VariableSnapshot) {
	if t.isShutdown.Load() {
		return
	}

	cfg := t.config.Load()
	if cfg == nil {
		return
	}

	st := tp.state.Load()
	if st>>siteGenShift != cfg.generation {
		st = packSiteState(cfg.generation, cfg.actionForTracePoint(tp))
		tp.state.Store(st)
	}

	if st&siteFlagActive == 0 {
		// The snapshot, if any, is released without being
		// serialized.
		return
	}

	entry := &TraceEntry{
		ProcessName:      t.process.Name,
		ProcessID:        t.process.ID,
		ProcessStartTime: t.process.StartTime,
		ThreadID:         currentThreadID(),
		Timestamp:        time.Now(),
		TracePoint:       tp,
		Message:          message,
	}
	if st&siteFlagVariables != 0 {
		entry.Variables = variables
	}
	if st&siteFlagBacktrace != 0 {
		// Drop visit and its wrapper; depth 0 becomes the
		// instrumented call site.
		entry.Backtrace = t.backtraceGen.generate(2)
	}

	t.emit(entry)
}

func (t *Trace) emit(entry *TraceEntry) {
	t.serializerMutex.Lock()
	serializer := t.serializer
	var payload []byte
	var err error
	if serializer != nil {
		payload, err = serializer.Serialize(entry)
	}
	t.serializerMutex.Unlock()

	if err != nil {
		t.reportEmitError(NewSerializerError(err))
		return
	}
	if payload == nil {
		return
	}

	t.outputMutex.Lock()
	output := t.output
	if output != nil {
		err = output.Write(payload)
	}
	t.outputMutex.Unlock()

	if err != nil {
		t.reportEmitError(err)
	}
}

// reportEmitError counts hit-path failures and logs a rate-limited
// sample of them; they are never surfaced to the instrumented code.
func (t *Trace) reportEmitError(err error) {
	n := t.emitErrors.Add(1)
	if n <= 5 || n%100 == 0 {
		t.logger.Warn("trace entry dropped",
			zap.Uint64("failures", n), zap.Error(err))
	}
}

// Shutdown emits a final synthetic entry recording the process
// shutdown, flushes and closes the output, and turns every later
// Visit into a no-op.  It is idempotent.
func (t *Trace) Shutdown() {
	if !t.isShutdown.CompareAndSwap(false, true) {
		return
	}

	t.monitorMutex.Lock()
	if t.monitor != nil {
		t.monitor.stop()
		t.monitor = nil
	}
	t.monitorMutex.Unlock()

	shutdownTime := time.Now()
	entry := &TraceEntry{
		ProcessName:      t.process.Name,
		ProcessID:        t.process.ID,
		ProcessStartTime: t.process.StartTime,
		ThreadID:         currentThreadID(),
		Timestamp:        shutdownTime,
		TracePoint:       &processShutdownTracePoint,
		Message: fmt.Sprintf("process %d shutdown after %s",
			t.process.ID, shutdownTime.Sub(t.process.StartTime).Round(time.Second)),
	}
	t.emit(entry)

	t.outputMutex.Lock()
	output := t.output
	t.output = nil
	t.outputMutex.Unlock()
	if output != nil {
		output.Close()
	}
}

// processShutdownTracePoint is the synthetic site used for the
// final entry emitted by Shutdown.
var processShutdownTracePoint = TracePoint{
	Type:      TracePointNone,
	Verbosity: 0,
	Function:  "<process shutdown>",
}

var (
	activeTraceMutex sync.Mutex
	activeTraceValue atomic.Pointer[Trace]
)

// ActiveTrace returns the process-wide dispatcher, creating and
// configuring it from the default configuration file location on
// first use.
func ActiveTrace() *Trace {
	if t := activeTraceValue.Load(); t != nil {
		return t
	}

	activeTraceMutex.Lock()
	defer activeTraceMutex.Unlock()
	if t := activeTraceValue.Load(); t != nil {
		return t
	}

	t := NewTrace(nil)
	path := ResolveConfigFilePath("")
	if err := t.ReloadConfiguration(path); err == nil {
		t.StartConfigWatcher()
	}
	activeTraceValue.Store(t)
	return t
}

// SetActiveTrace replaces the process-wide dispatcher.  The
// previous one keeps running until shut down by its owner.
func SetActiveTrace(t *Trace) {
	activeTraceMutex.Lock()
	activeTraceValue.Store(t)
	activeTraceMutex.Unlock()
}
