package tracer

import (
	"sync/atomic"
)

// TracePointType classifies an instrumentation site.  The numeric
// values are part of the wire format (the `<type>` element) and of
// the trace database (`trace_point.type`), so they must not change.
type TracePointType int

const (
	TracePointNone TracePointType = iota
	TracePointError
	TracePointDebug
	TracePointLog
	TracePointWatch
)

func (t TracePointType) String() string {
	switch t {
	case TracePointNone:
		return "None"
	case TracePointError:
		return "Error"
	case TracePointDebug:
		return "Debug"
	case TracePointLog:
		return "Log"
	case TracePointWatch:
		return "Watch"
	default:
		return "None"
	}
}

// tracePointTypeByName maps the lowercase names accepted in
// `<typefilter>` elements back to type values.
func tracePointTypeByName(name string) (TracePointType, bool) {
	switch name {
	case "error":
		return TracePointError, true
	case "debug":
		return TracePointDebug, true
	case "log":
		return TracePointLog, true
	case "watch":
		return TracePointWatch, true
	default:
		return TracePointNone, false
	}
}

// Actions that a trace-point set can select for a matching site.
// YieldBacktrace and YieldVariables imply Log.
const (
	ActionIgnore         uint32 = 0x0000
	ActionLog            uint32 = 0x0001
	ActionYieldBacktrace uint32 = ActionLog | 0x0100
	ActionYieldVariables uint32 = ActionLog | 0x0200
)

// TracePoint is the static descriptor for one instrumentation site.
// One TracePoint is allocated per call site (interned by program
// counter, see api.go) and lives until process exit.
//
// The cached filter decision is packed into a single atomic word:
// the upper bits hold the configuration generation the decision was
// computed against, the low three bits hold the active/backtrace/
// variable flags.  Concurrent hits may race on re-resolution after a
// reload, but every writer computes the same value for the same
// generation, so the site converges without per-site locking.
type TracePoint struct {
	Type       TracePointType
	Verbosity  int
	SourceFile string
	Line       int
	Function   string
	Key        string

	state atomic.Uint64
}

const (
	siteFlagActive    uint64 = 0x4
	siteFlagBacktrace uint64 = 0x2
	siteFlagVariables uint64 = 0x1
	siteGenShift             = 3
)

func packSiteState(generation uint64, actions uint32) uint64 {
	var st uint64
	if actions&ActionLog != 0 {
		st |= siteFlagActive
	}
	if actions&ActionYieldBacktrace == ActionYieldBacktrace {
		st |= siteFlagBacktrace
	}
	if actions&ActionYieldVariables == ActionYieldVariables {
		st |= siteFlagVariables
	}
	return generation<<siteGenShift | st
}

// TracePointSet pairs a filter with the actions to take for
// matching trace points.  The first set whose filter matches a
// site decides; later sets are not consulted.
type TracePointSet struct {
	Filter  Filter
	Actions uint32
}

func (s *TracePointSet) actionForTracePoint(tp *TracePoint) (uint32, bool) {
	if s.Filter != nil && !s.Filter.Matches(tp) {
		return ActionIgnore, false
	}
	return s.Actions, true
}
