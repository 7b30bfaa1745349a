package tracer

import (
	"os"
	"path/filepath"
	"runtime"
)

// StackFrame is one frame of a captured backtrace.  Depth 0 is the
// innermost frame.
type StackFrame struct {
	Module         string
	Function       string
	FunctionOffset uint64
	SourceFile     string
	LineNumber     int
}

type Backtrace []StackFrame

const maxBacktraceDepth = 64

// backtraceGenerator captures the current call stack.  The module
// name of every frame is the base name of the running executable;
// cross-library attribution is left to a symbolication capability
// outside this package.
type backtraceGenerator struct {
	module string
}

func newBacktraceGenerator() *backtraceGenerator {
	module := "unknown"
	if exe, err := os.Executable(); err == nil {
		module = filepath.Base(exe)
	}
	return &backtraceGenerator{module: module}
}

// generate captures the stack of the calling goroutine.  skip
// counts frames to drop above generate itself: generate(0) starts
// at generate's caller.  Depth 0 of the result is the innermost
// kept frame.
func (g *backtraceGenerator) generate(skip int) Backtrace {
	pcs := make([]uintptr, maxBacktraceDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	bt := make(Backtrace, 0, n)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()

		var offset uint64
		if frame.Func != nil {
			offset = uint64(frame.PC - frame.Func.Entry())
		}
		bt = append(bt, StackFrame{
			Module:         g.module,
			Function:       frame.Function,
			FunctionOffset: offset,
			SourceFile:     frame.File,
			LineNumber:     frame.Line,
		})

		if !more {
			break
		}
	}
	return bt
}
