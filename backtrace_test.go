package tracer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func x_CaptureBacktrace(g *backtraceGenerator) Backtrace {
	return g.generate(0)
}

func Test_Backtrace_InnermostFrameFirst(t *testing.T) {
	g := newBacktraceGenerator()
	bt := x_CaptureBacktrace(g)

	require.NotEmpty(t, bt)
	assert.Contains(t, bt[0].Function, "x_CaptureBacktrace",
		"depth 0 is the innermost non-tracer frame")
	assert.True(t, strings.HasSuffix(bt[0].SourceFile, "backtrace_test.go"))
	assert.Greater(t, bt[0].LineNumber, 0)
	assert.NotEmpty(t, bt[0].Module)
}

func Test_Backtrace_DepthCapped(t *testing.T) {
	g := newBacktraceGenerator()

	var recurse func(n int) Backtrace
	recurse = func(n int) Backtrace {
		if n == 0 {
			return g.generate(0)
		}
		return recurse(n - 1)
	}

	bt := recurse(2 * maxBacktraceDepth)
	assert.LessOrEqual(t, len(bt), maxBacktraceDepth)
}
