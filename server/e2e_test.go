package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/froglogic/tracer"
)

// The whole pipe: dispatcher -> XML serializer -> TCP sink ->
// listener -> decoder -> feeder -> SQLite.
func Test_EndToEnd_HookToDatabase(t *testing.T) {
	srv, received := x_StartTestServer(t)
	port := srv.Addr().(*net.TCPAddr).Port

	exe, err := os.Executable()
	require.NoError(t, err)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tracelib.xml")
	cfgXML := `<tracelibConfiguration><process><name>` + filepath.Base(exe) + `</name>
  <serializer type="xml"/>
  <output type="stdout"/>
  <tracepointset action="yieldVariables">
    <matchany><pathfilter matchingmode="wildcard">*</pathfilter></matchany>
  </tracepointset>
</process></tracelibConfiguration>`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgXML), 0644))

	tr := tracer.NewTrace(nil)
	require.NoError(t, tr.ReloadConfiguration(cfgPath))
	tr.SetOutput(tracer.NewTCPOutput("127.0.0.1", port))

	// Let the sink's background connector reach the listener
	// before the first hit so nothing sits queued at shutdown.
	time.Sleep(200 * time.Millisecond)

	tp := &tracer.TracePoint{Type: tracer.TracePointWatch, Verbosity: 1,
		SourceFile: "main.cpp", Line: 16, Function: "int main()"}
	tr.Visit(tp, "watch hit", tracer.VariableSnapshot{tracer.Var("name", "Max")})
	tr.Visit(tp, "watch hit again", tracer.VariableSnapshot{tracer.Var("name", "Moritz")})

	// Shutdown flushes the sink and closes the connection; the
	// daemon stores the tail at EOF.  Two watch hits plus the
	// synthetic shutdown entry.
	tr.Shutdown()

	entries := x_CollectEntries(t, received, 3)
	assert.Equal(t, "watch hit", entries[0].Message)
	require.Len(t, entries[0].Variables, 1)
	assert.Equal(t, "Max", entries[0].Variables[0].Value)
	assert.Equal(t, "Moritz", entries[1].Variables[0].Value)
	assert.Equal(t, tracer.TracePointNone, entries[2].Type)

	db := srv.Feeder.db
	assert.Equal(t, 3, x_CountRows(t, db, "trace_entry"))
	assert.Equal(t, 1, x_CountRows(t, db, "process"))
	assert.Equal(t, 2, x_CountRows(t, db, "variable"))
}
