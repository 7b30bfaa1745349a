package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func x_StartTestServer(t *testing.T) (*Server, chan *Entry) {
	db := x_OpenTestDatabase(t)

	received := make(chan *Entry, 16)
	srv := NewServer(zaptest.NewLogger(t), NewDatabaseFeeder(db), 0, time.Second)
	srv.OnEntry = func(e *Entry) { received <- e }

	require.NoError(t, srv.Start())
	t.Cleanup(srv.Shutdown)

	return srv, received
}

func x_CollectEntries(t *testing.T, ch chan *Entry, n int) []*Entry {
	var entries []*Entry
	deadline := time.After(5 * time.Second)
	for len(entries) < n {
		select {
		case e := <-ch:
			entries = append(entries, e)
		case <-deadline:
			t.Fatalf("timed out waiting for %d entries, got %d", n, len(entries))
		}
	}
	return entries
}

// Two entries concatenated into one TCP write decode independently
// and share their dimension rows.
func Test_Listener_TwoEntriesOneWrite(t *testing.T) {
	srv, received := x_StartTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	one := `<traceentry pid="2524" tid="468" time="1283529656">` +
		`<processname>hello_instrumented</processname>` +
		`<verbosity>1</verbosity><type>3</type>` +
		`<location lineno="8">main.cpp</location>` +
		`<function>int main()</function>` +
		`<message>main() entered</message></traceentry>`
	two := `<traceentry pid="2524" tid="468" time="1283529657">` +
		`<processname>hello_instrumented</processname>` +
		`<verbosity>1</verbosity><type>4</type>` +
		`<location lineno="16">main.cpp</location>` +
		`<function>int main()</function><message></message>` +
		`<variables><variable name="name" type="string">Max</variable></variables>` +
		`</traceentry>`

	_, err = conn.Write([]byte(one + two))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	entries := x_CollectEntries(t, received, 2)
	assert.Equal(t, "main() entered", entries[0].Message)
	assert.Len(t, entries[1].Variables, 1)

	db := srv.Feeder.db
	assert.Equal(t, 2, x_CountRows(t, db, "trace_entry"))
	assert.Equal(t, 1, x_CountRows(t, db, "path_name"))
	assert.Equal(t, 1, x_CountRows(t, db, "process"))
	assert.Equal(t, 1, x_CountRows(t, db, "traced_thread"))
	assert.Equal(t, 2, x_CountRows(t, db, "trace_point"))
}

// A malformed slice costs one entry, never the connection.
func Test_Listener_BadEntryDoesNotAbortConnection(t *testing.T) {
	srv, received := x_StartTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	good := `<traceentry pid="1" tid="1" time="1"><processname>p</processname></traceentry>`
	bad := `<traceentry pid="1" tid="1" time="1"><unclosed></traceentry>`

	_, err = conn.Write([]byte(bad + good))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	entries := x_CollectEntries(t, received, 1)
	assert.Equal(t, "p", entries[0].ProcessName)
	assert.Equal(t, 1, x_CountRows(t, srv.Feeder.db, "trace_entry"))
}

// Concurrent client connections all land in the store.
func Test_Listener_ConcurrentClients(t *testing.T) {
	srv, received := x_StartTestServer(t)

	const clients = 4
	for i := 0; i < clients; i++ {
		go func(n int) {
			conn, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				return
			}
			defer conn.Close()
			entry := `<traceentry pid="` + string(rune('1'+n)) + `" tid="1" time="1">` +
				`<processname>client</processname></traceentry>`
			conn.Write([]byte(entry))
		}(i)
	}

	x_CollectEntries(t, received, clients)
	assert.Equal(t, clients, x_CountRows(t, srv.Feeder.db, "trace_entry"))
	assert.Equal(t, clients, x_CountRows(t, srv.Feeder.db, "process"))
}

func Test_Listener_ShutdownStopsAccepting(t *testing.T) {
	srv, _ := x_StartTestServer(t)
	addr := srv.Addr().String()

	srv.Shutdown()
	srv.Shutdown() // idempotent

	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		// The OS may still complete the handshake; the read
		// side must be closed immediately though.
		conn.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1)
		_, rerr := conn.Read(buf)
		assert.Error(t, rerr)
		conn.Close()
	}
}
