package tracer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FileOutput_AppendAndRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.log")

	out, err := NewFileOutput(path, true)
	require.NoError(t, err)

	require.NoError(t, out.Write([]byte("one\n")))

	// Rotate the file away; the next write must land in a fresh
	// file at the configured path.
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, out.Write([]byte("two\n")))
	require.NoError(t, out.Close())

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(rotated))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(current))
}

func Test_FileOutput_AppendKeepsContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0644))

	out, err := NewFileOutput(path, true)
	require.NoError(t, err)
	require.NoError(t, out.Write([]byte("new\n")))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

// A TCP sink whose peer is absent must not block the caller: the
// writes return promptly and the excess payloads are dropped and
// counted.
func Test_TCPOutput_AbsentPeerDoesNotBlock(t *testing.T) {
	// A port that nothing listens on: bind one, learn it, close
	// it again.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	out := NewTCPOutput("127.0.0.1", addr.Port)
	defer out.Close()

	start := time.Now()
	for i := 0; i < 2*tcpSendQueueDepth; i++ {
		out.Write([]byte("payload"))
	}
	assert.Less(t, time.Since(start), 2*time.Second,
		"writes must never wait on the network")

	deadline := time.Now().Add(5 * time.Second)
	for out.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.NotZero(t, out.Dropped())
}

func Test_TCPOutput_DeliversToPeer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		got <- buf[:n]
	}()

	out := NewTCPOutput("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	defer out.Close()

	require.NoError(t, out.Write([]byte("hello collector")))

	select {
	case data := <-got:
		assert.Equal(t, "hello collector", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("payload never reached the peer")
	}
}

func Test_Backoff_StaysWithinBounds(t *testing.T) {
	b := tcpInitialBackoff
	for i := 0; i < 20; i++ {
		b = nextBackoff(b)
		assert.Greater(t, b, time.Duration(0))
		// Cap plus the 20% jitter allowance.
		assert.LessOrEqual(t, b, tcpMaxBackoff+tcpMaxBackoff/5)
	}
}
