package tracer

import (
	"bufio"
	"math/rand"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Output delivers serialized trace entries.  Writes happen under
// the dispatcher's output mutex, one payload at a time.
type Output interface {
	Write(payload []byte) error
	Close() error
}

// StdoutOutput writes payloads to standard output through a line
// buffer.
type StdoutOutput struct {
	w *bufio.Writer
}

func NewStdoutOutput() *StdoutOutput {
	return &StdoutOutput{w: bufio.NewWriter(os.Stdout)}
}

func (o *StdoutOutput) Write(payload []byte) error {
	if _, err := o.w.Write(payload); err != nil {
		return NewSinkWriteError("stdout", err)
	}
	return o.w.Flush()
}

func (o *StdoutOutput) Close() error {
	return o.w.Flush()
}

// FileOutput appends payloads to a file.  Before each write it
// checks whether the file on disk is still the one it opened; when
// log rotation moved it aside, the path is reopened.  The check is
// best-effort: when the path is missing or holds a different inode
// it is reopened, and if reopening fails the current handle keeps
// being used.
type FileOutput struct {
	path   string
	append bool
	file   *os.File
	ident  uint64
}

func NewFileOutput(path string, appendMode bool) (*FileOutput, error) {
	o := &FileOutput{path: path, append: appendMode}
	if err := o.open(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *FileOutput) open() error {
	flags := os.O_CREATE | os.O_WRONLY
	if o.append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(o.path, flags, 0644)
	if err != nil {
		return NewSinkWriteError("file", err)
	}
	o.file = f
	o.ident, _ = fileIdent(o.path)
	return nil
}

func (o *FileOutput) Write(payload []byte) error {
	if ident, err := fileIdent(o.path); err != nil || (o.ident != 0 && ident != o.ident) {
		// Rotated or deleted underneath us.  Reopen, and on
		// failure keep writing to the old handle.
		old := o.file
		if openErr := o.open(); openErr == nil {
			old.Close()
		} else {
			o.file = old
		}
	}

	if _, err := o.file.Write(payload); err != nil {
		return NewSinkWriteError("file", err)
	}
	return nil
}

func (o *FileOutput) Close() error {
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

// DefaultPort is the TCP port the collector daemon listens on when
// the configuration does not name one.
const DefaultPort = 12382

const (
	tcpInitialBackoff = 100 * time.Millisecond
	tcpMaxBackoff     = 30 * time.Second
	tcpSendQueueDepth = 1024
	tcpDialTimeout    = 5 * time.Second
)

// TCPOutput ships payloads to the collector daemon.  The hit path
// only enqueues onto a bounded channel; a background goroutine owns
// the connection, reconnecting with exponential backoff (plus ±20%
// jitter) after a disconnect.  Payloads arriving while disconnected
// or while the queue is full are dropped and counted; Write never
// blocks on the network.
type TCPOutput struct {
	address string

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	dropped   uint64
	connected bool
	lastErr   error
}

func NewTCPOutput(host string, port int) *TCPOutput {
	if port == 0 {
		port = DefaultPort
	}
	o := &TCPOutput{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		queue:   make(chan []byte, tcpSendQueueDepth),
		done:    make(chan struct{}),
	}
	o.wg.Add(1)
	go o.sendLoop()
	return o
}

func (o *TCPOutput) Write(payload []byte) error {
	// The send loop reuses nothing from the caller; copy so the
	// dispatcher may recycle its serialization buffer.
	p := make([]byte, len(payload))
	copy(p, payload)

	select {
	case o.queue <- p:
		return nil
	default:
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		return NewSinkWriteError("tcp", nil)
	}
}

// Dropped reports how many payloads were discarded because the peer
// was unreachable or the send queue was full.
func (o *TCPOutput) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Err returns the most recent connect failure, or nil while the
// connection is healthy.  Connect failures are transient: the send
// loop keeps retrying with backoff regardless.
func (o *TCPOutput) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.connected {
		return nil
	}
	return o.lastErr
}

func (o *TCPOutput) Close() error {
	close(o.done)
	o.wg.Wait()
	return nil
}

func (o *TCPOutput) sendLoop() {
	defer o.wg.Done()

	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	backoff := tcpInitialBackoff
	for {
		if conn == nil {
			c, err := net.DialTimeout("tcp", o.address, tcpDialTimeout)
			if err != nil {
				o.mu.Lock()
				o.lastErr = NewSinkConnectError(o.address, err)
				o.mu.Unlock()
				o.drainWhileWaiting(backoff)
				backoff = nextBackoff(backoff)
				select {
				case <-o.done:
					return
				default:
					continue
				}
			}
			conn = c
			backoff = tcpInitialBackoff
			o.setConnected(true)
		}

		select {
		case payload := <-o.queue:
			if _, err := conn.Write(payload); err != nil {
				conn.Close()
				conn = nil
				o.setConnected(false)
			}
		case <-o.done:
			// Flush whatever is already queued, then leave.
			for {
				select {
				case payload := <-o.queue:
					if _, err := conn.Write(payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// drainWhileWaiting sleeps for the backoff interval, discarding
// queued payloads so producers see a full queue for as short a time
// as possible.
func (o *TCPOutput) drainWhileWaiting(backoff time.Duration) {
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-o.queue:
			o.mu.Lock()
			o.dropped++
			o.mu.Unlock()
		case <-timer.C:
			return
		case <-o.done:
			return
		}
	}
}

func (o *TCPOutput) setConnected(up bool) {
	o.mu.Lock()
	o.connected = up
	if up {
		o.lastErr = nil
	}
	o.mu.Unlock()
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > tcpMaxBackoff {
		next = tcpMaxBackoff
	}
	// ±20% jitter keeps a fleet of restarting processes from
	// reconnecting in lockstep.
	jitter := time.Duration(rand.Int63n(int64(next)*2/5+1)) - next/5
	return next + jitter
}
