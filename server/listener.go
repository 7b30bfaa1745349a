package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server accepts TCP connections from instrumented processes and
// pumps their framed entry streams through the decoder into the
// feeder.  One worker goroutine runs per connection; the feeder
// serializes the actual database writes.
type Server struct {
	Logger *zap.Logger
	Feeder *DatabaseFeeder

	// OnEntry, when set, runs after each successfully stored
	// entry.  The trace review GUI subscribes here; tests use it
	// as a cheap tap.
	OnEntry func(e *Entry)

	port     int
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	mutex      sync.Mutex
	isShutdown bool

	workers sync.WaitGroup

	shutdownGrace time.Duration
}

// NewServer wires a listener on the given port.  Port 0 asks the
// OS for an ephemeral port (used by tests); the daemon passes
// DefaultPort unless configured otherwise.
func NewServer(logger *zap.Logger, feeder *DatabaseFeeder, port int, shutdownGrace time.Duration) *Server {
	if shutdownGrace == 0 {
		shutdownGrace = 3 * time.Second
	}
	return &Server{
		Logger:        logger,
		Feeder:        feeder,
		port:          port,
		shutdownGrace: shutdownGrace,
	}
}

// DefaultPort is the TCP port instrumented processes send to when
// their configuration does not name one.
const DefaultPort = 12382

// Start binds the listener port and launches the accept loop.  A
// bind failure is returned to the caller rather than retried; the
// daemon treats it as fatal.
func (s *Server) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("could not bind listener port %d: %w", s.port, err)
	}
	s.listener = l

	s.Logger.Info("listening for trace entries",
		zap.String("address", l.Addr().String()))

	go s.listenLoop()
	return nil
}

// Addr returns the bound listener address; valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting connections, then gives in-flight
// workers a grace period to finish their current transactions.
func (s *Server) Shutdown() {
	s.mutex.Lock()
	if s.isShutdown {
		s.mutex.Unlock()
		return
	}
	s.isShutdown = true
	s.mutex.Unlock()

	s.listener.Close()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.Logger.Warn("shutdown grace period expired with workers still running")
	}
}

// Listen for incoming connections and dispatch each to a worker
// goroutine.
func (s *Server) listenLoop() {
	var wg sync.WaitGroup
	var workerID uint64

	doneListening := make(chan bool, 1)

	// Subordinate goroutine: watch for cancellation and interrupt
	// the blocking Accept by closing the listener.  Without the
	// doneListening escape hatch it would leak when the loop ends
	// for other reasons.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-s.ctx.Done():
			s.listener.Close()
		case <-doneListening:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err == nil {
			workerID++
			s.workers.Add(1)
			go s.worker(conn, workerID)
			continue
		}

		s.mutex.Lock()
		shutdown := s.isShutdown
		s.mutex.Unlock()
		if shutdown || errors.Is(err, net.ErrClosed) {
			break
		}

		// Transient accept errors happen; the client may have
		// hung up before we serviced it.
		s.Logger.Error("accept failed", zap.Error(err))
	}

	// Must not block: the subordinate may already be gone when
	// cancellation closed the listener.
	doneListening <- true

	wg.Wait()
}

const readChunkSize = 1 << 16

func (s *Server) worker(conn net.Conn, workerID uint64) {
	defer s.workers.Done()
	defer conn.Close()

	logger := s.Logger.With(
		zap.Uint64("worker", workerID),
		zap.String("peer", conn.RemoteAddr().String()))
	logger.Debug("client connected")

	var wg sync.WaitGroup
	doneReading := make(chan bool, 1)

	// Subordinate goroutine: force-close the connection on
	// shutdown so the blocking Read returns instead of keeping
	// the worker (and the client's send buffer) stuck.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-doneReading:
		}
	}()

	scanner := &frameScanner{}
	buf := make([]byte, readChunkSize)
	var received, stored uint64

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range scanner.push(buf[:n]) {
				received++
				if s.handleFrame(logger, frame) {
					stored++
				}
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logger.Error("read failed", zap.Error(err))
			}
			break
		}
	}

	// The trailing slice is a complete entry once the client has
	// hung up.
	if tail := scanner.finish(); tail != nil {
		received++
		if s.handleFrame(logger, tail) {
			stored++
		}
	}

	doneReading <- true

	logger.Debug("client disconnected",
		zap.Uint64("received", received), zap.Uint64("stored", stored))

	wg.Wait()
}

// handleFrame decodes and stores one framed entry.  Both decode
// and storage failures are contained to the single entry.
func (s *Server) handleFrame(logger *zap.Logger, frame []byte) bool {
	entry, err := DecodeEntry(frame)
	if err != nil {
		logger.Error("dropping undecodable entry", zap.Error(err))
		return false
	}

	if err := s.Feeder.Feed(entry); err != nil {
		logger.Error("dropping unstorable entry", zap.Error(err))
		return false
	}

	if s.OnEntry != nil {
		s.OnEntry(entry)
	}
	return true
}
