package tracer

import (
	"os"
	"sync"
	"time"
)

// NotificationReason tells a monitor observer what happened to the
// watched file.
type NotificationReason int

const (
	FileModified NotificationReason = iota
	FileCreated
	FileDeleted
)

type fileModificationObserver interface {
	handleFileModification(path string, reason NotificationReason)
}

const monitorPollInterval = 1 * time.Second

// fileModificationMonitor polls a path for create/modify/delete.
// Polling keeps the monitor portable and is cheap at a one-second
// cadence; the inode check catches editors and config management
// tools that replace the file instead of rewriting it.
type fileModificationMonitor struct {
	path     string
	observer fileModificationObserver
	interval time.Duration

	done chan struct{}
	wg   sync.WaitGroup

	exists  bool
	modTime time.Time
	size    int64
	ident   uint64
}

func newFileModificationMonitor(path string, observer fileModificationObserver) *fileModificationMonitor {
	m := &fileModificationMonitor{
		path:     path,
		observer: observer,
		interval: monitorPollInterval,
		done:     make(chan struct{}),
	}
	m.snapshot()
	return m
}

func (m *fileModificationMonitor) start() {
	m.wg.Add(1)
	go m.pollLoop()
}

func (m *fileModificationMonitor) stop() {
	close(m.done)
	m.wg.Wait()
}

func (m *fileModificationMonitor) snapshot() {
	info, err := os.Stat(m.path)
	if err != nil {
		m.exists = false
		m.modTime = time.Time{}
		m.size = 0
		m.ident = 0
		return
	}
	m.exists = true
	m.modTime = info.ModTime()
	m.size = info.Size()
	m.ident, _ = fileIdent(m.path)
}

func (m *fileModificationMonitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *fileModificationMonitor) check() {
	prevExists, prevModTime, prevSize, prevIdent := m.exists, m.modTime, m.size, m.ident
	m.snapshot()

	switch {
	case !prevExists && m.exists:
		m.observer.handleFileModification(m.path, FileCreated)
	case prevExists && !m.exists:
		m.observer.handleFileModification(m.path, FileDeleted)
	case m.exists && (!m.modTime.Equal(prevModTime) || m.size != prevSize || m.ident != prevIdent):
		m.observer.handleFileModification(m.path, FileModified)
	}
}
