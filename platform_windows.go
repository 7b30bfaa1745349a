//go:build windows
// +build windows

package tracer

import (
	"os"

	"golang.org/x/sys/windows"
)

// fileIdent has no inode to report on Windows; rotation detection
// falls back to existence checks in the callers.
func fileIdent(path string) (uint64, error) {
	if _, err := os.Lstat(path); err != nil {
		return 0, err
	}
	return 0, nil
}

// currentThreadID returns the OS thread id servicing the calling
// goroutine.  Goroutines migrate between threads, but the id is
// only used to attribute an entry to the thread that emitted it,
// the same way the original hook library reports it.
func currentThreadID() uint32 {
	return windows.GetCurrentThreadId()
}
