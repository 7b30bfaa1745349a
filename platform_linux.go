//go:build linux
// +build linux

package tracer

import (
	"golang.org/x/sys/unix"
)

// currentThreadID returns the kernel thread id servicing the
// calling goroutine.  Goroutines migrate between threads, but the
// id is only used to attribute an entry to the thread that emitted
// it, the same way the original hook library reports it.
func currentThreadID() uint32 {
	return uint32(unix.Gettid())
}
