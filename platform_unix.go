//go:build !windows
// +build !windows

package tracer

import (
	"golang.org/x/sys/unix"
)

// fileIdent returns the inode of the file at path.  The config
// watcher and the file sink compare idents to detect the file
// being replaced behind their back.
func fileIdent(path string) (uint64, error) {
	var stat unix.Stat_t
	err := unix.Lstat(path, &stat)
	if err != nil {
		return 0, err
	}
	return stat.Ino, nil
}
