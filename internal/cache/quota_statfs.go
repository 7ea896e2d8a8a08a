//go:build linux || darwin || freebsd

package cache

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// filesystemAvailable reports the bytes available to unprivileged users on
// the filesystem holding path.
func filesystemAvailable(path string) (int64, bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return 0, false
	}
	return int64(st.Bavail) * int64(st.Bsize), true
}
