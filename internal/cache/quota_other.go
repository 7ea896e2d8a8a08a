//go:build !linux && !darwin && !freebsd

package cache

func filesystemAvailable(string) (int64, bool) {
	return 0, false
}
