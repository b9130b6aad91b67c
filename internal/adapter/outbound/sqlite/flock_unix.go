//go:build !windows

package sqlite

import "syscall"

// flockLock acquires an exclusive, non-blocking file lock (Unix, flock).
func flockLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX|syscall.LOCK_NB)
}

// flockUnlock releases the file lock (Unix, flock).
func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
