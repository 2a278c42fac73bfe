package driver

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is the process-wide advisory file lock that enforces at most one
// agent instance per host, held for the agent's lifetime at a well-known
// path (conventionally /var/run/<agent>.lock).
type Lock struct {
	path string
	file *os.File
}

// NewLock returns a Lock bound to path. It does not acquire anything.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes a non-blocking exclusive flock on the lock file, creating
// it if necessary. Contention is reported as an error naming the path so
// callers can surface an "already running" message.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return fmt.Errorf("already running (lock held on %s)", l.path)
		}
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}

	l.file = f
	return nil
}

// Release drops the flock and closes the lock file. Safe to call even if
// Acquire was never called or failed.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
