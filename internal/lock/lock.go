// Package lock implements the advisory instance lock: one non-blocking
// exclusive flock per (role, room, relay) tuple, held for the lifetime of
// that role so overlapping launches of the same role fail fast instead of
// fighting over the same clipboard or relay room.
package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock. Per the propagation rule, this is fatal for the
// attempting process but benign for the system: the other instance is
// authoritative and the caller should exit 0.
var ErrAlreadyRunning = errors.New("lock: another instance is already running")

// Lock is a held advisory file lock. Release it when the role exits.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if needed) the file at path and takes a
// non-blocking exclusive flock on it. If the lock is already held,
// Acquire returns ErrAlreadyRunning.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
