package movelog

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockFileName is the advisory-lock file guarding a game's log directory
// against a second writer process (spec §5 "exclusive directory lock per
// <storage>/<gameId> for writing").
const lockFileName = "LOCK"

// gameLock wraps an exclusive, non-blocking flock(2) on dir/LOCK. Two
// in-process goroutines sharing one *Log never contend for it -- Log
// already serializes Append under its own mutex -- this guards against a
// second OS process pointed at the same directory, something an
// in-process mutex cannot see.
type gameLock struct {
	file *os.File
}

// acquireGameLock opens (creating if absent) dir/LOCK and takes an
// exclusive, non-blocking advisory lock on it. It fails fast rather than
// blocking so a second `pearsgambitd` accidentally pointed at an
// already-open game directory gets a clear error instead of hanging.
func acquireGameLock(dir string) (*gameLock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("game directory %s is already locked by another process: %w", dir, err)
	}
	return &gameLock{file: f}, nil
}

// release drops the advisory lock and closes the underlying file. The
// lock file itself is left on disk; flock is released on close regardless,
// and leaving it behind avoids a delete/recreate race with a process
// about to acquire it.
func (l *gameLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	return err
}
