package assetpipe

import (
	"os"

	"golang.org/x/sys/unix"
)

// namedMutex is the advisory-file-lock analog of the original protocol's
// OS named mutex: Command serializes control commands across processes
// sharing a pipe identity, Process serializes server-launch attempts so
// two racing clients don't both spawn a server.
type namedMutex struct {
	f *os.File
}

// openNamedMutex opens (creating if needed) the lock file at path. The
// file is never removed; its existence is not meaningful, only the flock
// held on its descriptor is.
func openNamedMutex(path string) (*namedMutex, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &namedMutex{f: f}, nil
}

// Lock blocks until the exclusive advisory lock is acquired.
func (m *namedMutex) Lock() error {
	return unix.Flock(int(m.f.Fd()), unix.LOCK_EX)
}

// TryLock attempts to acquire the lock without blocking, reporting false
// if another process already holds it.
func (m *namedMutex) TryLock() (bool, error) {
	err := unix.Flock(int(m.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases the lock.
func (m *namedMutex) Unlock() error {
	return unix.Flock(int(m.f.Fd()), unix.LOCK_UN)
}

// Close releases the lock and closes the underlying descriptor.
func (m *namedMutex) Close() error {
	_ = m.Unlock()
	return m.f.Close()
}
