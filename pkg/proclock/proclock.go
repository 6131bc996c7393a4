package proclock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir is where POSIX shared memory objects appear on Linux.
const shmDir = "/dev/shm"

// pidWidth is the fixed width of the PID written to the lock, zero padded
// so partial reads of a stale lock are unambiguous.
const pidWidth = 9

// Lock is a singleton lock keyed by process name, backed by a POSIX
// shared-memory object holding the owner's PID.
type Lock struct {
	name string
	path string
}

// New creates a lock handle for the given process name. No filesystem
// activity happens until Acquire.
func New(name string) *Lock {
	return &Lock{
		name: name,
		path: filepath.Join(shmDir, name),
	}
}

// Path returns the shared-memory path backing the lock.
func (l *Lock) Path() string {
	return l.path
}

// OwnerPID reads the lock and returns the PID of a live owner, or 0 when
// the lock is absent or stale. A stale lock (dead PID or garbage contents)
// is unlinked on the way out.
func (l *Lock) OwnerPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read lock %s: %w", l.path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid < 2 {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to remove invalid lock %s: %w", l.path, err)
		}
		return 0, nil
	}

	// Signal 0 probes for existence without delivering anything.
	if err := unix.Kill(pid, 0); err == nil || err == unix.EPERM {
		return pid, nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to remove stale lock %s: %w", l.path, err)
	}
	return 0, nil
}

// Acquire attempts to take ownership of the lock. It returns owned=true
// when this process is now the owner, or owned=false with the live owner's
// PID when another instance holds the lock.
func (l *Lock) Acquire() (owned bool, ownerPID int, err error) {
	if pid, err := l.OwnerPID(); err != nil {
		return false, 0, err
	} else if pid != 0 {
		return false, pid, nil
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		// Lost the race to another starting instance.
		if os.IsExist(err) {
			pid, perr := l.OwnerPID()
			if perr != nil {
				return false, 0, perr
			}
			return false, pid, nil
		}
		return false, 0, fmt.Errorf("failed to create lock %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%0*d", pidWidth, os.Getpid()); err != nil {
		os.Remove(l.path)
		return false, 0, fmt.Errorf("failed to write pid to lock %s: %w", l.path, err)
	}

	return true, 0, nil
}

// Release unlinks the lock. Only the owner should call this, on exit.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// KillRunning sends graceful termination to the locked instance. The lock
// is left in place; the owner unlinks it when it exits. Returns the PID
// signaled, or 0 when no live owner exists.
func (l *Lock) KillRunning() (int, error) {
	pid, err := l.OwnerPID()
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}
	if err := unix.Kill(pid, unix.SIGQUIT); err != nil {
		return 0, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return pid, nil
}
