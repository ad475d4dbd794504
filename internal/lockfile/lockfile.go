// Package lockfile keeps two citabot processes from sharing one state directory.
//
// The SQLite database and the whatsmeow device session both live in the state
// directory and neither tolerates a second writer, so the process holds an
// exclusive lock file for its lifetime.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created inside the state directory.
const LockFileName = "citabot.lock"

// ErrHeld is matched by errors returned when a live process owns the lock.
var ErrHeld = errors.New("state directory is locked by another process")

// Lock is an acquired lock file. Release it on shutdown.
type Lock struct {
	path string
	file *os.File
}

// HeldError describes who holds the lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("citabot is already running with pid %d (lock %s); stop it or choose another -state-dir", e.PID, e.Path)
	}
	return fmt.Sprintf("citabot is already running (lock %s); stop it or choose another -state-dir", e.Path)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// Acquire creates the lock file in stateDir. A lock left behind by a process
// that no longer runs is removed and acquisition retried once.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, err := fmt.Fprintf(f, "pid=%d\n", os.Getpid()); err != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("write lock %s: %w", path, err)
			}
			slog.Debug("lockfile.Acquire: lock acquired", "path", path, "pid", os.Getpid())
			return &Lock{path: path, file: f}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("open lock %s: %w", path, err)
		}

		pid := readPID(path)
		if pid > 0 && processAlive(pid) {
			return nil, &HeldError{Path: path, PID: pid}
		}
		slog.Warn("lockfile.Acquire: removing stale lock", "path", path, "pid", pid)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, &HeldError{Path: path}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release closes and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.file.Close()
	l.file = nil
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock %s: %w", l.path, err)
	}
	slog.Debug("Lock.Release: lock released", "path", l.path)
	return nil
}

// readPID returns the pid recorded in the lock file, or 0 when unreadable.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid="); ok {
			pid, err := strconv.Atoi(v)
			if err == nil {
				return pid
			}
		}
	}
	return 0
}

// processAlive sends signal 0 to pid.
func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
