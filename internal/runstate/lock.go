package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/logging"
)

// Lock is the exclusive ownership marker for a project's orchestrator. One
// process orchestrates per project; everyone else is a polling client.
type Lock struct {
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	lockPath string
	log      *logging.Logger
}

// AcquireLock takes the orchestrator lock in dir. A lock held by a dead
// process is treated as stale and replaced. Returns ErrRunActive when a
// live process holds it.
func AcquireLock(dir, runID string, log *logging.Logger) (*Lock, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}
	lockPath := filepath.Join(dir, lockFileName)

	if existing, err := readLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: run %s held by PID %d on %s",
				errors.ErrRunActive, existing.RunID, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		log.Warn("stale run lock cleaned", "old_pid", existing.PID, "old_run", existing.RunID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		RunID:      runID,
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
		lockPath:   lockPath,
		log:        log,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL closes the race between the staleness check and creation.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := readLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: run %s held by PID %d on %s",
					errors.ErrRunActive, existing.RunID, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrRunActive
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	log.Info("run lock acquired", "run", runID, "pid", lock.PID)
	return lock, nil
}

// Release removes the lock file. Safe to call multiple times; a lock taken
// over by another process is left alone.
func (l *Lock) Release() error {
	if l == nil || l.lockPath == "" {
		return nil
	}

	existing, err := readLock(l.lockPath)
	if err != nil {
		return nil
	}
	if existing.PID != l.PID {
		return nil
	}

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.log.Info("run lock released", "run", l.RunID)
	return nil
}

// ActiveLock returns the live lock in dir, or nil when there is none (or
// the holding process is dead).
func ActiveLock(dir string) *Lock {
	lock, err := readLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil
	}
	if !isProcessAlive(lock.PID) {
		return nil
	}
	return lock
}

func readLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockPath = lockPath
	return &lock, nil
}

// isProcessAlive sends signal 0, which probes process existence without
// affecting it.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
