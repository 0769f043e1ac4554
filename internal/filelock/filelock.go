// Package filelock serializes access to credential files across processes.
// Several CLI invocations may share one storage directory, so every
// read-modify-write of the stored tokens goes through a lock file.
package filelock

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// staleAfter is how old a leftover lock file may be before it is broken.
// A crashed process must not wedge every later writer.
const staleAfter = 30 * time.Second

// FileLock guards a target path with a sibling ".lock" file created with
// O_EXCL. It is safe for concurrent use within a process as well.
type FileLock struct {
	path     string
	file     *os.File
	acquired bool
	mu       sync.Mutex
}

// New creates a lock for the given target path.
func New(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires the lock, waiting up to timeout. Stale lock files left by
// dead processes are removed and retried.
func (fl *FileLock) Lock(timeout time.Duration) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.acquired {
		return fmt.Errorf("lock already acquired")
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err == nil {
			fl.file = file
			fl.acquired = true
			return nil
		}

		if os.IsExist(err) {
			fl.breakIfStale()
			time.Sleep(10 * time.Millisecond)
			continue
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return fmt.Errorf("timeout acquiring lock after %v", timeout)
}

// breakIfStale removes the lock file when its mtime is older than staleAfter.
func (fl *FileLock) breakIfStale() {
	info, err := os.Stat(fl.path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > staleAfter {
		_ = os.Remove(fl.path)
	}
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if !fl.acquired {
		return nil
	}

	var err error
	if fl.file != nil {
		err = fl.file.Close()
		fl.file = nil
	}

	if removeErr := os.Remove(fl.path); removeErr != nil && !os.IsNotExist(removeErr) {
		if err == nil {
			err = fmt.Errorf("failed to remove lock file: %w", removeErr)
		}
	}

	fl.acquired = false
	return err
}

// WithLock runs fn while holding the lock.
func (fl *FileLock) WithLock(timeout time.Duration, fn func() error) error {
	if err := fl.Lock(timeout); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}
