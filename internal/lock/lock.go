// Package lock provides flock-based advisory file locks: a non-blocking
// instance lock that records the holder PID, and blocking scoped locks used
// around queue read-modify-write cycles.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

type FileLock struct {
	path string
	file *os.File
	// removeOnUnlock is set for instance locks only. Scoped locks keep their
	// file so that waiters never end up holding a lock on an unlinked inode.
	removeOnUnlock bool
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock without blocking and writes the current PID into
// the lock file. The file is removed again by Unlock.
func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := flock(f, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("acquire %s: %w", fl.path, ErrLocked)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	// Write PID to lock file
	if err := f.Truncate(0); err != nil {
		fl.release(f)
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		fl.release(f)
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		fl.release(f)
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		fl.release(f)
		return fmt.Errorf("sync lock file: %w", err)
	}

	fl.file = f
	fl.removeOnUnlock = true
	return nil
}

// Lock blocks until an exclusive lock is held.
func (fl *FileLock) Lock() error {
	return fl.acquire(unix.LOCK_EX)
}

// RLock blocks until a shared lock is held.
func (fl *FileLock) RLock() error {
	return fl.acquire(unix.LOCK_SH)
}

func (fl *FileLock) acquire(how int) error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := flock(f, how); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock %s: %w", fl.path, err)
	}
	fl.file = f
	fl.removeOnUnlock = false
	return nil
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := flock(fl.file, unix.LOCK_UN); err != nil {
		fl.file.Close()
		fl.file = nil
		return fmt.Errorf("release lock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		fl.file = nil
		return fmt.Errorf("close lock file: %w", err)
	}

	if fl.removeOnUnlock {
		os.Remove(fl.path)
	}
	fl.file = nil
	return nil
}

func (fl *FileLock) release(f *os.File) {
	_ = flock(f, unix.LOCK_UN)
	f.Close()
}

// WithLock runs fn while holding an exclusive lock on path. The lock is
// released on every return path, including a panic in fn.
func WithLock(path string, fn func() error) error {
	fl := NewFileLock(path)
	if err := fl.Lock(); err != nil {
		return err
	}
	defer fl.Unlock()
	return fn()
}

// WithRLock is WithLock with a shared lock.
func WithRLock(path string, fn func() error) error {
	fl := NewFileLock(path)
	if err := fl.RLock(); err != nil {
		return err
	}
	defer fl.Unlock()
	return fn()
}

// ReadPID returns the PID recorded by TryLock in the lock file at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", path, err)
	}
	return pid, nil
}

// flock retries on EINTR; the Go runtime's preemption signals can interrupt
// a blocking flock call.
func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
