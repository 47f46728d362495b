// Package daemon keeps a single agent per config directory and lets other
// invocations find and stop it.
//
// The running agent holds an exclusive flock on asrtt.pid for its lifetime
// and records its pid in the file. The lock, not the file's presence, is
// what marks an agent as running: a file left behind by a crash is stale as
// soon as its owner dies and the kernel drops the lock.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// PIDFileName is the lock file inside the config directory.
const PIDFileName = "asrtt.pid"

var (
	// ErrAlreadyRunning is returned by Acquire when another agent holds the
	// lock.
	ErrAlreadyRunning = errors.New("agent already running")
	// ErrNotRunning is returned when no live agent holds the lock.
	ErrNotRunning = errors.New("agent not running")
)

// LockInfo describes the agent that holds the lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// IsAlive checks if the recorded process still exists.
func (l *LockInfo) IsAlive() bool {
	if l.PID <= 0 {
		return false
	}
	err := unix.Kill(l.PID, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Lock is a held agent lock.
type Lock struct {
	f    *os.File
	path string
	Info LockInfo
}

func pidPath(dir string) string {
	return filepath.Join(dir, PIDFileName)
}

// Acquire takes the agent lock in dir without blocking and records the
// current process in it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating agent directory: %w", err)
	}
	path := pidPath(dir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if info, _ := ReadLockFile(dir); info != nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, info.PID)
			}
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("locking pid file: %w", err)
	}

	info := LockInfo{PID: os.Getpid(), StartedAt: time.Now()}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		unlock(f)
		return nil, err
	}
	if err := f.Truncate(0); err != nil {
		unlock(f)
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		unlock(f)
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return &Lock{f: f, path: path, Info: info}, nil
}

// Release removes the pid file and drops the lock. Safe to call more than
// once.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	// Remove while still locked so a new agent never has its file deleted.
	os.Remove(l.path)
	unlock(l.f)
	l.f = nil
}

func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// ReadLockFile reads the pid file. Returns nil, nil if not found.
func ReadLockFile(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(pidPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing pid file: %w", err)
	}
	return &info, nil
}

// held reports whether some process holds the lock on the pid file.
func held(dir string) bool {
	f, err := os.Open(pidPath(dir))
	if err != nil {
		return false
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return errors.Is(err, unix.EWOULDBLOCK)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}

// Running returns the agent that holds the lock in dir, or ErrNotRunning.
func Running(dir string) (*LockInfo, error) {
	if !held(dir) {
		return nil, ErrNotRunning
	}
	info, err := ReadLockFile(dir)
	if err != nil {
		return nil, err
	}
	if info == nil || !info.IsAlive() {
		return nil, ErrNotRunning
	}
	return info, nil
}
