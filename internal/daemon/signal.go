package daemon

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SignalStop asks the running agent to shut down with SIGTERM.
func SignalStop(dir string) (*LockInfo, error) {
	info, err := Running(dir)
	if err != nil {
		return nil, err
	}
	if err := unix.Kill(info.PID, unix.SIGTERM); err != nil {
		return nil, fmt.Errorf("signalling pid %d: %w", info.PID, err)
	}
	return info, nil
}

// WaitStopped polls until no agent holds the lock or timeout elapses.
func WaitStopped(dir string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if !held(dir) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agent did not stop within %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
