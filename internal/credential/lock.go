package credential

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile acquires an exclusive lock on f. The returned function releases it.
func lockFile(f *os.File) (unlock func(), err error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}, nil
}
