//go:build !windows

package walstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockExclusiveNonBlock acquires a non-blocking exclusive advisory
// lock on f. A store directory admits a single logical writer; a
// second process opening the same directory fails fast instead of
// interleaving WAL frames.
func flockExclusiveNonBlock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLockBusy
		}
		return err
	}
	return nil
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
