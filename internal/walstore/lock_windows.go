//go:build windows

package walstore

import "os"

// flockExclusiveNonBlock is a no-op on Windows: no lock is taken, and
// a second process opening the same store directory is not refused.
func flockExclusiveNonBlock(f *os.File) error {
	return nil
}

func funlock(f *os.File) error {
	return nil
}
