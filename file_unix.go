//go:build unix

package duradb

import (
	"os"

	"golang.org/x/sys/unix"
)

// datasync establishes durability of prior writes using fdatasync where
// available, avoiding the extra metadata flush a full fsync performs --
// the same trade-off the teacher's internal/datafile/reader.go makes when
// reaching for golang.org/x/sys/unix instead of the plain os package.
func datasync(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return f.Sync()
	}
	return nil
}

// lockExclusive takes a non-blocking advisory write lock on f, returning
// ErrLocked if another process already holds one. This is how duradb
// enforces "exactly one process opens the database in write mode"
// (spec.md §1) rather than relying purely on documentation.
func lockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return ErrLocked
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
