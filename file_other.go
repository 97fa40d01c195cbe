//go:build !unix

package duradb

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}

func lockExclusive(f *os.File) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
