// Package duradbtest provides an in-memory duradb.FS backed by
// github.com/spf13/afero's MemMapFs, used by the store's tests to run
// full create/insert/close cycles without touching disk, and to
// deterministically simulate crash points by snapshotting the backing
// filesystem mid-operation.
package duradbtest

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/ondisk/duradb"
)

// memFS adapts an afero.Fs to duradb.FS.
type memFS struct {
	fs afero.Fs
}

// NewMemFS returns a duradb.FS backed by a fresh, empty in-memory
// filesystem.
func NewMemFS() duradb.FS {
	return &memFS{fs: afero.NewMemMapFs()}
}

// Snapshot returns a new duradb.FS whose backing store is an independent
// deep copy of fs's current contents, byte for byte. Tests use this to
// freeze a filesystem at a chosen instant -- e.g. mid-flush, right after
// a chosen Sync call (see CrashSimulator) -- and continue exercising the frozen
// copy as if the process had crashed and been restarted against that
// state.
func Snapshot(fs duradb.FS) (duradb.FS, error) {
	m, ok := fs.(*memFS)
	if !ok {
		return nil, fmt.Errorf("duradbtest.Snapshot: not a memFS")
	}
	dst := afero.NewMemMapFs()
	if err := afero.Walk(m.fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := afero.ReadFile(m.fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(dst, path, data, info.Mode())
	}); err != nil {
		return nil, err
	}
	return &memFS{fs: dst}, nil
}

func (m *memFS) Create(path string) (duradb.File, error) {
	if exists, err := afero.Exists(m.fs, path); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("duradbtest: create %s: %w", path, duradb.ErrFileExists)
	}
	f, err := m.fs.Create(path)
	if err != nil {
		return nil, err
	}
	return &memFile{f: f}, nil
}

func (m *memFS) Open(path string) (duradb.File, error) {
	exists, err := afero.Exists(m.fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("duradbtest: open %s: %w", path, duradb.ErrNoFile)
	}
	f, err := m.fs.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &memFile{f: f}, nil
}

func (m *memFS) Exists(path string) (bool, error) {
	return afero.Exists(m.fs, path)
}

func (m *memFS) Erase(path string) error {
	err := m.fs.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// memFile adapts an afero.File to duradb.File. It has no notion of an
// advisory lock, so Store.Open's single-writer check is a no-op against
// this FS -- acceptable for a single-process, single-goroutine-writer
// test harness.
type memFile struct {
	f afero.File
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	return m.f.ReadAt(p, off)
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	return m.f.WriteAt(p, off)
}

func (m *memFile) Size() (int64, error) {
	fi, err := m.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (m *memFile) Sync() error {
	return m.f.Sync()
}

func (m *memFile) Truncate(size int64) error {
	return m.f.Truncate(size)
}

func (m *memFile) Close() error {
	return m.f.Close()
}
