package duradbtest

import (
	"github.com/ondisk/duradb"
)

// CrashSimulator wraps a duradb.FS and counts every Sync call across
// every file opened through it. When the count reaches triggerAtSync, it
// captures a Snapshot of the whole filesystem as it stood at that
// instant -- simulating a process crash that landed exactly between two
// fsync calls in the flusher's commit protocol (spec.md §4.4.5). Tests
// use the captured snapshot to exercise Recover against a filesystem
// frozen mid-epoch, while the original Store (and its underlying FS)
// keeps running undisturbed.
type CrashSimulator struct {
	fs        duradb.FS
	triggerAt int
	syncCount int
	snapshot  duradb.FS
	hasFired  bool
}

// NewCrashSimulator returns a CrashSimulator over fs (typically one
// returned by NewMemFS) that fires after the triggerAtSync'th Sync call
// made through any file it hands out.
func NewCrashSimulator(fs duradb.FS, triggerAtSync int) *CrashSimulator {
	return &CrashSimulator{fs: fs, triggerAt: triggerAtSync}
}

// FS returns the wrapped duradb.FS to pass to Create/Open via WithFS.
func (c *CrashSimulator) FS() duradb.FS {
	return c
}

// Snapshot returns the filesystem state captured at the trigger point,
// and whether the trigger has fired yet.
func (c *CrashSimulator) Snapshot() (duradb.FS, bool) {
	return c.snapshot, c.hasFired
}

func (c *CrashSimulator) Create(path string) (duradb.File, error) {
	f, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}
	return &faultFile{f: f, sim: c}, nil
}

func (c *CrashSimulator) Open(path string) (duradb.File, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}
	return &faultFile{f: f, sim: c}, nil
}

func (c *CrashSimulator) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

func (c *CrashSimulator) Erase(path string) error {
	return c.fs.Erase(path)
}

func (c *CrashSimulator) recordSync() {
	if c.hasFired {
		return
	}
	c.syncCount++
	if c.syncCount == c.triggerAt {
		if snap, err := Snapshot(c.fs); err == nil {
			c.snapshot = snap
		}
		c.hasFired = true
	}
}

// faultFile wraps a duradb.File, routing Sync through the owning
// CrashSimulator so it can count and, at the right moment, snapshot.
type faultFile struct {
	f   duradb.File
	sim *CrashSimulator
}

func (f *faultFile) ReadAt(p []byte, off int64) (int, error)  { return f.f.ReadAt(p, off) }
func (f *faultFile) WriteAt(p []byte, off int64) (int, error) { return f.f.WriteAt(p, off) }
func (f *faultFile) Size() (int64, error)                     { return f.f.Size() }
func (f *faultFile) Truncate(size int64) error                { return f.f.Truncate(size) }
func (f *faultFile) Close() error                             { return f.f.Close() }

func (f *faultFile) Sync() error {
	if err := f.f.Sync(); err != nil {
		return err
	}
	f.sim.recordSync()
	return nil
}
