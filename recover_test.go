package duradb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ondisk/duradb"
	"github.com/ondisk/duradb/internal/duradbtest"
)

// crashAndSnapshot runs a single insert against a store whose FS is wrapped
// in a duradbtest.CrashSimulator armed to fire on the triggerAtSync'th Sync
// call anywhere in the store's lifetime (including the syncs Create itself
// performs), then waits for the trigger and returns the frozen filesystem.
func crashAndSnapshot(t *testing.T, triggerAtSync int, k, v []byte) duradb.FS {
	t.Helper()

	sim := duradbtest.NewCrashSimulator(duradbtest.NewMemFS(), triggerAtSync)
	require.NoError(t, duradb.Create("db.dat", "db.key", "db.log", 1, 0, testKeySize,
		duradb.WithFS(sim.FS()), duradb.WithBuckets(4)))

	s, err := duradb.Open("db.dat", "db.key", "db.log",
		duradb.WithFS(sim.FS()), duradb.WithArenaSize(1), duradb.WithFlushInterval(2*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, s.Insert(k, v))

	require.Eventually(t, func() bool {
		_, fired := sim.Snapshot()
		return fired
	}, 2*time.Second, time.Millisecond, "crash simulator never fired")

	snapFS, fired := sim.Snapshot()
	require.True(t, fired)

	// The live store and its filesystem run on independently of the
	// snapshot; let it finish its epoch and shut down cleanly.
	_ = s.Close()

	return snapFS
}

// TestRecoverRollsBackUncommittedEpoch_AfterKeyWrite crashes right after
// the key file has been mutated but before the log is truncated back to
// its header -- the epoch is not yet committed, so Recover must roll the
// whole insert back rather than leave a half-applied change.
func TestRecoverRollsBackUncommittedEpoch_AfterKeyWrite(t *testing.T) {
	k, v := key(10), []byte("never durable")
	snapFS := crashAndSnapshot(t, 6, k, v)

	require.NoError(t, duradb.Recover("db.dat", "db.key", "db.log", duradb.WithFS(snapFS)))

	exists, err := snapFS.Exists("db.log")
	require.NoError(t, err)
	require.False(t, exists, "Recover must erase the log file once done")

	s, err := duradb.Open("db.dat", "db.key", "db.log", duradb.WithFS(snapFS))
	require.NoError(t, err)
	defer s.Close()

	err = s.Fetch(k, func([]byte) error { return nil })
	require.ErrorIs(t, err, duradb.ErrKeyNotFound)
}

// TestRecoverRollsBackUncommittedEpoch_AfterLogSync crashes right after the
// log's pre-images are durable but before the key file has been touched at
// all. Recovery still rolls the epoch back (the pre-images match the
// current, unmodified key file, and the appended data record is discarded).
func TestRecoverRollsBackUncommittedEpoch_AfterLogSync(t *testing.T) {
	k, v := key(11), []byte("also never durable")
	snapFS := crashAndSnapshot(t, 5, k, v)

	require.NoError(t, duradb.Recover("db.dat", "db.key", "db.log", duradb.WithFS(snapFS)))

	s, err := duradb.Open("db.dat", "db.key", "db.log", duradb.WithFS(snapFS))
	require.NoError(t, err)
	defer s.Close()

	err = s.Fetch(k, func([]byte) error { return nil })
	require.ErrorIs(t, err, duradb.ErrKeyNotFound)
}

// TestRecoverPreservesCommittedEpoch crashes after the epoch has fully
// committed (log truncated back to header and synced) but before Close had
// a chance to erase the log file. Recover must leave the already-committed
// insert intact: an empty log body means there is nothing left to replay,
// not that the last epoch should be undone.
func TestRecoverPreservesCommittedEpoch(t *testing.T) {
	k, v := key(12), []byte("durable before the crash")
	snapFS := crashAndSnapshot(t, 7, k, v)

	require.NoError(t, duradb.Recover("db.dat", "db.key", "db.log", duradb.WithFS(snapFS)))

	s, err := duradb.Open("db.dat", "db.key", "db.log", duradb.WithFS(snapFS))
	require.NoError(t, err)
	defer s.Close()

	var got []byte
	require.NoError(t, s.Fetch(k, func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	}))
	require.Equal(t, v, got)
}

func TestRecoverNoOpWithoutLogFile(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	require.NoError(t, duradb.Recover("db.dat", "db.key", "db.log", duradb.WithFS(fs)))
}

func TestOpenRequiresRecoverWhenLogPresent(t *testing.T) {
	k, v := key(13), []byte("mid-epoch")
	snapFS := crashAndSnapshot(t, 6, k, v)

	_, err := duradb.Open("db.dat", "db.key", "db.log", duradb.WithFS(snapFS))
	require.ErrorIs(t, err, duradb.ErrRecoverNeeded)
}
