package duradb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ondisk/duradb"
	"github.com/ondisk/duradb/internal/duradbtest"
)

const testKeySize = 8

func key(n int) []byte {
	b := make([]byte, testKeySize)
	for i := range b {
		b[i] = byte(n >> (8 * i))
	}
	return b
}

func mustCreate(t *testing.T, fs duradb.FS, opts ...duradb.Option) {
	t.Helper()
	opts = append([]duradb.Option{duradb.WithFS(fs)}, opts...)
	require.NoError(t, duradb.Create("db.dat", "db.key", "db.log", 1, 0, testKeySize, opts...))
}

func mustOpen(t *testing.T, fs duradb.FS, opts ...duradb.Option) *duradb.Store {
	t.Helper()
	opts = append([]duradb.Option{duradb.WithFS(fs), duradb.WithFlushInterval(5 * time.Millisecond)}, opts...)
	s, err := duradb.Open("db.dat", "db.key", "db.log", opts...)
	require.NoError(t, err)
	return s
}

func TestCreateOpenClose(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)

	s := mustOpen(t, fs)
	require.Equal(t, testKeySize, s.KeySize())
	require.Equal(t, uint64(1), s.Appnum())
	require.NoError(t, s.Close())

	exists, err := fs.Exists("db.log")
	require.NoError(t, err)
	require.False(t, exists, "Close should erase the log file")
}

func TestCloseTwiceReturnsErrClosed(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Close(), duradb.ErrClosed)
}

func TestOpenWithoutCreateFails(t *testing.T) {
	fs := duradbtest.NewMemFS()
	_, err := duradb.Open("db.dat", "db.key", "db.log", duradb.WithFS(fs))
	require.Error(t, err)
}

func TestCreateTwiceFails(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	err := duradb.Create("db.dat", "db.key", "db.log", 1, 0, testKeySize, duradb.WithFS(fs))
	require.ErrorIs(t, err, duradb.ErrFileExists)
}

func TestInsertFetchRoundTrip(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	defer s.Close()

	k, v := key(1), []byte("hello, world")
	require.NoError(t, s.Insert(k, v))

	var got []byte
	require.NoError(t, s.Fetch(k, func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	}))
	require.Equal(t, v, got)
}

func TestInsertFetchSurvivesFlushAndReopen(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)

	s := mustOpen(t, fs, duradb.WithArenaSize(1))
	k, v := key(2), []byte("persisted across a flush")
	require.NoError(t, s.Insert(k, v))
	// Close forces a final drain, so the record is on disk by the time
	// this returns.
	require.NoError(t, s.Close())

	s2 := mustOpen(t, fs)
	defer s2.Close()

	var got []byte
	require.NoError(t, s2.Fetch(k, func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	}))
	require.Equal(t, v, got)
}

func TestFetchMissingKey(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	defer s.Close()

	err := s.Fetch(key(99), func([]byte) error { return nil })
	require.ErrorIs(t, err, duradb.ErrKeyNotFound)
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	defer s.Close()

	k := key(3)
	require.NoError(t, s.Insert(k, []byte("first")))
	require.ErrorIs(t, s.Insert(k, []byte("second")), duradb.ErrKeyExists)

	var got []byte
	require.NoError(t, s.Fetch(k, func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	}))
	require.Equal(t, []byte("first"), got, "the duplicate insert must not overwrite the original value")
}

func TestInsertDuplicateKeyAcrossFlush(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs, duradb.WithArenaSize(1))
	defer s.Close()

	k := key(4)
	require.NoError(t, s.Insert(k, []byte("v1")))

	// Give the flusher a chance to drain this insert to disk before the
	// duplicate probe, so the on-disk bucket-chain path is exercised
	// too, not just the p0/p1 staging maps.
	time.Sleep(50 * time.Millisecond)

	require.ErrorIs(t, s.Insert(k, []byte("v2")), duradb.ErrKeyExists)
}

func TestInsertWrongKeySize(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	defer s.Close()

	err := s.Insert([]byte("short"), []byte("v"))
	require.ErrorIs(t, err, duradb.ErrKeySize)
}

func TestInsertEmptyValueRejected(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	defer s.Close()

	err := s.Insert(key(5), nil)
	require.ErrorIs(t, err, duradb.ErrInvalidValueSize)
}

func TestInsertFetchAfterCloseFails(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)
	s := mustOpen(t, fs)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Insert(key(6), []byte("v")), duradb.ErrClosed)
	require.ErrorIs(t, s.Fetch(key(6), func([]byte) error { return nil }), duradb.ErrClosed)
}

// constHasher forces every key into the same bucket regardless of its
// bytes, so a handful of inserts is enough to overflow a small bucket and
// exercise the spill chain.
type constHasher uint64

func (h constHasher) Update([]byte)    {}
func (h constHasher) Finalize() uint64 { return uint64(h) }

func constHasherFactory(uint64) duradb.Hasher { return constHasher(0x5a5a5a5a) }

func TestBucketOverflowSpills(t *testing.T) {
	fs := duradbtest.NewMemFS()
	// blockSize 48 => capacity (48-8)/20 == 2 entries per bucket.
	mustCreate(t, fs,
		duradb.WithHasher(constHasherFactory),
		duradb.WithBlockSize(48),
		duradb.WithBuckets(2),
	)

	s := mustOpen(t, fs, duradb.WithHasher(constHasherFactory), duradb.WithArenaSize(1))

	values := map[string][]byte{}
	for i := 0; i < 5; i++ {
		k := key(100 + i)
		v := []byte{byte(i), byte(i), byte(i)}
		values[string(k)] = v
		require.NoError(t, s.Insert(k, v))
	}
	require.NoError(t, s.Close())

	report, err := duradb.Verify("db.dat", "db.key", duradb.WithFS(fs), duradb.WithHasher(constHasherFactory))
	require.NoError(t, err)
	require.Equal(t, 5, report.Entries)
	require.Greater(t, report.Spills, 0, "5 entries all hashing to one 2-capacity bucket must spill")
	require.Zero(t, report.KeyMismatches)
	require.Zero(t, report.HashMismatches)

	s2 := mustOpen(t, fs, duradb.WithHasher(constHasherFactory))
	defer s2.Close()
	for k, v := range values {
		var got []byte
		require.NoError(t, s2.Fetch([]byte(k), func(b []byte) error {
			got = append([]byte(nil), b...)
			return nil
		}))
		require.Equal(t, v, got)
	}
}
