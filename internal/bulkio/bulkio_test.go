package bulkio

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// memFile is a minimal in-memory File used to unit-test bulkio without
// touching a real filesystem.
type memFile struct {
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) Sync() error { return nil }

func TestWriteAndReadRecord(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 0)

	off1, err := w.WriteRecord([]byte("keyone"), []byte("value one"))
	require.NoError(t, err)
	off2, err := w.WriteRecord([]byte("keytwo"), []byte("value two"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	r := NewReader(f, 6)
	rec1, err := r.ReadRecord(off1)
	require.NoError(t, err)
	require.Equal(t, []byte("keyone"), rec1.Key)
	require.Equal(t, []byte("value one"), rec1.Value)

	rec2, err := r.ReadRecord(off2)
	require.NoError(t, err)
	require.Equal(t, []byte("keytwo"), rec2.Key)
	require.Equal(t, []byte("value two"), rec2.Value)
}

func TestReadKeyOnly(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 0)
	off, err := w.WriteRecord([]byte("abcdefgh"), []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	r := NewReader(f, 8)
	key, err := r.ReadKey(off, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdefgh"), key)
}

func TestSpillRoundTrip(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 0)
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	off, err := w.WriteSpill(payload)
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	r := NewReader(f, 8)
	got, err := r.ReadSpill(off)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestScanSkipsSpillRecords(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 0)
	off1, err := w.WriteRecord([]byte("aaaaaaaa"), []byte("v1"))
	require.NoError(t, err)
	_, err = w.WriteSpill(make([]byte, 32))
	require.NoError(t, err)
	off2, err := w.WriteRecord([]byte("bbbbbbbb"), []byte("v2"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	r := NewReader(f, 8)
	var got []Record
	err = r.Scan(0, w.Offset(), func(rec Record) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, off1, got[0].Offset)
	require.Equal(t, off2, got[1].Offset)
}

func TestReadRecordRejectsSpillOffset(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 0)
	off, err := w.WriteSpill(make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	r := NewReader(f, 8)
	_, err = r.ReadRecord(off)
	require.Error(t, err)
}
