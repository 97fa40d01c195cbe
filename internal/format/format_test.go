package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataHeaderRoundTrip(t *testing.T) {
	h := DataHeader{Version: Version, UID: 0x0102030405060708, Appnum: 42, KeySize: 8}
	buf := h.Marshal()
	require.Len(t, buf, HeaderSize)

	got, err := UnmarshalDataHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDataHeaderRejectsBadMagic(t *testing.T) {
	h := DataHeader{Version: Version, UID: 1, Appnum: 1, KeySize: 8}
	buf := h.Marshal()
	buf[0] = 'x'
	_, err := UnmarshalDataHeader(buf)
	require.ErrorIs(t, err, ErrNotDataFile)
}

func TestKeyHeaderRoundTrip(t *testing.T) {
	h := KeyHeader{
		Version: Version, UID: 7, Appnum: 9, KeySize: 8,
		Salt: 0xAAAA, Pepper: 0xBBBB, BlockSize: 4096,
		LoadFactor: 32768, Buckets: 128, Modulus: 128,
	}
	buf := h.Marshal()
	got, err := UnmarshalKeyHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestKeyHeaderRejectsBadBlockSize(t *testing.T) {
	h := KeyHeader{
		Version: Version, UID: 1, Appnum: 1, KeySize: 8,
		Salt: 1, Pepper: 1, BlockSize: 4, LoadFactor: 32768, Buckets: 1, Modulus: 1,
	}
	buf := h.Marshal()
	_, err := UnmarshalKeyHeader(buf)
	require.ErrorIs(t, err, ErrInvalidBlockSize)
}

func TestLogHeaderRoundTrip(t *testing.T) {
	h := LogHeader{
		Version: Version, UID: 1, Appnum: 2, KeySize: 8,
		Salt: 3, Pepper: 4, BlockSize: 4096, KeyFileSize: 1 << 20, DatFileSize: 1 << 24,
	}
	buf := h.Marshal()
	got, err := UnmarshalLogHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestCapacity(t *testing.T) {
	require.Equal(t, 0, Capacity(0))
	require.Equal(t, (128-BucketHeaderSize)/EntrySize, Capacity(128))
	require.Equal(t, (4096-BucketHeaderSize)/EntrySize, Capacity(4096))
}

func TestNewUIDIsRandom(t *testing.T) {
	a, err := NewUID()
	require.NoError(t, err)
	b, err := NewUID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
