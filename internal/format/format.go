// Package format defines the bit-exact on-disk layouts shared by duradb's
// data, key, and log files: the 64-byte header common to all three, the
// data/spill record layouts, and the bucket-block layout constants.
//
// All multi-byte integers are big-endian, per the wire format duradb must
// remain compatible with.
package format

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ondisk/duradb/internal/codec"
)

// HeaderSize is the fixed size, in bytes, of every file's leading header.
const HeaderSize = 64

// Version is the current on-disk format version understood by this module.
const Version = 1

var (
	dataTag = [8]byte{'n', 'u', 'd', 'b', '.', 'd', 'a', 't'}
	keyTag  = [8]byte{'n', 'u', 'd', 'b', '.', 'k', 'e', 'y'}
	logTag  = [8]byte{'n', 'u', 'd', 'b', '.', 'l', 'o', 'g'}
)

// DataHeader is the 64-byte header at the start of the data file.
type DataHeader struct {
	Version uint16
	UID     uint64
	Appnum  uint64
	KeySize uint16
}

// NewUID generates a random 64-bit identifier for a newly created database,
// using crypto/rand rather than math/rand since it is meant to be
// effectively unique across every database ever created.
func NewUID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("format.NewUID: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Marshal encodes h into a HeaderSize-byte buffer.
func (h DataHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], dataTag[:])
	_ = codec.PutUint16(buf, 8, h.Version)
	_ = codec.PutUint64(buf, 10, h.UID)
	_ = codec.PutUint64(buf, 18, h.Appnum)
	_ = codec.PutUint16(buf, 26, h.KeySize)
	return buf
}

// UnmarshalDataHeader decodes and validates a data file header.
func UnmarshalDataHeader(buf []byte) (DataHeader, error) {
	var h DataHeader
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("data header: %w", ErrShortDatFile)
	}
	if string(buf[0:8]) != string(dataTag[:]) {
		return h, ErrNotDataFile
	}
	var err error
	if h.Version, err = codec.Uint16(buf, 8); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, ErrInvalidVersion
	}
	if h.UID, err = codec.Uint64(buf, 10); err != nil {
		return h, err
	}
	if h.Appnum, err = codec.Uint64(buf, 18); err != nil {
		return h, err
	}
	if h.KeySize, err = codec.Uint16(buf, 26); err != nil {
		return h, err
	}
	if h.KeySize == 0 {
		return h, ErrInvalidKeySize
	}
	return h, nil
}

// KeyHeader is the 64-byte header at the start of the key file.
type KeyHeader struct {
	Version    uint16
	UID        uint64
	Appnum     uint64
	KeySize    uint16
	Salt       uint64
	Pepper     uint64
	BlockSize  uint16
	LoadFactor uint16
	Buckets    uint64
	Modulus    uint64
}

// Marshal encodes h into a HeaderSize-byte buffer.
func (h KeyHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], keyTag[:])
	_ = codec.PutUint16(buf, 8, h.Version)
	_ = codec.PutUint64(buf, 10, h.UID)
	_ = codec.PutUint64(buf, 18, h.Appnum)
	_ = codec.PutUint16(buf, 26, h.KeySize)
	_ = codec.PutUint64(buf, 28, h.Salt)
	_ = codec.PutUint64(buf, 36, h.Pepper)
	_ = codec.PutUint16(buf, 44, h.BlockSize)
	_ = codec.PutUint16(buf, 46, h.LoadFactor)
	_ = codec.PutUint64(buf, 48, h.Buckets)
	_ = codec.PutUint64(buf, 56, h.Modulus)
	return buf
}

// UnmarshalKeyHeader decodes and validates a key file header.
func UnmarshalKeyHeader(buf []byte) (KeyHeader, error) {
	var h KeyHeader
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("key header: %w", ErrShortKeyFile)
	}
	if string(buf[0:8]) != string(keyTag[:]) {
		return h, ErrNotKeyFile
	}
	var err error
	if h.Version, err = codec.Uint16(buf, 8); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, ErrInvalidVersion
	}
	if h.UID, err = codec.Uint64(buf, 10); err != nil {
		return h, err
	}
	if h.Appnum, err = codec.Uint64(buf, 18); err != nil {
		return h, err
	}
	if h.KeySize, err = codec.Uint16(buf, 26); err != nil {
		return h, err
	}
	if h.Salt, err = codec.Uint64(buf, 28); err != nil {
		return h, err
	}
	if h.Pepper, err = codec.Uint64(buf, 36); err != nil {
		return h, err
	}
	if h.BlockSize, err = codec.Uint16(buf, 44); err != nil {
		return h, err
	}
	if h.LoadFactor, err = codec.Uint16(buf, 46); err != nil {
		return h, err
	}
	if h.Buckets, err = codec.Uint64(buf, 48); err != nil {
		return h, err
	}
	if h.Modulus, err = codec.Uint64(buf, 56); err != nil {
		return h, err
	}
	if h.KeySize == 0 {
		return h, ErrInvalidKeySize
	}
	if int(h.BlockSize) < BucketHeaderSize+EntrySize {
		return h, ErrInvalidBlockSize
	}
	if h.LoadFactor == 0 || h.LoadFactor > 65535 {
		return h, ErrInvalidLoadFactor
	}
	return h, nil
}

// LogHeader is the 64-byte header at the start of the log file.
type LogHeader struct {
	Version     uint16
	UID         uint64
	Appnum      uint64
	KeySize     uint16
	Salt        uint64
	Pepper      uint64
	BlockSize   uint16
	KeyFileSize uint64
	DatFileSize uint64
}

// Marshal encodes h into a HeaderSize-byte buffer.
func (h LogHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], logTag[:])
	_ = codec.PutUint16(buf, 8, h.Version)
	_ = codec.PutUint64(buf, 10, h.UID)
	_ = codec.PutUint64(buf, 18, h.Appnum)
	_ = codec.PutUint16(buf, 26, h.KeySize)
	_ = codec.PutUint64(buf, 28, h.Salt)
	_ = codec.PutUint64(buf, 36, h.Pepper)
	_ = codec.PutUint16(buf, 44, h.BlockSize)
	_ = codec.PutUint64(buf, 46, h.KeyFileSize)
	_ = codec.PutUint64(buf, 54, h.DatFileSize)
	return buf
}

// UnmarshalLogHeader decodes and validates a log file header.
func UnmarshalLogHeader(buf []byte) (LogHeader, error) {
	var h LogHeader
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("log header: %w", ErrShortRead)
	}
	if string(buf[0:8]) != string(logTag[:]) {
		return h, ErrNotLogFile
	}
	var err error
	if h.Version, err = codec.Uint16(buf, 8); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, ErrInvalidVersion
	}
	if h.UID, err = codec.Uint64(buf, 10); err != nil {
		return h, err
	}
	if h.Appnum, err = codec.Uint64(buf, 18); err != nil {
		return h, err
	}
	if h.KeySize, err = codec.Uint16(buf, 26); err != nil {
		return h, err
	}
	if h.Salt, err = codec.Uint64(buf, 28); err != nil {
		return h, err
	}
	if h.Pepper, err = codec.Uint64(buf, 36); err != nil {
		return h, err
	}
	if h.BlockSize, err = codec.Uint16(buf, 44); err != nil {
		return h, err
	}
	if h.KeyFileSize, err = codec.Uint64(buf, 46); err != nil {
		return h, err
	}
	if h.DatFileSize, err = codec.Uint64(buf, 54); err != nil {
		return h, err
	}
	return h, nil
}

// DataRecordHeaderSize is the size of the leading size field on every
// data-file record (shared by data records and spill records).
const DataRecordHeaderSize = 6 // 48-bit size

// SpillRecordHeaderSize is the size of the bucket_size field that follows
// a zero-size marker in a spill record.
const SpillRecordHeaderSize = 2 // 16-bit bucket size

const (
	// BucketHeaderSize is count:16 | spill:48.
	BucketHeaderSize = 2 + 6
	// EntrySize is offset:48 | size:48 | hash:64.
	EntrySize = 6 + 6 + 8
)

// Capacity returns the number of entries a bucket block of blockSize bytes
// can hold.
func Capacity(blockSize int) int {
	if blockSize < BucketHeaderSize {
		return 0
	}
	return (blockSize - BucketHeaderSize) / EntrySize
}
