package bulkio

import (
	"fmt"
	"io"

	"github.com/ondisk/duradb/internal/codec"
	"github.com/ondisk/duradb/internal/format"
)

// ReaderFile is the subset of the File capability a Reader needs. Any
// duradb.File satisfies this.
type ReaderFile interface {
	io.ReaderAt
}

// Reader performs positioned and sequential reads over a data file.
type Reader struct {
	f       ReaderFile
	keySize int
}

// NewReader returns a Reader for a data file whose records carry
// keySize-byte keys.
func NewReader(f ReaderFile, keySize int) *Reader {
	return &Reader{f: f, keySize: keySize}
}

func (r *Reader) readAt(off uint64, buf []byte) error {
	n, err := r.f.ReadAt(buf, int64(off))
	if err != nil && err != io.EOF {
		return fmt.Errorf("bulkio: ReadAt(%d, len %d): %w", off, len(buf), err)
	}
	if n != len(buf) {
		return fmt.Errorf("bulkio: ReadAt(%d, len %d): %w", off, len(buf), format.ErrShortRead)
	}
	return nil
}

// Record is a decoded data record together with its own file offset.
type Record struct {
	Offset uint64
	Key    []byte
	Value  []byte
}

// ReadRecord reads the data record at offset. It fails if the record at
// offset is a spill record (size == 0); Scan tells the two apart and
// skips spill records when walking the file.
func (r *Reader) ReadRecord(offset uint64) (Record, error) {
	var sizeBuf [format.DataRecordHeaderSize]byte
	if err := r.readAt(offset, sizeBuf[:]); err != nil {
		return Record{}, err
	}
	size, err := codec.Uint48(sizeBuf[:], 0)
	if err != nil {
		return Record{}, err
	}
	if size == 0 {
		return Record{}, fmt.Errorf("bulkio.ReadRecord(%d): offset addresses a spill record, not a data record", offset)
	}

	rest := make([]byte, uint64(r.keySize)+size)
	if err := r.readAt(offset+format.DataRecordHeaderSize, rest); err != nil {
		return Record{}, err
	}
	return Record{
		Offset: offset,
		Key:    rest[:r.keySize],
		Value:  rest[r.keySize:],
	}, nil
}

// ReadKey reads only the key portion of the data record at offset. This
// implements bucket.KeyReader for the bucket chain walker's full-key
// compare, avoiding a value read on every candidate.
func (r *Reader) ReadKey(offset uint64, keySize int) ([]byte, error) {
	key := make([]byte, keySize)
	if err := r.readAt(offset+format.DataRecordHeaderSize, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ReadSpill reads the bucket payload of the spill record at offset. This
// implements bucket.SpillReader.
func (r *Reader) ReadSpill(offset uint64) ([]byte, error) {
	var header [format.DataRecordHeaderSize + format.SpillRecordHeaderSize]byte
	if err := r.readAt(offset, header[:]); err != nil {
		return nil, err
	}
	size, err := codec.Uint48(header[:], 0)
	if err != nil {
		return nil, err
	}
	if size != 0 {
		return nil, fmt.Errorf("bulkio.ReadSpill(%d): offset addresses a data record, not a spill record", offset)
	}
	bucketSize, err := codec.Uint16(header[:], format.DataRecordHeaderSize)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, bucketSize)
	if err := r.readAt(offset+uint64(len(header)), payload); err != nil {
		return nil, fmt.Errorf("bulkio.ReadSpill(%d): %w", offset, format.ErrShortSpill)
	}
	return payload, nil
}

// ScanFunc is called by Scan for each data record found; spill records
// are skipped silently, since they are ordinary data-file content rather
// than a scan error (spec.md §9).
type ScanFunc func(Record) error

// Scan walks the data file from startOffset to endOffset, decoding every
// record and invoking fn for data records while skipping spill records.
func (r *Reader) Scan(startOffset, endOffset uint64, fn ScanFunc) error {
	off := startOffset
	for off < endOffset {
		var sizeBuf [format.DataRecordHeaderSize]byte
		if err := r.readAt(off, sizeBuf[:]); err != nil {
			return err
		}
		size, err := codec.Uint48(sizeBuf[:], 0)
		if err != nil {
			return err
		}
		if size == 0 {
			// spill record: legitimate data-file content, skip over it
			var lenBuf [format.SpillRecordHeaderSize]byte
			if err := r.readAt(off+format.DataRecordHeaderSize, lenBuf[:]); err != nil {
				return err
			}
			bucketSize, err := codec.Uint16(lenBuf[:], 0)
			if err != nil {
				return err
			}
			off += uint64(format.DataRecordHeaderSize+format.SpillRecordHeaderSize) + uint64(bucketSize)
			continue
		}
		rec, err := r.ReadRecord(off)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		off += uint64(format.DataRecordHeaderSize) + uint64(r.keySize) + size
	}
	return nil
}
