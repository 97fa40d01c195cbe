// Package bulkio provides buffered readers and writers that amortize
// syscall cost over duradb's append-only data and log files, in the same
// spirit as the teacher's datafile.Writer: a bufio.Writer in front of a
// tracked absolute offset, flushed and synced at well-defined points
// rather than on every record.
package bulkio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ondisk/duradb/internal/codec"
	"github.com/ondisk/duradb/internal/format"
)

const defaultBufferSize = 1 << 20 // 1 MiB

// WriterFile is the subset of the File capability a Writer needs. Any
// duradb.File satisfies this.
type WriterFile interface {
	io.WriterAt
	Sync() error
}

// Writer appends data records and spill records to a data (or log) file,
// tracking the absolute file offset so callers can address records by
// offset without a second stat/seek.
type Writer struct {
	f   WriterFile
	w   *bufio.Writer
	pw  *positionedWriter
	off uint64
}

// positionedWriter adapts a WriterAt into an io.Writer that always writes
// at the current tracked offset, advancing it -- the same trick the
// teacher's bufio.Writer-over-*os.File relies on implicitly, made
// explicit here because our File capability is WriteAt-based rather than
// stream-based.
type positionedWriter struct {
	f   io.WriterAt
	off uint64
}

func (p *positionedWriter) Write(b []byte) (int, error) {
	n, err := p.f.WriteAt(b, int64(p.off))
	p.off += uint64(n)
	if err == nil && n != len(b) {
		return n, fmt.Errorf("bulkio: %w", format.ErrShortWrite)
	}
	return n, err
}

// NewWriter returns a Writer that will append starting at startOffset,
// the current length of the file.
func NewWriter(f WriterFile, startOffset uint64) *Writer {
	pw := &positionedWriter{f: f, off: startOffset}
	return &Writer{
		f:   f,
		w:   bufio.NewWriterSize(pw, defaultBufferSize),
		pw:  pw,
		off: startOffset,
	}
}

// Offset returns the absolute file offset the next Write* call will land
// at, including anything buffered but not yet flushed.
func (w *Writer) Offset() uint64 {
	return w.off
}

// WriteRecord appends a data record (size:48 | key | value) and returns
// its offset.
func (w *Writer) WriteRecord(key, value []byte) (offset uint64, err error) {
	offset = w.off
	size := uint64(len(value))
	if size == 0 {
		return 0, fmt.Errorf("bulkio.WriteRecord: value must be non-empty to disambiguate from a spill marker")
	}

	var header [format.DataRecordHeaderSize]byte
	if err := codec.PutUint48(header[:], 0, size); err != nil {
		return 0, err
	}
	n, err := w.w.Write(header[:])
	if err != nil {
		return 0, fmt.Errorf("bulkio.WriteRecord: header: %w", err)
	}
	if n != len(header) {
		return 0, fmt.Errorf("bulkio.WriteRecord: header: %w", format.ErrShortWrite)
	}
	if err := w.writeFull(key); err != nil {
		return 0, fmt.Errorf("bulkio.WriteRecord: key: %w", err)
	}
	if err := w.writeFull(value); err != nil {
		return 0, fmt.Errorf("bulkio.WriteRecord: value: %w", err)
	}
	w.off += uint64(len(header)) + uint64(len(key)) + uint64(len(value))
	return offset, nil
}

// WriteSpill appends a spill record (size:0 | bucket_size:16 |
// bucket_bytes) carrying a bucket block's evicted payload, and returns
// its offset. This implements bucket.SpillWriter.
func (w *Writer) WriteSpill(bucketBytes []byte) (offset uint64, err error) {
	offset = w.off
	if len(bucketBytes) > 1<<16-1 {
		return 0, fmt.Errorf("bulkio.WriteSpill: bucket %d bytes too large for a 16-bit length", len(bucketBytes))
	}

	var header [format.DataRecordHeaderSize + format.SpillRecordHeaderSize]byte
	if err := codec.PutUint48(header[:], 0, 0); err != nil {
		return 0, err
	}
	if err := codec.PutUint16(header[:], format.DataRecordHeaderSize, uint16(len(bucketBytes))); err != nil {
		return 0, err
	}
	if err := w.writeFull(header[:]); err != nil {
		return 0, fmt.Errorf("bulkio.WriteSpill: header: %w", err)
	}
	if err := w.writeFull(bucketBytes); err != nil {
		return 0, fmt.Errorf("bulkio.WriteSpill: payload: %w", err)
	}
	w.off += uint64(len(header)) + uint64(len(bucketBytes))
	return offset, nil
}

func (w *Writer) writeFull(b []byte) error {
	n, err := w.w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return format.ErrShortWrite
	}
	return nil
}

// Flush pushes buffered bytes to the underlying file without syncing.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bulkio.Flush: %w", err)
	}
	return nil
}

// Sync flushes and then fsyncs the underlying file.
func (w *Writer) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("bulkio.Sync: %w", err)
	}
	return nil
}
