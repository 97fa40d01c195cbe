package duradb

import "errors"

// Error taxonomy per spec.md §7. Header validation errors from
// internal/format are translated into the matching sentinel below (see
// translateFormatErr), replacing the format sentinel; other errors from
// lower layers (internal/format, internal/bucket, internal/bulkio) are
// returned as they are, often wrapped with context.
var (
	// ErrShortRead is returned when the underlying file returned fewer
	// bytes than requested.
	ErrShortRead = errors.New("duradb: short read")
	// ErrShortWrite is returned when the underlying file stored fewer
	// bytes than requested. Per spec.md §9 this is always surfaced, never
	// silently ignored.
	ErrShortWrite = errors.New("duradb: short write")

	// ErrFileExists is returned by Create when a target file already
	// exists.
	ErrFileExists = errors.New("duradb: file already exists")
	// ErrNoFile is returned by Open when a required file is missing.
	ErrNoFile = errors.New("duradb: no such file")
	// ErrNotDataFile, ErrNotKeyFile, ErrNotLogFile are returned when a
	// file's magic tag doesn't match its expected role.
	ErrNotDataFile = errors.New("duradb: not a data file")
	ErrNotKeyFile  = errors.New("duradb: not a key file")
	ErrNotLogFile  = errors.New("duradb: not a log file")

	// ErrInvalidVersion, ErrInvalidKeySize, ErrInvalidBlockSize,
	// ErrInvalidLoadFactor, ErrInvalidCapacity are header field
	// validation failures.
	ErrInvalidVersion    = errors.New("duradb: invalid version")
	ErrInvalidKeySize    = errors.New("duradb: invalid key size")
	ErrInvalidBlockSize  = errors.New("duradb: invalid block size")
	ErrInvalidLoadFactor = errors.New("duradb: invalid load factor")
	ErrInvalidCapacity   = errors.New("duradb: invalid bucket capacity")

	// ErrUIDMismatch, ErrAppnumMismatch, ErrKeyMismatch, ErrHashMismatch
	// are triplet-consistency or hasher-identity (pepper) failures.
	ErrUIDMismatch    = errors.New("duradb: uid mismatch between files")
	ErrAppnumMismatch = errors.New("duradb: appnum mismatch between files")
	ErrKeyMismatch    = errors.New("duradb: key size mismatch between files")
	ErrHashMismatch   = errors.New("duradb: pepper mismatch: key file was created with a different hasher")

	// ErrRecoverNeeded is returned by Open when a log file is present.
	ErrRecoverNeeded = errors.New("duradb: log file present, run Recover first")

	// ErrKeyExists is returned by Insert for a key already present.
	ErrKeyExists = errors.New("duradb: key already exists")
	// ErrKeyNotFound is returned by Fetch for a key that isn't present.
	ErrKeyNotFound = errors.New("duradb: key not found")

	// ErrMismatchedRecovery is returned by Recover when the log file's
	// header doesn't belong to the given data/key pair.
	ErrMismatchedRecovery = errors.New("duradb: log file does not belong to this data/key pair")

	// ErrShortKeyFile, ErrShortDatFile, ErrShortSpill indicate a file was
	// truncated mid-structure.
	ErrShortKeyFile = errors.New("duradb: key file truncated")
	ErrShortDatFile = errors.New("duradb: data file truncated")
	ErrShortSpill   = errors.New("duradb: spill record truncated")

	// ErrLocked is returned by Open when another process already holds
	// the data file's advisory write lock.
	ErrLocked = errors.New("duradb: database already open for writing by another process")

	// ErrClosed is returned by Insert/Fetch/Close on a Store that has
	// already been closed.
	ErrClosed = errors.New("duradb: store is closed")

	// ErrInvalidValueSize is returned by Insert for a zero-length value:
	// the on-disk format reserves a record size of zero to mark a spill
	// record (spec.md §3), so a data record can never encode an empty
	// value.
	ErrInvalidValueSize = errors.New("duradb: value must be non-empty")

	// ErrKeySize is returned by Insert/Fetch when the supplied key
	// doesn't match the database's fixed key size.
	ErrKeySize = errors.New("duradb: key does not match database key size")
)

// StoreError wraps an error latched by the background flusher. Once set,
// every subsequent Insert, Fetch, and Close call returns it: spec.md §7
// requires that a flusher failure make the store observably unusable
// rather than silently dropping writes.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "duradb: store unusable after background flush error: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
