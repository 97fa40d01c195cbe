package format

import "errors"

// Error sentinels for the file-format taxonomy in spec.md §7. duradb
// translates the header validation errors among these into its public
// errors of the same names (see errors.go at the module root).
var (
	ErrShortRead  = errors.New("format: short read")
	ErrShortWrite = errors.New("format: short write")

	ErrNotDataFile = errors.New("format: not a data file")
	ErrNotKeyFile  = errors.New("format: not a key file")
	ErrNotLogFile  = errors.New("format: not a log file")

	ErrInvalidVersion    = errors.New("format: invalid version")
	ErrInvalidKeySize    = errors.New("format: invalid key size")
	ErrInvalidBlockSize  = errors.New("format: invalid block size")
	ErrInvalidLoadFactor = errors.New("format: invalid load factor")
	ErrInvalidCapacity   = errors.New("format: invalid bucket capacity")

	ErrShortKeyFile = errors.New("format: key file truncated")
	ErrShortDatFile = errors.New("format: data file truncated")
	ErrShortSpill   = errors.New("format: spill record truncated")
)
