package duradb

import (
	"github.com/ondisk/duradb/internal/bulkio"
	"github.com/ondisk/duradb/internal/format"
)

// Visit walks every data record in the data file at datPath in file
// order, invoking fn with each record's key and value. Spill records are
// legitimate data-file content and are skipped rather than surfaced
// (spec.md §9). Visit opens its own handle on the data file, through
// which it only reads, and does not require the store to be closed, but
// concurrent inserts are
// not synchronized with the scan and may or may not be observed.
func Visit(datPath string, fn func(key, value []byte) error, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := cfg.fs.Open(datPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var hdrBuf [format.HeaderSize]byte
	if err := readFull(f, hdrBuf[:], 0); err != nil {
		return err
	}
	dh, err := format.UnmarshalDataHeader(hdrBuf[:])
	if err != nil {
		return translateFormatErr(err)
	}

	size, err := f.Size()
	if err != nil {
		return err
	}

	r := bulkio.NewReader(f, int(dh.KeySize))
	return r.Scan(format.HeaderSize, uint64(size), func(rec bulkio.Record) error {
		return fn(rec.Key, rec.Value)
	})
}
