package duradb

import (
	"github.com/ondisk/duradb/internal/bucket"
	"github.com/ondisk/duradb/internal/bulkio"
	"github.com/ondisk/duradb/internal/pepper"
)

// Report is the result of Verify: counts rather than a first-error abort,
// so a caller can judge severity (grounded on original_source/tools/
// nudb.cpp's verify command, which behaves the same way).
type Report struct {
	Buckets              int
	Entries              int
	Spills               int
	KeyMismatches        int
	HashMismatches       int
	SortednessViolations int
}

// Verify walks every bucket in the key file at keyPath, follows every
// spill chain into the data file at datPath, and checks spec.md §8's
// "data record integrity" and "hash-bucket sortedness" invariants, plus
// the implicit hash-consistency invariant, for every entry, reporting
// counts of each kind of anomaly found.
func Verify(datPath, keyPath string, opts ...Option) (Report, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var report Report

	datFile, err := cfg.fs.Open(datPath)
	if err != nil {
		return report, err
	}
	defer datFile.Close()

	keyFile, err := cfg.fs.Open(keyPath)
	if err != nil {
		return report, err
	}
	defer keyFile.Close()

	dh, kh, err := readAndValidateHeaders(datFile, keyFile, cfg.hasher)
	if err != nil {
		return report, err
	}

	reader := bulkio.NewReader(datFile, int(dh.KeySize))
	saltBytes := pepper.SaltBytes(kh.Salt)
	blockSize := int(kh.BlockSize)

	for idx := uint64(0); idx < kh.Buckets; idx++ {
		report.Buckets++

		blk := make([]byte, blockSize)
		off := int64(idx+1) * int64(blockSize)
		if err := readFull(keyFile, blk, off); err != nil {
			return report, err
		}
		b, err := bucket.Load(blockSize, blk, bucket.Existing)
		if err != nil {
			return report, err
		}

		for {
			var prevHash uint64
			for i := 0; i < b.Size(); i++ {
				e, err := b.At(i)
				if err != nil {
					return report, err
				}
				report.Entries++
				verifyEntry(reader, cfg.hasher, saltBytes, e, &report)
				if i > 0 && e.Hash < prevHash {
					report.SortednessViolations++
				}
				prevHash = e.Hash
			}
			if b.Spill() == 0 {
				break
			}
			report.Spills++
			payload, err := reader.ReadSpill(b.Spill())
			if err != nil {
				return report, err
			}
			b, err = bucket.Load(blockSize, payload, bucket.Existing)
			if err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func verifyEntry(reader *bulkio.Reader, hasherFactory HasherFactory, saltBytes []byte, e bucket.Entry, report *Report) {
	rec, err := reader.ReadRecord(e.Offset)
	if err != nil || uint64(len(rec.Value)) != e.Size {
		report.KeyMismatches++
		return
	}
	h := pepper.Mix(hasherFactory, rec.Key, saltBytes)
	if h != e.Hash {
		report.HashMismatches++
	}
}
