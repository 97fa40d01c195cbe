package duradb

import (
	"fmt"

	"github.com/ondisk/duradb/internal/bucket"
	"github.com/ondisk/duradb/internal/bulkio"
	"github.com/ondisk/duradb/internal/format"
	"github.com/ondisk/duradb/internal/pepper"
)

// Rekey reconstructs a key file for the data file at datPath, writing it
// to keyPath (which must not already exist). itemCount is the caller's
// estimate of the number of live records, used with the configured load
// factor to size the new key file's bucket count -- exactly as
// original_source/tools/nudb.cpp's rekey tool takes an item count rather
// than counting records itself.
//
// The rebuild runs in windowed passes over the data file: each pass holds
// a contiguous range of empty buckets in memory (sized by WithArenaSize),
// scans the entire data file inserting only the records that hash into
// that range, and writes the window to the key file in one sequential
// write. Buckets that fill up spill into new records appended past the
// data file's original end; existing records are never modified. No log
// is used: a crash mid-rekey simply abandons the partial key file.
func Rekey(datPath, keyPath string, itemCount uint64, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if exists, err := cfg.fs.Exists(keyPath); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("rekey %s: %w", keyPath, ErrFileExists)
	}

	datFile, err := cfg.fs.Open(datPath)
	if err != nil {
		return err
	}
	defer datFile.Close()

	var hdrBuf [format.HeaderSize]byte
	if err := readFull(datFile, hdrBuf[:], 0); err != nil {
		return err
	}
	dh, err := format.UnmarshalDataHeader(hdrBuf[:])
	if err != nil {
		return translateFormatErr(err)
	}

	dfSize, err := datFile.Size()
	if err != nil {
		return err
	}

	blockSize := cfg.blockSize
	capacity := format.Capacity(blockSize)
	if capacity < 1 {
		return ErrInvalidBlockSize
	}

	perBucket := uint64(float64(capacity) * cfg.loadFactor)
	if perBucket < 1 {
		perBucket = 1
	}
	totalBuckets := (itemCount + perBucket - 1) / perBucket
	if totalBuckets < 1 {
		totalBuckets = 1
	}
	modulus := bucket.CeilPow2(totalBuckets)

	salt, err := format.NewUID()
	if err != nil {
		return err
	}
	pep := pepper.Compute(cfg.hasher, salt)
	loadFactor := cfg.loadFactor * 65536
	if loadFactor > 65535 {
		loadFactor = 65535
	}

	keyFile, err := cfg.fs.Create(keyPath)
	if err != nil {
		return err
	}
	defer keyFile.Close()

	kh := format.KeyHeader{
		Version:    format.Version,
		UID:        dh.UID,
		Appnum:     dh.Appnum,
		KeySize:    dh.KeySize,
		Salt:       salt,
		Pepper:     pep,
		BlockSize:  uint16(blockSize),
		LoadFactor: uint16(loadFactor),
		Buckets:    totalBuckets,
		Modulus:    modulus,
	}
	if err := writeFull(keyFile, kh.Marshal(), 0); err != nil {
		return err
	}

	saltBytes := pepper.SaltBytes(salt)
	dataWriter := bulkio.NewWriter(datFile, uint64(dfSize))
	dataReader := bulkio.NewReader(datFile, int(dh.KeySize))

	windowBuckets := cfg.arenaSize / uint64(blockSize)
	if windowBuckets < 1 {
		windowBuckets = 1
	}

	for b0 := uint64(0); b0 < totalBuckets; b0 += windowBuckets {
		b1 := b0 + windowBuckets
		if b1 > totalBuckets {
			b1 = totalBuckets
		}
		bn := b1 - b0

		window := make([]byte, bn*uint64(blockSize))
		buckets := make([]*bucket.Bucket, bn)
		for i := uint64(0); i < bn; i++ {
			blk, err := bucket.Load(blockSize, window[i*uint64(blockSize):(i+1)*uint64(blockSize)], bucket.Empty)
			if err != nil {
				return err
			}
			buckets[i] = blk
		}

		scanErr := dataReader.Scan(format.HeaderSize, uint64(dfSize), func(rec bulkio.Record) error {
			h := pepper.Mix(cfg.hasher, rec.Key, saltBytes)
			n := bucket.Index(h, totalBuckets, modulus)
			if n < b0 || n >= b1 {
				return nil
			}
			b := buckets[n-b0]
			if b.Full() {
				if err := b.SpillTo(dataWriter); err != nil {
					return err
				}
			}
			return b.Insert(bucket.Entry{Offset: rec.Offset, Size: uint64(len(rec.Value)), Hash: h})
		})
		if scanErr != nil {
			return fmt.Errorf("rekey: pass [%d,%d): %w", b0, b1, scanErr)
		}

		off := int64(b0+1) * int64(blockSize)
		if err := writeFull(keyFile, window, off); err != nil {
			return fmt.Errorf("rekey: write window [%d,%d): %w", b0, b1, err)
		}
	}

	if err := dataWriter.Sync(); err != nil {
		return err
	}
	return keyFile.Sync()
}
