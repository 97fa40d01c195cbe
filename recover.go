package duradb

import (
	"fmt"

	"github.com/ondisk/duradb/internal/format"
)

// Recover implements spec.md §4.5: it is a no-op if no log file is
// present, otherwise it replays the log's pre-image bucket blocks into
// the key file and erases the log file. The data file is truncated back
// to the log header's recorded pre-crash length only when at least one
// pre-image was replayed; a log holding just its header leaves the data
// file as it is. Recover is idempotent: running it twice in a row is
// equivalent to running it once.
func Recover(datPath, keyPath, logPath string, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	exists, err := cfg.fs.Exists(logPath)
	if err != nil {
		return err
	}
	if !exists {
		cfg.logger.Printf("duradb: recover: no log file present, nothing to do")
		return nil
	}

	logFile, err := cfg.fs.Open(logPath)
	if err != nil {
		return err
	}
	logClosed := false
	defer func() {
		if !logClosed {
			_ = logFile.Close()
		}
	}()

	datFile, err := cfg.fs.Open(datPath)
	if err != nil {
		return err
	}
	defer datFile.Close()

	keyFile, err := cfg.fs.Open(keyPath)
	if err != nil {
		return err
	}
	defer keyFile.Close()

	var logBuf, datBuf, keyBuf [format.HeaderSize]byte
	if err := readFull(logFile, logBuf[:], 0); err != nil {
		return err
	}
	if err := readFull(datFile, datBuf[:], 0); err != nil {
		return err
	}
	if err := readFull(keyFile, keyBuf[:], 0); err != nil {
		return err
	}

	lh, err := format.UnmarshalLogHeader(logBuf[:])
	if err != nil {
		return translateFormatErr(err)
	}
	dh, err := format.UnmarshalDataHeader(datBuf[:])
	if err != nil {
		return translateFormatErr(err)
	}
	kh, err := format.UnmarshalKeyHeader(keyBuf[:])
	if err != nil {
		return translateFormatErr(err)
	}

	if lh.UID != kh.UID || lh.Appnum != kh.Appnum || lh.KeySize != kh.KeySize ||
		lh.Salt != kh.Salt || lh.Pepper != kh.Pepper || lh.BlockSize != kh.BlockSize {
		return ErrMismatchedRecovery
	}
	if lh.UID != dh.UID || lh.Appnum != dh.Appnum || lh.KeySize != dh.KeySize {
		return ErrMismatchedRecovery
	}

	blockSize := int(lh.BlockSize)
	logSize, err := logFile.Size()
	if err != nil {
		return err
	}

	recSize := 8 + blockSize
	off := int64(format.HeaderSize)
	replayed := 0
	for off+int64(recSize) <= logSize {
		rec := make([]byte, recSize)
		if err := readFull(logFile, rec, off); err != nil {
			return err
		}
		idx := beUint64(rec, 0)
		block := rec[8:]
		keyOff := int64(idx+1) * int64(blockSize)
		if err := writeFull(keyFile, block, keyOff); err != nil {
			return fmt.Errorf("recover: replay bucket %d: %w", idx, err)
		}
		off += int64(recSize)
		replayed++
	}

	// An empty log body (just the header) means the epoch it describes
	// already committed -- closeLogEpoch truncates the body but leaves
	// the header, including its now-stale DatFileSize, in place until
	// Close erases the file. Truncating the data file to that stale
	// offset here would discard already-committed records, so only
	// roll the data file back when there were pre-images to replay.
	if replayed > 0 {
		if err := datFile.Truncate(int64(lh.DatFileSize)); err != nil {
			return fmt.Errorf("recover: truncate data file: %w", err)
		}
		if err := keyFile.Sync(); err != nil {
			return err
		}
		if err := datFile.Sync(); err != nil {
			return err
		}
		cfg.logger.Printf("duradb: recover: replayed %d bucket pre-images, rolled data file back to %d bytes",
			replayed, lh.DatFileSize)
	} else {
		cfg.logger.Printf("duradb: recover: epoch already committed, nothing to replay")
	}

	logClosed = true
	if err := logFile.Close(); err != nil {
		return err
	}
	if err := cfg.fs.Erase(logPath); err != nil {
		return err
	}
	cfg.logger.Printf("duradb: recover: log file erased, recovery complete")
	return nil
}

func beUint64(buf []byte, off int) uint64 {
	return uint64(buf[off])<<56 | uint64(buf[off+1])<<48 | uint64(buf[off+2])<<40 | uint64(buf[off+3])<<32 |
		uint64(buf[off+4])<<24 | uint64(buf[off+5])<<16 | uint64(buf[off+6])<<8 | uint64(buf[off+7])
}
