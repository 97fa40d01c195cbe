package duradb

import (
	"fmt"
	"sort"
	"time"

	"github.com/ondisk/duradb/internal/bucket"
	"github.com/ondisk/duradb/internal/format"
	"github.com/ondisk/duradb/internal/pepper"
)

// flusherLoop is the background goroutine started by Open. It wakes on an
// explicit signal (Insert crossing the arena threshold), a coarse
// periodic tick, or Close, and drains the staging maps to disk following
// spec.md §4.4.4-§4.4.5's protocol. Any error is latched via
// s.latchError and makes the store observably unusable thereafter.
func (s *Store) flusherLoop(tick time.Duration) {
	defer close(s.flusherDone)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
			s.drainEpoch()
		case <-ticker.C:
			s.drainEpoch()
		case <-s.stopCh:
			s.drainEpoch()
			return
		}
	}
}

// drainEpoch runs one flush cycle: it rotates p0 into p1 under the
// staging lock, then writes p1 out to the data, log, and key files, then
// clears p1. A no-op if p0 is empty. Errors are latched, not returned;
// once latched, later calls become no-ops.
func (s *Store) drainEpoch() {
	if s.checkErr() != nil {
		return
	}

	s.mu.Lock()
	if len(s.p1) != 0 {
		s.mu.Unlock()
		s.latchError(fmt.Errorf("flusher: p1 not drained before next epoch"))
		return
	}
	if len(s.p0) == 0 {
		s.mu.Unlock()
		return
	}
	p1 := s.p0
	s.p0 = make(map[string][]byte)
	s.p0Size = 0
	s.p1 = p1
	s.mu.Unlock()

	s.epoch++

	if err := s.flushP1(p1); err != nil {
		s.latchError(err)
		return
	}

	s.mu.Lock()
	s.p1 = make(map[string][]byte)
	s.mu.Unlock()
}

type pendingEntry struct {
	key       []byte
	value     []byte
	hash      uint64
	bucketIdx uint64
}

type bucketTriple struct {
	offset, size, hash uint64
}

// flushP1 implements spec.md §4.4.4 steps 3-8 and §4.4.5's sync ordering
// for one epoch's worth of staged writes.
func (s *Store) flushP1(p1 map[string][]byte) error {
	entries := make([]pendingEntry, 0, len(p1))
	for k, v := range p1 {
		key := []byte(k)
		h := pepper.Mix(s.hasherFactory, key, s.saltBytes)
		n := bucket.Index(h, s.buckets, s.modulus)
		entries = append(entries, pendingEntry{key: key, value: v, hash: h, bucketIdx: n})
	}
	// Sort by bucket index so writes to each bucket are grouped
	// (spec.md §4.4.4 step 3).
	sort.Slice(entries, func(i, j int) bool { return entries[i].bucketIdx < entries[j].bucketIdx })

	epochStart := s.dataWriter.Offset()

	byBucket := make(map[uint64][]bucketTriple)
	for _, e := range entries {
		off, err := s.dataWriter.WriteRecord(e.key, e.value)
		if err != nil {
			return fmt.Errorf("flusher: append record: %w", err)
		}
		byBucket[e.bucketIdx] = append(byBucket[e.bucketIdx], bucketTriple{offset: off, size: uint64(len(e.value)), hash: e.hash})
	}

	// Step 1 of §4.4.5: new records must be durable before any bucket
	// entry can point to them.
	if err := s.dataWriter.Sync(); err != nil {
		return fmt.Errorf("flusher: sync data file: %w", err)
	}

	if len(byBucket) == 0 {
		return nil
	}

	sortedIdx := make([]uint64, 0, len(byBucket))
	for idx := range byBucket {
		sortedIdx = append(sortedIdx, idx)
	}
	sort.Slice(sortedIdx, func(i, j int) bool { return sortedIdx[i] < sortedIdx[j] })

	if err := s.openLogEpoch(epochStart); err != nil {
		return fmt.Errorf("flusher: open log epoch: %w", err)
	}

	preimages := make(map[uint64][]byte, len(sortedIdx))
	logOff := uint64(format.HeaderSize)
	for _, idx := range sortedIdx {
		blk, err := s.readBucketBlock(idx)
		if err != nil {
			return fmt.Errorf("flusher: read bucket %d: %w", idx, err)
		}
		preimages[idx] = blk

		rec := make([]byte, 8+s.blockSize)
		putUint64(rec, 0, idx)
		copy(rec[8:], blk)
		if err := writeFull(s.lg, rec, int64(logOff)); err != nil {
			return fmt.Errorf("flusher: append log pre-image: %w", err)
		}
		logOff += uint64(len(rec))
	}

	// Step 3 of §4.4.5: pre-images must be durable before the key file
	// is mutated.
	if err := s.lg.Sync(); err != nil {
		return fmt.Errorf("flusher: sync log file: %w", err)
	}

	spilled := false
	for _, idx := range sortedIdx {
		fresh, err := s.readBucketBlock(idx)
		if err != nil {
			return fmt.Errorf("flusher: reread bucket %d: %w", idx, err)
		}
		b, err := bucket.Load(s.blockSize, fresh, bucket.Existing)
		if err != nil {
			return fmt.Errorf("flusher: load bucket %d: %w", idx, err)
		}
		for _, tr := range byBucket[idx] {
			if b.Full() {
				if err := b.SpillTo(s.dataWriter); err != nil {
					return fmt.Errorf("flusher: spill bucket %d: %w", idx, err)
				}
				spilled = true
			}
			if err := b.Insert(bucket.Entry{Offset: tr.offset, Size: tr.size, Hash: tr.hash}); err != nil {
				return fmt.Errorf("flusher: insert into bucket %d: %w", idx, err)
			}
		}
		off := int64(idx+1) * int64(s.blockSize)
		if err := writeFull(s.key, b.Bytes(), off); err != nil {
			return fmt.Errorf("flusher: write bucket %d: %w", idx, err)
		}
	}

	// A spill during bucket mutation appends more data-file records
	// after the step-1 sync; those must also be durable before the key
	// file entries that now point at them are made visible.
	if spilled {
		if err := s.dataWriter.Sync(); err != nil {
			return fmt.Errorf("flusher: sync data file after spill: %w", err)
		}
	}

	if err := s.key.Sync(); err != nil {
		return fmt.Errorf("flusher: sync key file: %w", err)
	}

	if err := s.closeLogEpoch(); err != nil {
		return err
	}

	s.logger.Printf("duradb: flush epoch %d: %d records, %d buckets, %d bytes",
		s.epoch, len(entries), len(byBucket), s.dataWriter.Offset()-epochStart)
	return nil
}

// openLogEpoch ensures the log file exists and its header reflects this
// epoch's pre-crash file lengths, per spec.md §4.4.5 step 2.
func (s *Store) openLogEpoch(epochStartOffset uint64) error {
	if s.lg == nil {
		exists, err := s.fs.Exists(s.logPath)
		if err != nil {
			return err
		}
		var lg File
		if exists {
			lg, err = s.fs.Open(s.logPath)
		} else {
			lg, err = s.fs.Create(s.logPath)
		}
		if err != nil {
			return err
		}
		s.lg = lg
	}

	keySize, err := s.key.Size()
	if err != nil {
		return err
	}

	h := format.LogHeader{
		Version:     format.Version,
		UID:         s.dataHeader.UID,
		Appnum:      s.dataHeader.Appnum,
		KeySize:     uint16(s.keySize),
		Salt:        s.keyHeader.Salt,
		Pepper:      s.keyHeader.Pepper,
		BlockSize:   uint16(s.blockSize),
		KeyFileSize: uint64(keySize),
		DatFileSize: epochStartOffset,
	}
	if err := writeFull(s.lg, h.Marshal(), 0); err != nil {
		return err
	}
	return s.lg.Truncate(int64(format.HeaderSize))
}

// closeLogEpoch truncates the log file's body back to just its header,
// signalling "no uncommitted work" by file size (spec.md §4.4.4 step 7),
// and fsyncs. The log file itself is left in place until Close.
func (s *Store) closeLogEpoch() error {
	if err := s.lg.Truncate(int64(format.HeaderSize)); err != nil {
		return fmt.Errorf("flusher: truncate log: %w", err)
	}
	return s.lg.Sync()
}

func putUint64(buf []byte, off int, v uint64) {
	buf[off] = byte(v >> 56)
	buf[off+1] = byte(v >> 48)
	buf[off+2] = byte(v >> 40)
	buf[off+3] = byte(v >> 32)
	buf[off+4] = byte(v >> 24)
	buf[off+5] = byte(v >> 16)
	buf[off+6] = byte(v >> 8)
	buf[off+7] = byte(v)
}
