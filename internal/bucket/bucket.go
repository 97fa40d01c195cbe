// Package bucket implements in-place manipulation of a fixed-size bucket
// block from a duradb key file: the open-addressing "one block per bucket,
// chained spills into the data file" structure described in spec.md §4.2.
package bucket

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ondisk/duradb/internal/codec"
	"github.com/ondisk/duradb/internal/format"
)

// Kind selects how Load interprets buf.
type Kind int

const (
	// Existing means buf already holds a valid bucket block.
	Existing Kind = iota
	// Empty means buf should be zero-initialized as a fresh bucket.
	Empty
)

// Entry is one occupied slot in a bucket: the data-file offset and byte
// size of the record it addresses, and the precomputed 64-bit hash of its
// key.
type Entry struct {
	Offset uint64
	Size   uint64
	Hash   uint64
}

// ErrFull is returned by Insert when the bucket has no room left.
var ErrFull = errors.New("bucket: full")

// Bucket is a view over a block-size byte slice, plus its parsed header.
// It does not own buf; callers control its lifetime and are responsible
// for reading/writing buf from/to the key file.
type Bucket struct {
	blockSize int
	capacity  int
	buf       []byte
	count     uint16
	spill     uint64
}

// Load parses buf (or, for kind == Empty, zero-initializes it) as a
// blockSize-byte bucket block.
func Load(blockSize int, buf []byte, kind Kind) (*Bucket, error) {
	if len(buf) < blockSize {
		return nil, fmt.Errorf("bucket.Load: buf shorter than block size: %w", format.ErrShortKeyFile)
	}
	buf = buf[:blockSize]
	cap := format.Capacity(blockSize)
	if cap <= 0 {
		return nil, format.ErrInvalidBlockSize
	}
	b := &Bucket{blockSize: blockSize, capacity: cap, buf: buf}
	if kind == Empty {
		for i := range buf {
			buf[i] = 0
		}
		return b, nil
	}
	var err error
	if b.count, err = codec.Uint16(buf, 0); err != nil {
		return nil, err
	}
	if b.spill, err = codec.Uint48(buf, 2); err != nil {
		return nil, err
	}
	if int(b.count) > cap {
		return nil, fmt.Errorf("bucket.Load: count %d exceeds capacity %d: %w", b.count, cap, format.ErrInvalidCapacity)
	}
	return b, nil
}

// Bytes returns the underlying block bytes, kept in sync by every mutating
// method. The caller writes this slice back to the key file at the
// bucket's block offset.
func (b *Bucket) Bytes() []byte {
	return b.buf
}

// Capacity returns the maximum number of entries this bucket can hold.
func (b *Bucket) Capacity() int {
	return b.capacity
}

// Size returns the number of occupied entries.
func (b *Bucket) Size() int {
	return int(b.count)
}

// Full reports whether the bucket has no room for another entry.
func (b *Bucket) Full() bool {
	return int(b.count) == b.capacity
}

// Spill returns the data-file offset of the next link in this bucket's
// spill chain, or 0 if there is none.
func (b *Bucket) Spill() uint64 {
	return b.spill
}

func (b *Bucket) entryOffset(i int) int {
	return format.BucketHeaderSize + i*format.EntrySize
}

// At returns the i-th entry.
func (b *Bucket) At(i int) (Entry, error) {
	if i < 0 || i >= int(b.count) {
		return Entry{}, fmt.Errorf("bucket.At(%d): index out of range [0,%d)", i, b.count)
	}
	off := b.entryOffset(i)
	offset, err := codec.Uint48(b.buf, off)
	if err != nil {
		return Entry{}, err
	}
	size, err := codec.Uint48(b.buf, off+6)
	if err != nil {
		return Entry{}, err
	}
	hash, err := codec.Uint64(b.buf, off+12)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Offset: offset, Size: size, Hash: hash}, nil
}

func (b *Bucket) putEntry(i int, e Entry) error {
	off := b.entryOffset(i)
	if err := codec.PutUint48(b.buf, off, e.Offset); err != nil {
		return err
	}
	if err := codec.PutUint48(b.buf, off+6, e.Size); err != nil {
		return err
	}
	if err := codec.PutUint64(b.buf, off+12, e.Hash); err != nil {
		return err
	}
	return nil
}

// LowerBound returns the index of the first entry whose hash is >= hash,
// or Size() if none. Entries are kept sorted by hash so this runs in
// O(log Capacity).
func (b *Bucket) LowerBound(hash uint64) int {
	return sort.Search(int(b.count), func(i int) bool {
		e, err := b.At(i)
		if err != nil {
			// unreachable: i < count was just checked by sort.Search
			panic(err)
		}
		return e.Hash >= hash
	})
}

// Insert appends a new entry, keeping entries sorted by hash. The caller
// must ensure Full() is false before calling Insert.
func (b *Bucket) Insert(e Entry) error {
	if b.Full() {
		return ErrFull
	}
	i := b.LowerBound(e.Hash)
	// shift entries [i, count) right by one slot
	for j := int(b.count); j > i; j-- {
		prev, err := b.At(j - 1)
		if err != nil {
			return err
		}
		if err := b.putEntry(j, prev); err != nil {
			return err
		}
	}
	if err := b.putEntry(i, e); err != nil {
		return err
	}
	b.count++
	return codec.PutUint16(b.buf, 0, b.count)
}

// setSpill updates the spill pointer in both the struct and the backing
// buffer.
func (b *Bucket) setSpill(offset uint64) error {
	b.spill = offset
	return codec.PutUint48(b.buf, 2, offset)
}

// reset clears the bucket to empty (count 0) and zeroes its entry region,
// leaving the spill pointer untouched.
func (b *Bucket) reset() error {
	b.count = 0
	if err := codec.PutUint16(b.buf, 0, 0); err != nil {
		return err
	}
	// zero the entry region so stale bytes never leak into a re-read
	for i := format.BucketHeaderSize; i < b.blockSize; i++ {
		b.buf[i] = 0
	}
	return nil
}

// SpillWriter appends a spill record to the data file and returns its
// offset. duradb's bulkio.Writer satisfies this.
type SpillWriter interface {
	WriteSpill(bucketBytes []byte) (offset uint64, err error)
}

// SpillTo writes the bucket's current contents (its count, spill pointer,
// and entries) as a spill record via w, then clears the bucket to empty
// and points its spill pointer at the newly written record. The bucket
// keeps a link to its previous contents even though it now reports
// Size() == 0.
func (b *Bucket) SpillTo(w SpillWriter) error {
	payload := make([]byte, b.blockSize)
	copy(payload, b.buf)

	offset, err := w.WriteSpill(payload)
	if err != nil {
		return fmt.Errorf("bucket.SpillTo: %w", err)
	}
	if err := b.reset(); err != nil {
		return err
	}
	return b.setSpill(offset)
}

// SpillReader reads back a spill record's bucket payload given its
// data-file offset. duradb's bulkio.Reader (or the store's data-file
// accessor) satisfies this.
type SpillReader interface {
	ReadSpill(offset uint64) (bucketBytes []byte, err error)
}

// KeyReader reads the key bytes stored in the data record at offset,
// without needing the value. Used by FindInChain's full-key compare.
type KeyReader interface {
	ReadKey(offset uint64, keySize int) (key []byte, err error)
}

// Found is the result of a successful FindInChain lookup.
type Found struct {
	Offset uint64
	Size   uint64
}

// FindInChain walks this bucket's entries and then, if present, every
// link of its spill chain, looking for an entry whose hash equals hash
// and whose data-file key equals key. It returns ok == false if no match
// is found anywhere in the chain.
func FindInChain(first *Bucket, key []byte, hash uint64, keySize int, kr KeyReader, sr SpillReader) (found Found, ok bool, err error) {
	b := first
	for {
		lo := b.LowerBound(hash)
		for i := lo; i < b.Size(); i++ {
			e, err := b.At(i)
			if err != nil {
				return Found{}, false, err
			}
			if e.Hash != hash {
				break
			}
			candidateKey, err := kr.ReadKey(e.Offset, keySize)
			if err != nil {
				return Found{}, false, err
			}
			if bytesEqual(candidateKey, key) {
				return Found{Offset: e.Offset, Size: e.Size}, true, nil
			}
		}
		if b.Spill() == 0 {
			return Found{}, false, nil
		}
		payload, err := sr.ReadSpill(b.Spill())
		if err != nil {
			return Found{}, false, err
		}
		b, err = Load(b.blockSize, payload, Existing)
		if err != nil {
			return Found{}, false, err
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Index computes the bucket index for hash under linear hashing, per
// spec.md §4.3: n = hash mod modulus; if n >= buckets, n = hash mod
// (modulus/2). modulus is the smallest power of two >= buckets.
func Index(hash uint64, buckets, modulus uint64) uint64 {
	n := hash % modulus
	if n >= buckets {
		n = hash % (modulus / 2)
	}
	return n
}

// CeilPow2 returns the smallest power of two >= n (n >= 1).
func CeilPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Split redistributes this bucket's entries between itself and other
// according to Index(hash, buckets, modulus): entries that still map to
// this bucket's own index stay, the rest move to other. Used when growing
// a key file one bucket at a time (spec.md §4.3); the present core never
// grows a key file after Create, so Split exists for API completeness and
// is exercised directly by tests rather than by the store or flusher.
func Split(b, other *Bucket, ownIndex, buckets, modulus uint64) error {
	if other.Size() != 0 || other.Spill() != 0 {
		return errors.New("bucket.Split: destination bucket must be empty")
	}
	kept := make([]Entry, 0, b.Size())
	moved := make([]Entry, 0, b.Size())
	for i := 0; i < b.Size(); i++ {
		e, err := b.At(i)
		if err != nil {
			return err
		}
		if Index(e.Hash, buckets, modulus) == ownIndex {
			kept = append(kept, e)
		} else {
			moved = append(moved, e)
		}
	}
	if err := b.reset(); err != nil {
		return err
	}
	for _, e := range kept {
		if err := b.Insert(e); err != nil {
			return err
		}
	}
	for _, e := range moved {
		if other.Full() {
			return fmt.Errorf("bucket.Split: destination overflowed: %w", ErrFull)
		}
		if err := other.Insert(e); err != nil {
			return err
		}
	}
	return nil
}

// MergeFromSpill pulls the entries of this bucket's immediate spill link
// back into the bucket, provided they all fit, adopting that link's own
// spill pointer (if any) as the bucket's new spill pointer. It reports
// merged == false, leaving the bucket untouched, if there is no spill or
// the entries would not fit.
func MergeFromSpill(b *Bucket, sr SpillReader) (merged bool, err error) {
	if b.Spill() == 0 {
		return false, nil
	}
	payload, err := sr.ReadSpill(b.Spill())
	if err != nil {
		return false, err
	}
	link, err := Load(b.blockSize, payload, Existing)
	if err != nil {
		return false, err
	}
	if b.Size()+link.Size() > b.Capacity() {
		return false, nil
	}
	entries := make([]Entry, 0, link.Size())
	for i := 0; i < link.Size(); i++ {
		e, err := link.At(i)
		if err != nil {
			return false, err
		}
		entries = append(entries, e)
	}
	nextSpill := link.Spill()
	if err := b.setSpill(nextSpill); err != nil {
		return false, err
	}
	for _, e := range entries {
		if err := b.Insert(e); err != nil {
			return false, err
		}
	}
	return true, nil
}
