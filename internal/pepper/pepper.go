// Package pepper implements the salt/pepper hashing glue described in
// spec.md §2 and §4.4.1: mixing a per-database salt into a key before
// hashing, and computing the "pepper" magic that lets duradb detect at
// open time that a key file was produced with a different hasher than the
// one configured.
package pepper

import (
	"github.com/dgryski/go-farm"
)

// Hasher is duradb's pluggable hash capability: a streaming digest over
// byte slices, seeded at construction. duradb.Hasher is the public alias
// of this interface; it lives here too so internal packages can depend on
// it without importing the root package.
type Hasher interface {
	Update(p []byte)
	Finalize() uint64
}

// Factory constructs a Hasher seeded with seed.
type Factory func(seed uint64) Hasher

// FarmHasher is the default Hasher, backed by github.com/dgryski/go-farm
// (the teacher's own hashing dependency). go-farm has no incremental
// digest API, so Update accumulates into a growable buffer and Finalize
// hashes it in one shot; this is correctness-preserving rather than
// performance-preserving, which is acceptable since duradb only ever
// hashes short, fixed-size keys.
type FarmHasher struct {
	seed uint64
	buf  []byte
}

// NewFarmHasher is a Factory for FarmHasher.
func NewFarmHasher(seed uint64) Hasher {
	return &FarmHasher{seed: seed}
}

// Update appends p to the pending digest input.
func (h *FarmHasher) Update(p []byte) {
	h.buf = append(h.buf, p...)
}

// Finalize returns farm's 64-bit hash of every byte passed to Update so
// far, seeded with the value this Hasher was constructed with.
func (h *FarmHasher) Finalize() uint64 {
	if h.seed == 0 {
		return farm.Hash64(h.buf)
	}
	return farm.Hash64WithSeed(h.buf, h.seed)
}

// Mix hashes key with the 8 big-endian bytes of salt appended, per
// spec.md §4.4.1 step 1 ("h = hash(key || salt_bytes)").
func Mix(newHasher Factory, key []byte, saltBytes []byte) uint64 {
	h := newHasher(0)
	h.Update(key)
	h.Update(saltBytes)
	return h.Finalize()
}

// Compute returns hasher(salt_as_8_big_endian_bytes), the pepper magic
// stored in both the key file and log file headers so a mismatched
// hasher is detected at open time rather than producing silently wrong
// bucket lookups.
func Compute(newHasher Factory, salt uint64) uint64 {
	saltBytes := saltToBytes(salt)
	h := newHasher(0)
	h.Update(saltBytes[:])
	return h.Finalize()
}

func saltToBytes(salt uint64) [8]byte {
	var b [8]byte
	b[0] = byte(salt >> 56)
	b[1] = byte(salt >> 48)
	b[2] = byte(salt >> 40)
	b[3] = byte(salt >> 32)
	b[4] = byte(salt >> 24)
	b[5] = byte(salt >> 16)
	b[6] = byte(salt >> 8)
	b[7] = byte(salt)
	return b
}

// SaltBytes exposes the salt-to-bytes encoding used by Compute, for
// callers (such as Mix's caller in the store) that need the same 8-byte
// encoding of the salt to append after a key.
func SaltBytes(salt uint64) []byte {
	b := saltToBytes(salt)
	return b[:]
}
