package duradb

import "github.com/ondisk/duradb/internal/pepper"

// Hasher is duradb's pluggable hash capability (spec.md §6.2): a
// streaming digest over byte slices.
type Hasher = pepper.Hasher

// HasherFactory constructs a Hasher seeded with a 64-bit value.
type HasherFactory = pepper.Factory

// DefaultHasher is the Hasher used when no HasherFactory option is given,
// backed by github.com/dgryski/go-farm (the teacher's own hashing
// dependency).
var DefaultHasher HasherFactory = pepper.NewFarmHasher
