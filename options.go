package duradb

import (
	"io"
	"log"
	"time"
)

const (
	// DefaultArenaSize is the default target combined size of the p0/p1
	// staging maps before the flusher is signalled (spec.md §4.4.2 step
	// 5 compares against half of this).
	DefaultArenaSize = 32 * 1 << 20 // 32 MiB
	// DefaultFlushInterval is the coarse periodic tick spec.md §4.4.4
	// describes the flusher waking on even without an explicit signal.
	DefaultFlushInterval = 500 * time.Millisecond
)

// DefaultBuckets is the bucket count Create uses when WithBuckets isn't
// given. duradb's core never grows the key file on its own (spec.md
// §1's non-goals) -- callers with a known working-set size should pass
// WithBuckets, and Rekey can resize an existing database later.
const DefaultBuckets = 16

type config struct {
	fs            FS
	hasher        HasherFactory
	logger        *log.Logger
	arenaSize     uint64
	flushInterval time.Duration
	blockSize     int
	loadFactor    float64
	numBuckets    uint64
}

func defaultConfig() config {
	return config{
		fs:            DefaultFS,
		hasher:        DefaultHasher,
		logger:        log.New(io.Discard, "", 0),
		arenaSize:     DefaultArenaSize,
		flushInterval: DefaultFlushInterval,
		blockSize:     4096,
		loadFactor:    0.5,
		numBuckets:    DefaultBuckets,
	}
}

// buckets returns the configured initial bucket count, used by Create.
func (c config) buckets() uint64 {
	return c.numBuckets
}

// Option configures Create or Open.
type Option func(*config)

// WithFS overrides the FS used to create/open the three files, primarily
// for tests that want deterministic in-memory or fault-injecting files.
func WithFS(fs FS) Option {
	return func(c *config) { c.fs = fs }
}

// WithHasher overrides the default farmhash-based Hasher.
func WithHasher(f HasherFactory) Option {
	return func(c *config) { c.hasher = f }
}

// WithLogger directs the store's diagnostic log lines (flusher drain
// cycles, recovery steps) to logger instead of discarding them.
func WithLogger(logger *log.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithArenaSize overrides DefaultArenaSize, the target combined byte size
// of the p0/p1 staging maps before the flusher is signalled.
func WithArenaSize(n uint64) Option {
	return func(c *config) { c.arenaSize = n }
}

// WithFlushInterval overrides how often the flusher wakes even without an
// explicit rotate signal.
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) { c.flushInterval = d }
}

// WithBlockSize sets the key-file bucket block size used by Create. It
// has no effect on Open, where the block size is read from the key file
// header.
func WithBlockSize(n int) Option {
	return func(c *config) { c.blockSize = n }
}

// WithLoadFactor sets the load factor (0, 1] that Create records in the
// key file header and that Rekey uses, with its item count, to size the
// new key file's bucket count. Create takes its bucket count from
// WithBuckets, not from the load factor. It has no effect on Open.
func WithLoadFactor(f float64) Option {
	return func(c *config) { c.loadFactor = f }
}

// WithBuckets sets the initial bucket count used by Create. It has no
// effect on Open, where the bucket count is read from the key file
// header.
func WithBuckets(n uint64) Option {
	return func(c *config) {
		if n > 0 {
			c.numBuckets = n
		}
	}
}
