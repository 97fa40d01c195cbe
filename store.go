// Package duradb implements an append-only, insert-once key/value store
// optimized for write-heavy workloads whose working set exceeds RAM: an
// on-disk data/key/log file triplet, a two-map in-memory write buffer
// drained by a background flusher, and a crash-recovery protocol driven
// entirely by the log file.
package duradb

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ondisk/duradb/internal/bucket"
	"github.com/ondisk/duradb/internal/bulkio"
	"github.com/ondisk/duradb/internal/format"
	"github.com/ondisk/duradb/internal/pepper"
)

// Store is an open handle to a duradb database triplet.
type Store struct {
	fs     FS
	logger *log.Logger

	hasherFactory HasherFactory
	saltBytes     []byte

	datPath, keyPath, logPath string

	dat File
	key File
	lg  File // nil until the first flush epoch opens the log file

	dataHeader format.DataHeader
	keyHeader  format.KeyHeader

	keySize   int
	blockSize int
	buckets   uint64
	modulus   uint64

	dataWriter *bulkio.Writer
	dataReader *bulkio.Reader

	arenaSize uint64

	mu     sync.Mutex
	p0, p1 map[string][]byte
	p0Size uint64

	// epoch counts started flush cycles, for diagnostic logging only;
	// touched solely by the flusher goroutine.
	epoch uint64

	wake        chan struct{}
	stopCh      chan struct{}
	flusherDone chan struct{}

	errMu    sync.Mutex
	storeErr *StoreError

	closed atomic.Bool
}

// Appnum returns the caller-chosen opaque application number recorded at
// Create.
func (s *Store) Appnum() uint64 {
	return s.dataHeader.Appnum
}

// KeySize returns the fixed key size, in bytes, this database was created
// with.
func (s *Store) KeySize() int {
	return s.keySize
}

// Create initializes a new, empty database triplet at datPath/keyPath/
// logPath. It fails with ErrFileExists if any target already exists. The
// log file is not created here; it comes into being lazily on the first
// flush epoch after Open (spec.md §3 Lifecycle).
//
// salt seeds the store's key hash; pass 0 to have Create generate one
// with crypto/rand.
func Create(datPath, keyPath, logPath string, appnum, salt uint64, keySize int, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if keySize <= 0 || keySize > 1<<16-1 {
		return ErrInvalidKeySize
	}
	if format.Capacity(cfg.blockSize) < 1 {
		return ErrInvalidBlockSize
	}
	if cfg.loadFactor <= 0 || cfg.loadFactor > 1 {
		return ErrInvalidLoadFactor
	}
	for _, p := range []string{datPath, keyPath, logPath} {
		exists, err := cfg.fs.Exists(p)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("create %s: %w", p, ErrFileExists)
		}
	}

	if salt == 0 {
		var err error
		salt, err = format.NewUID()
		if err != nil {
			return err
		}
	}
	uid, err := format.NewUID()
	if err != nil {
		return err
	}

	if err := createDataFile(cfg.fs, datPath, uid, appnum, keySize); err != nil {
		return err
	}
	if err := createKeyFile(cfg.fs, keyPath, uid, appnum, keySize, salt, cfg); err != nil {
		_ = cfg.fs.Erase(datPath)
		return err
	}
	return nil
}

func createDataFile(fs FS, path string, uid, appnum uint64, keySize int) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := format.DataHeader{Version: format.Version, UID: uid, Appnum: appnum, KeySize: uint16(keySize)}
	if err := writeFull(f, h.Marshal(), 0); err != nil {
		return err
	}
	return f.Sync()
}

func createKeyFile(fs FS, path string, uid, appnum uint64, keySize int, salt uint64, cfg config) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buckets := cfg.buckets()
	total := int64(buckets+1) * int64(cfg.blockSize)

	// Pre-allocate the whole file as zeroed blocks before the header is
	// committed (spec.md §3, §4.4.1): write a single zero byte at the
	// last offset so the file grows to its final size up front.
	if err := writeFull(f, []byte{0}, total-1); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	pep := pepper.Compute(cfg.hasher, salt)
	loadFactor := cfg.loadFactor * 65536
	if loadFactor > 65535 {
		loadFactor = 65535
	}
	h := format.KeyHeader{
		Version:    format.Version,
		UID:        uid,
		Appnum:     appnum,
		KeySize:    uint16(keySize),
		Salt:       salt,
		Pepper:     pep,
		BlockSize:  uint16(cfg.blockSize),
		LoadFactor: uint16(loadFactor),
		Buckets:    buckets,
		Modulus:    bucket.CeilPow2(buckets),
	}
	if err := writeFull(f, h.Marshal(), 0); err != nil {
		return err
	}
	return f.Sync()
}

func writeFull(f File, p []byte, off int64) error {
	n, err := f.WriteAt(p, off)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrShortWrite
	}
	return nil
}

// Open opens an existing database triplet and starts its background
// flusher. It fails with ErrRecoverNeeded if a log file is present --
// callers must run Recover first.
func Open(datPath, keyPath, logPath string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if exists, err := cfg.fs.Exists(logPath); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrRecoverNeeded
	}

	datFile, err := cfg.fs.Open(datPath)
	if err != nil {
		return nil, err
	}
	keyFile, err := cfg.fs.Open(keyPath)
	if err != nil {
		_ = datFile.Close()
		return nil, err
	}

	dh, kh, err := readAndValidateHeaders(datFile, keyFile, cfg.hasher)
	if err != nil {
		_ = datFile.Close()
		_ = keyFile.Close()
		return nil, err
	}

	if locker, ok := datFile.(fileLocker); ok {
		if err := locker.Lock(); err != nil {
			_ = datFile.Close()
			_ = keyFile.Close()
			return nil, err
		}
	}

	datSize, err := datFile.Size()
	if err != nil {
		return nil, err
	}

	s := &Store{
		fs:            cfg.fs,
		logger:        cfg.logger,
		hasherFactory: cfg.hasher,
		saltBytes:     pepper.SaltBytes(kh.Salt),
		datPath:       datPath,
		keyPath:       keyPath,
		logPath:       logPath,
		dat:           datFile,
		key:           keyFile,
		dataHeader:    dh,
		keyHeader:     kh,
		keySize:       int(dh.KeySize),
		blockSize:     int(kh.BlockSize),
		buckets:       kh.Buckets,
		modulus:       kh.Modulus,
		dataWriter:    bulkio.NewWriter(datFile, uint64(datSize)),
		dataReader:    bulkio.NewReader(datFile, int(dh.KeySize)),
		arenaSize:     cfg.arenaSize,
		p0:            make(map[string][]byte),
		p1:            make(map[string][]byte),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		flusherDone:   make(chan struct{}),
	}

	go s.flusherLoop(cfg.flushInterval)

	return s, nil
}

func readAndValidateHeaders(datFile, keyFile File, hasherFactory HasherFactory) (format.DataHeader, format.KeyHeader, error) {
	var datBuf, keyBuf [format.HeaderSize]byte
	if err := readFull(datFile, datBuf[:], 0); err != nil {
		return format.DataHeader{}, format.KeyHeader{}, err
	}
	if err := readFull(keyFile, keyBuf[:], 0); err != nil {
		return format.DataHeader{}, format.KeyHeader{}, err
	}

	dh, err := format.UnmarshalDataHeader(datBuf[:])
	if err != nil {
		return dh, format.KeyHeader{}, translateFormatErr(err)
	}
	kh, err := format.UnmarshalKeyHeader(keyBuf[:])
	if err != nil {
		return dh, kh, translateFormatErr(err)
	}

	if dh.UID != kh.UID {
		return dh, kh, ErrUIDMismatch
	}
	if dh.Appnum != kh.Appnum {
		return dh, kh, ErrAppnumMismatch
	}
	if dh.KeySize != kh.KeySize {
		return dh, kh, ErrKeyMismatch
	}
	if pepper.Compute(hasherFactory, kh.Salt) != kh.Pepper {
		return dh, kh, ErrHashMismatch
	}
	return dh, kh, nil
}

func readFull(f File, p []byte, off int64) error {
	n, err := f.ReadAt(p, off)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrShortRead
	}
	return nil
}

func translateFormatErr(err error) error {
	// format's sentinels are distinct values from duradb's; map them so
	// callers of the public API only ever need to compare against this
	// package's exported errors.
	switch {
	case err == format.ErrNotDataFile:
		return ErrNotDataFile
	case err == format.ErrNotKeyFile:
		return ErrNotKeyFile
	case err == format.ErrNotLogFile:
		return ErrNotLogFile
	case err == format.ErrInvalidVersion:
		return ErrInvalidVersion
	case err == format.ErrInvalidKeySize:
		return ErrInvalidKeySize
	case err == format.ErrInvalidBlockSize:
		return ErrInvalidBlockSize
	case err == format.ErrInvalidLoadFactor:
		return ErrInvalidLoadFactor
	case err == format.ErrShortDatFile, err == format.ErrShortRead:
		return ErrShortDatFile
	case err == format.ErrShortKeyFile:
		return ErrShortKeyFile
	default:
		return err
	}
}

// Close signals the flusher to drain and stop, waits for it to exit,
// erases the (now-empty) log file, and closes the underlying files.
// Callers must not call Insert concurrently with Close.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	close(s.stopCh)
	<-s.flusherDone

	if err := s.checkErr(); err != nil {
		return err
	}

	if s.lg != nil {
		if err := s.lg.Close(); err != nil {
			return err
		}
	}
	if err := s.fs.Erase(s.logPath); err != nil {
		return err
	}

	if locker, ok := s.dat.(fileLocker); ok {
		_ = locker.Unlock()
	}
	if err := s.dat.Close(); err != nil {
		return err
	}
	return s.key.Close()
}

func (s *Store) checkErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	return nil
}

func (s *Store) latchError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.storeErr == nil {
		s.storeErr = &StoreError{Err: err}
		s.logger.Printf("duradb: flusher error, store now unusable: %v", err)
	}
}

func (s *Store) signalFlush() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Insert stores (key, value), following the commit protocol in spec.md
// §4.4.2. Insert of a key already present fails with ErrKeyExists and
// leaves the database unchanged.
func (s *Store) Insert(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.checkErr(); err != nil {
		return err
	}
	if len(key) != s.keySize {
		return ErrKeySize
	}
	if len(value) == 0 {
		return ErrInvalidValueSize
	}

	h := pepper.Mix(s.hasherFactory, key, s.saltBytes)
	keyStr := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.p1[keyStr]; ok {
		return ErrKeyExists
	}
	if _, ok := s.p0[keyStr]; ok {
		return ErrKeyExists
	}

	found, err := s.probeDisk(key, h)
	if err != nil {
		return err
	}
	if found {
		return ErrKeyExists
	}

	s.p0[keyStr] = append([]byte(nil), value...)
	s.p0Size += uint64(len(key) + len(value))

	if s.p0Size > s.arenaSize/2 {
		s.signalFlush()
	}
	return nil
}

// probeDisk walks the on-disk bucket chain for key/h. Called with s.mu
// held, per spec.md §4.4.2 step 3.
func (s *Store) probeDisk(key []byte, h uint64) (bool, error) {
	n := bucket.Index(h, s.buckets, s.modulus)
	blk, err := s.readBucketBlock(n)
	if err != nil {
		return false, err
	}
	b, err := bucket.Load(s.blockSize, blk, bucket.Existing)
	if err != nil {
		return false, err
	}
	_, ok, err := bucket.FindInChain(b, key, h, s.keySize, s.dataReader, s.dataReader)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Store) readBucketBlock(index uint64) ([]byte, error) {
	buf := make([]byte, s.blockSize)
	off := int64(index+1) * int64(s.blockSize)
	if err := readFull(s.key, buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// Fetch looks up key, invoking sink with a borrowed slice of the value
// bytes on a hit. It returns ErrKeyNotFound if key isn't present.
func (s *Store) Fetch(key []byte, sink func([]byte) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.checkErr(); err != nil {
		return err
	}
	if len(key) != s.keySize {
		return ErrKeySize
	}
	keyStr := string(key)

	s.mu.Lock()
	if v, ok := s.p1[keyStr]; ok {
		s.mu.Unlock()
		return sink(v)
	}
	if v, ok := s.p0[keyStr]; ok {
		s.mu.Unlock()
		return sink(v)
	}
	s.mu.Unlock()

	h := pepper.Mix(s.hasherFactory, key, s.saltBytes)
	n := bucket.Index(h, s.buckets, s.modulus)
	blk, err := s.readBucketBlock(n)
	if err != nil {
		return err
	}
	b, err := bucket.Load(s.blockSize, blk, bucket.Existing)
	if err != nil {
		return err
	}
	found, ok, err := bucket.FindInChain(b, key, h, s.keySize, s.dataReader, s.dataReader)
	if err != nil {
		return err
	}
	if !ok {
		return ErrKeyNotFound
	}
	rec, err := s.dataReader.ReadRecord(found.Offset)
	if err != nil {
		return err
	}
	return sink(rec.Value)
}
