// Package imagestore is the two-tier image cache: an in-memory map in front
// of a durable directory on an afero filesystem. Keys are opaque identifiers;
// putting nil bytes deletes the key from both tiers.
package imagestore

import (
	"bytes"
	"fmt"
	"hash/maphash"
	"io/fs"
	"path"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
)

const (
	maxKeyLength = 200
	lockStripes  = 64
	filePerm     = 0o644
	dirPerm      = 0o755
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is safe for concurrent use. Operations on one key are serialized;
// different keys proceed in parallel.
type Store struct {
	fs      afero.Fs
	dir     string
	memory  sync.Map // key -> []byte
	bytes   atomic.Int64
	entries atomic.Int64
	seed    maphash.Seed
	locks   [lockStripes]sync.Mutex
	reads   singleflight.Group
	metrics *metrics.ImageStoreMetrics
	logger  logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records hits, misses and memory usage.
func WithMetrics(m *metrics.ImageStoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store whose durable tier lives under dir on fsys.
func New(fsys afero.Fs, dir string, opts ...Option) (*Store, error) {
	if fsys == nil {
		return nil, fmt.Errorf("imagestore: filesystem is required")
	}
	if dir == "" {
		dir = "."
	}
	s := &Store{
		fs:     fsys,
		dir:    dir,
		seed:   maphash.MakeSeed(),
		logger: logger.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := fsys.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.New(err).
			Component("imagestore").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return s, nil
}

// ValidateKey reports whether key can be stored.
func ValidateKey(key string) error {
	if len(key) == 0 || len(key) > maxKeyLength || !keyPattern.MatchString(key) {
		return errors.Newf("invalid image key %q", key).
			Component("imagestore").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Get returns the bytes stored under key. A durable-tier hit is copied into
// the memory tier before returning.
func (s *Store) Get(key string) ([]byte, bool) {
	if ValidateKey(key) != nil {
		return nil, false
	}

	if data, ok := s.loadMemory(key); ok {
		s.metrics.IncHit("memory")
		return bytes.Clone(data), true
	}

	v, err, _ := s.reads.Do(key, func() (any, error) {
		return s.readThrough(key)
	})
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("durable read failed", logger.String("key", key), logger.Error(err))
		}
		s.metrics.IncMiss()
		return nil, false
	}
	data, _ := v.([]byte)
	return bytes.Clone(data), true
}

// readThrough loads key from the durable tier into memory under the key lock.
func (s *Store) readThrough(key string) ([]byte, error) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	// A Put may have landed while waiting for the lock.
	if data, ok := s.loadMemory(key); ok {
		s.metrics.IncHit("memory")
		return data, nil
	}

	data, err := afero.ReadFile(s.fs, s.filePath(key))
	if err != nil {
		return nil, err
	}

	s.storeMemory(key, data)
	s.metrics.IncHit("disk")
	s.logger.Trace("durable hit promoted to memory", logger.String("key", key), logger.Int("bytes", len(data)))
	return data, nil
}

// Has reports whether key is present in either tier without loading it.
func (s *Store) Has(key string) bool {
	if ValidateKey(key) != nil {
		return false
	}
	if _, ok := s.memory.Load(key); ok {
		return true
	}
	_, err := s.fs.Stat(s.filePath(key))
	return err == nil
}

// Put stores data under key, or deletes key from both tiers when data is nil.
// The memory tier is written first; a durable-tier failure is returned but the
// memory entry is kept.
func (s *Store) Put(key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if data == nil {
		return s.Delete(key)
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	s.storeMemory(key, bytes.Clone(data))

	if err := s.writeFile(key, data); err != nil {
		s.metrics.IncWriteError()
		s.logger.Warn("durable write failed, memory entry kept",
			logger.String("key", key), logger.Error(err))
		return errors.New(err).
			Component("imagestore").
			Category(errors.CategoryImageCache).
			Context("operation", "write").
			Context("key", key).
			Build()
	}
	return nil
}

// Delete removes key from both tiers. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	s.deleteMemory(key)

	if err := s.fs.Remove(s.filePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.metrics.IncWriteError()
		return errors.New(err).
			Component("imagestore").
			Category(errors.CategoryImageCache).
			Context("operation", "delete").
			Context("key", key).
			Build()
	}
	return nil
}

// MemoryUsage returns the bytes and entry count held by the memory tier.
func (s *Store) MemoryUsage() (size, entries int64) {
	return s.bytes.Load(), s.entries.Load()
}

func (s *Store) loadMemory(key string) ([]byte, bool) {
	v, ok := s.memory.Load(key)
	if !ok {
		return nil, false
	}
	data, ok := v.([]byte)
	return data, ok
}

// storeMemory must be called with the key lock held.
func (s *Store) storeMemory(key string, data []byte) {
	prev, loaded := s.memory.Swap(key, data)
	if loaded {
		if old, ok := prev.([]byte); ok {
			s.bytes.Add(-int64(len(old)))
		}
	} else {
		s.entries.Add(1)
	}
	s.bytes.Add(int64(len(data)))
	s.metrics.SetMemoryUsage(s.MemoryUsage())
}

// deleteMemory must be called with the key lock held.
func (s *Store) deleteMemory(key string) {
	prev, loaded := s.memory.LoadAndDelete(key)
	if !loaded {
		return
	}
	if old, ok := prev.([]byte); ok {
		s.bytes.Add(-int64(len(old)))
	}
	s.entries.Add(-1)
	s.metrics.SetMemoryUsage(s.MemoryUsage())
}

// writeFile writes to a temp file in the shard directory and renames it into place.
func (s *Store) writeFile(key string, data []byte) error {
	target := s.filePath(key)
	shardDir := path.Dir(target)
	if err := s.fs.MkdirAll(shardDir, dirPerm); err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, shardDir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Chmod(tmpName, filePerm); err != nil {
		s.logger.Debug("chmod of cache file failed", logger.String("key", key), logger.Error(err))
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	return nil
}

// filePath shards files by the first two key characters.
func (s *Store) filePath(key string) string {
	shard := key[:min(2, len(key))]
	return path.Join(s.dir, shard, key)
}

func (s *Store) lockFor(key string) *sync.Mutex {
	return &s.locks[maphash.String(s.seed, key)%lockStripes]
}
