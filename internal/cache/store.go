// Package cache provides the persisted key-value stores used by the
// standardization and summarization components.
//
// The file-backed store is a single JSON object written with sorted keys so
// users can hand-edit entries between runs and diff the result. Manual
// overrides are a supported workflow, not an implementation detail.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is a key-value store with explicit flush semantics.
// Implementations must be safe for concurrent readers; writes are expected
// to happen in single-threaded post-fan-in phases of the pipeline.
type Store interface {
	// Get returns the raw JSON value for key, if present.
	Get(key string) (json.RawMessage, bool)

	// Put stages a value for key. Values are not durable until Flush.
	Put(key string, value json.RawMessage)

	// Flush persists staged values.
	Flush() error

	// Len returns the number of entries.
	Len() int
}

// FileStore is a Store backed by a single JSON file on disk.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	entries map[string]json.RawMessage
	logger  *slog.Logger
}

// NewFileStore opens (or lazily creates) the store at path.
// A missing file yields an empty store; a corrupt file is logged and treated
// as empty rather than failing the run, matching the advisory nature of the
// caches.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		path:    path,
		entries: make(map[string]json.RawMessage),
		logger:  logger.With("cache", filepath.Base(path)),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read cache file", "path", path, "error", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		s.logger.Warn("failed to parse cache file, starting empty", "path", path, "error", err)
		s.entries = make(map[string]json.RawMessage)
	}
	return s
}

// Get returns the value for key.
func (s *FileStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put stages a value for key.
func (s *FileStore) Put(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Len returns the number of entries.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Flush writes all entries to disk as indented JSON with sorted keys.
func (s *FileStore) Flush() error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '\n', ' ', ' ')
		kb, err := json.Marshal(k)
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("failed to marshal cache key %q: %w", k, err)
		}
		buf = append(buf, kb...)
		buf = append(buf, ':', ' ')
		buf = append(buf, s.entries[k]...)
	}
	if len(keys) > 0 {
		buf = append(buf, '\n')
	}
	buf = append(buf, '}', '\n')
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(s.path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage

	// FlushCount tracks Flush calls for assertions.
	FlushCount int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *MemoryStore) Put(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

func (s *MemoryStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCount++
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Verify interfaces
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
