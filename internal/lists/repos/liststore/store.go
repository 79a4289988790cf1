// Package liststore holds the persisted copy of one list and an in-memory
// mirror of it. The file on disk is only ever replaced atomically, and the
// mirror only changes after the file write succeeded.
package liststore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/haukened/rr-lists/internal/lists/common/fsutil"
	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

// EmptyJSON is the mirror of a store that holds no data.
const EmptyJSON = "[]"

// writeFile is a seam for tests.
var writeFile = fsutil.WriteFileAtomic

// Codec converts between raw payloads and typed entries.
type Codec[T any] interface {
	Parse(data []byte) ([]T, error)
	Encode(entries []T) ([]byte, error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger sets the logger used by the store.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Store is a persisted list with an in-memory mirror.
type Store[T any] struct {
	path   string
	codec  Codec[T]
	logger log.Logger

	// writeMu serialises Persist and reloads.
	writeMu sync.Mutex

	mu      sync.RWMutex
	json    string
	entries []T

	cbMu      sync.Mutex
	callbacks []func([]T)
}

// Open creates a store for path and hydrates it from disk. A missing,
// unreadable or unparsable file leaves the store empty.
func Open[T any](path string, codec Codec[T], opts ...Option) *Store[T] {
	o := options{logger: log.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[T]{
		path:   path,
		codec:  codec,
		logger: log.With(o.logger, map[string]any{"component": "liststore", "path": path}),
		json:   EmptyJSON,
	}
	s.Load()
	return s
}

// Load rehydrates the mirror from the file, falling back to an empty list.
func (s *Store[T]) Load() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entries, canonical, err := s.readFile()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug(nil, "no persisted list, starting empty")
		} else {
			s.logger.Warn(map[string]any{"error": err}, "failed to load persisted list, starting empty")
		}
		entries, canonical = nil, EmptyJSON
	}
	s.swap(entries, canonical)
}

// Persist parses data, writes its canonical form to disk atomically and then
// updates the mirror. It returns the number of entries stored.
//
// A parse error is returned unchanged and leaves both file and mirror as they
// were. A write failure is returned as *domain.PersistenceError.
func (s *Store[T]) Persist(data []byte) (int, error) {
	entries, err := s.codec.Parse(data)
	if err != nil {
		return 0, err
	}
	canonical, err := s.codec.Encode(entries)
	if err != nil {
		return 0, &domain.PersistenceError{Path: s.path, Op: "encode", Cause: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := writeFile(s.path, canonical); err != nil {
		return 0, &domain.PersistenceError{Path: s.path, Op: "write", Cause: err}
	}
	s.swap(entries, string(canonical))

	s.logger.Info(map[string]any{"entries": len(entries)}, "list persisted")
	s.notify(entries)
	return len(entries), nil
}

// JSON returns the canonical JSON of the current mirror.
func (s *Store[T]) JSON() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.json
}

// Entries returns a copy of the current entries.
func (s *Store[T]) Entries() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.entries))
	copy(out, s.entries)
	return out
}

// HasData reports whether the mirror holds a non-empty list.
func (s *Store[T]) HasData() bool {
	return s.JSON() != EmptyJSON
}

// Path returns the backing file path.
func (s *Store[T]) Path() string { return s.path }

// OnChange registers fn to be called with the new entries after every
// successful persist or external reload. Callbacks run while the store holds
// its write lock, so they see changes in the order they were written and
// must not call Persist themselves.
func (s *Store[T]) OnChange(fn func([]T)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

func (s *Store[T]) readFile() ([]T, string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, "", err
	}
	entries, err := s.codec.Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", s.path, err)
	}
	canonical, err := s.codec.Encode(entries)
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", s.path, err)
	}
	return entries, string(canonical), nil
}

func (s *Store[T]) swap(entries []T, canonical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.json = canonical
}

func (s *Store[T]) notify(entries []T) {
	s.cbMu.Lock()
	callbacks := make([]func([]T), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.Unlock()

	for _, cb := range callbacks {
		out := make([]T, len(entries))
		copy(out, entries)
		cb(out)
	}
}
