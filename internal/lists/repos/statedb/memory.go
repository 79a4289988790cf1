package statedb

import (
	"sync"

	"github.com/haukened/rr-lists/internal/lists/domain"
)

// MemoryETagCache is an in-process ETagCache, used when no state database
// is configured.
type MemoryETagCache struct {
	mu    sync.RWMutex
	etags map[domain.ListKey]string
}

// NewMemoryETagCache returns an empty MemoryETagCache.
func NewMemoryETagCache() *MemoryETagCache {
	return &MemoryETagCache{etags: make(map[domain.ListKey]string)}
}

func (c *MemoryETagCache) ETag(key domain.ListKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	etag, ok := c.etags[key]
	return etag, ok
}

func (c *MemoryETagCache) Set(key domain.ListKey, etag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if etag == "" {
		delete(c.etags, key)
		return nil
	}
	c.etags[key] = etag
	return nil
}

// MemoryManifestStore is an in-process ManifestStore.
type MemoryManifestStore struct {
	mu        sync.RWMutex
	manifests map[domain.ListKey]domain.IntegritySpec
}

// NewMemoryManifestStore returns an empty MemoryManifestStore.
func NewMemoryManifestStore() *MemoryManifestStore {
	return &MemoryManifestStore{manifests: make(map[domain.ListKey]domain.IntegritySpec)}
}

func (s *MemoryManifestStore) Manifest(key domain.ListKey) (domain.IntegritySpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.manifests[key]
	return spec, ok
}

func (s *MemoryManifestStore) SaveManifest(key domain.ListKey, spec domain.IntegritySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[key] = spec
	return nil
}

func (s *MemoryManifestStore) DeleteManifest(key domain.ListKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.manifests, key)
	return nil
}
