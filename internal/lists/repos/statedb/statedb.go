// Package statedb keeps the small pieces of pipeline state that must survive
// restarts: ETag validators and the last accepted integrity manifest per list.
package statedb

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

var (
	bucketETags     = []byte("etags")
	bucketManifests = []byte("manifests")
)

// ETagCache maps a list to the validator of its last accepted download.
// An absent entry means the list is always fetched in full.
type ETagCache interface {
	ETag(key domain.ListKey) (string, bool)
	// Set stores etag for key; an empty etag clears the entry.
	Set(key domain.ListKey, etag string) error
}

// ManifestStore remembers the last integrity manifest accepted per list.
type ManifestStore interface {
	Manifest(key domain.ListKey) (domain.IntegritySpec, bool)
	SaveManifest(key domain.ListKey, spec domain.IntegritySpec) error
	// DeleteManifest forgets the manifest of key; deleting a missing entry is not an error.
	DeleteManifest(key domain.ListKey) error
}

// DB is the bbolt-backed state database.
type DB struct {
	db     *bbolt.DB
	logger log.Logger
}

// Open opens (or creates) the state database at path and ensures the top
// level buckets exist.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketETags); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketManifests); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state db %s: %w", path, err)
	}
	return &DB{db: db, logger: log.With(log.GetLogger(), map[string]any{"component": "statedb"})}, nil
}

// Close releases the database file.
func (d *DB) Close() error { return d.db.Close() }

// Path returns the database file path.
func (d *DB) Path() string { return d.db.Path() }

// ETags returns the ETag cache for suite. Each suite lives in its own nested
// bucket so independent consumers never see each other's validators.
func (d *DB) ETags(suite string) *BoltETagCache {
	return &BoltETagCache{db: d, suite: []byte(suite)}
}

// Manifests returns the accepted-manifest store.
func (d *DB) Manifests() *BoltManifestStore {
	return &BoltManifestStore{db: d}
}

// BoltETagCache is an ETagCache persisted in bbolt.
type BoltETagCache struct {
	db    *DB
	suite []byte
}

func (c *BoltETagCache) ETag(key domain.ListKey) (string, bool) {
	var etag string
	err := c.db.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketETags).Bucket(c.suite)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key.String())); v != nil {
			etag = string(v)
		}
		return nil
	})
	if err != nil {
		c.db.logger.Warn(map[string]any{"list": key.String(), "error": err}, "failed to read etag")
		return "", false
	}
	return etag, etag != ""
}

func (c *BoltETagCache) Set(key domain.ListKey, etag string) error {
	return c.db.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketETags).CreateBucketIfNotExists(c.suite)
		if err != nil {
			return err
		}
		if etag == "" {
			return b.Delete([]byte(key.String()))
		}
		return b.Put([]byte(key.String()), []byte(etag))
	})
}

// BoltManifestStore is a ManifestStore persisted in bbolt as JSON values.
type BoltManifestStore struct {
	db *DB
}

func (s *BoltManifestStore) Manifest(key domain.ListKey) (domain.IntegritySpec, bool) {
	var (
		spec  domain.IntegritySpec
		found bool
	)
	err := s.db.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketManifests).Get([]byte(key.String()))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &spec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		s.db.logger.Warn(map[string]any{"list": key.String(), "error": err}, "failed to read manifest")
		return domain.IntegritySpec{}, false
	}
	return spec, found
}

func (s *BoltManifestStore) SaveManifest(key domain.ListKey, spec domain.IntegritySpec) error {
	v, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return s.db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketManifests).Put([]byte(key.String()), v)
	})
}

func (s *BoltManifestStore) DeleteManifest(key domain.ListKey) error {
	return s.db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketManifests).Delete([]byte(key.String()))
	})
}
