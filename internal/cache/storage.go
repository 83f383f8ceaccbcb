// Package cache keeps reference data in bbolt: upstream catalogs per service
// type and the last-known item set of every instance.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/arrsync/internal/models"
)

var (
	bucketCatalogs  = []byte("catalogs")
	bucketSnapshots = []byte("snapshots")
)

// Storage provides cache storage operations
type Storage struct {
	db *bolt.DB
}

// Open opens (or creates) the cache file
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	s, err := NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStorage wraps an open bbolt database
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCatalogs); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

// DB returns the underlying bbolt handle for components sharing the file
func (s *Storage) DB() *bolt.DB {
	return s.db
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) put(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// get decodes the entry into v and reports whether it existed
func (s *Storage) get(bucket []byte, key string, v any) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

// SaveCatalog stores the catalog of a service type, replacing the previous one
func (s *Storage) SaveCatalog(ctx context.Context, c *models.Catalog) error {
	if c.RefreshedAt.IsZero() {
		c.RefreshedAt = time.Now().UTC()
	}
	return s.put(bucketCatalogs, string(c.ServiceType), c)
}

// Catalog returns the cached catalog of a service type, nil when never refreshed
func (s *Storage) Catalog(ctx context.Context, serviceType models.ServiceType) (*models.Catalog, error) {
	c := &models.Catalog{}
	found, err := s.get(bucketCatalogs, string(serviceType), c)
	if err != nil || !found {
		return nil, err
	}
	return c, nil
}

// SaveSnapshot records the item set just observed on an instance
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	return s.put(bucketSnapshots, snap.InstanceID, snap)
}

// Snapshot returns the last-known item set of an instance, nil when none
func (s *Storage) Snapshot(ctx context.Context, instanceID string) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	found, err := s.get(bucketSnapshots, instanceID, snap)
	if err != nil || !found {
		return nil, err
	}
	return snap, nil
}

// DeleteSnapshot drops the cached items of an instance
func (s *Storage) DeleteSnapshot(ctx context.Context, instanceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(instanceID))
	})
}
