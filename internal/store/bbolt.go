// Package store provides bbolt-based persistence for the local library copy.
// It keeps items, collections, searches and page indices of every library,
// their reverse indexes, library versions and client settings in a single
// embedded bbolt database file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the client store.
var (
	bucketItems          = []byte("items")
	bucketCollections    = []byte("collections")
	bucketSearches       = []byte("searches")
	bucketPageIndices    = []byte("page_indices")
	bucketUsers          = []byte("users")
	bucketUserRefs       = []byte("user_refs")        // "{userID}:{lib}:{itemKey}" -> empty
	bucketItemChildren   = []byte("item_children")    // "{lib}:{parentKey}:{childKey}" -> empty
	bucketCollectionItem = []byte("collection_items") // "{lib}:{collectionKey}:{itemKey}" -> empty
	bucketSubcollections = []byte("subcollections")   // "{lib}:{parentKey}:{childKey}" -> empty
	bucketVersions       = []byte("versions")
	bucketLibraries      = []byte("libraries")
	bucketKV             = []byte("kv")
)

var allBuckets = [][]byte{
	bucketItems,
	bucketCollections,
	bucketSearches,
	bucketPageIndices,
	bucketUsers,
	bucketUserRefs,
	bucketItemChildren,
	bucketCollectionItem,
	bucketSubcollections,
	bucketVersions,
	bucketLibraries,
	bucketKV,
}

// Store represents the bbolt database store.
type Store struct {
	db *bolt.DB
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Tx is a store transaction. Every write made through one Tx commits or
// rolls back together.
type Tx struct {
	tx *bolt.Tx
}

// Update runs fn in a read-write transaction. Returning an error rolls back.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

func (tx *Tx) bucket(name []byte) (*bolt.Bucket, error) {
	b := tx.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%s bucket not found", name)
	}
	return b, nil
}

// GetValue gets a value from the key-value bucket.
func (s *Store) GetValue(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (s *Store) SetValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}
