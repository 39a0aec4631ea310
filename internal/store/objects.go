package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// objectKey builds the bbolt key of an object: "{lib}:{key}".
func objectKey(lib models.LibraryID, key string) []byte {
	return []byte(lib.String() + ":" + key)
}

func libraryPrefix(lib models.LibraryID) []byte {
	return []byte(lib.String() + ":")
}

// indexKey builds a reverse index key: "{lib}:{owner}:{member}".
func indexKey(lib models.LibraryID, owner, member string) []byte {
	return []byte(lib.String() + ":" + owner + ":" + member)
}

func indexPrefix(lib models.LibraryID, owner string) []byte {
	return []byte(lib.String() + ":" + owner + ":")
}

// getJSON decodes the value under key. Returns (nil, nil) if not found.
func getJSON[T any](b *bolt.Bucket, key []byte) (*T, error) {
	data := b.Get(key)
	if data == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &v, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

// forEachJSON decodes every value whose key starts with prefix. Values are
// decoded before fn runs, so fn may write to the same bucket.
func forEachJSON[T any](b *bolt.Bucket, prefix []byte, fn func(*T) error) error {
	var objs []*T
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var obj T
		if err := json.Unmarshal(v, &obj); err != nil {
			return fmt.Errorf("unmarshal %s: %w", k, err)
		}
		objs = append(objs, &obj)
	}
	for _, obj := range objs {
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

// indexMembers returns the member segment of every index key under prefix.
func indexMembers(b *bolt.Bucket, prefix []byte) []string {
	var members []string
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		members = append(members, string(k[len(prefix):]))
	}
	return members
}

// deletePrefix removes every key under prefix.
func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

// updateIndex replaces the memberships of member: entries for owners in
// oldOwners but not in newOwners are removed, new ones are added.
func updateIndex(b *bolt.Bucket, lib models.LibraryID, member string, oldOwners, newOwners []string) error {
	keep := make(map[string]bool, len(newOwners))
	for _, o := range newOwners {
		if o != "" {
			keep[o] = true
		}
	}
	for _, o := range oldOwners {
		if o != "" && !keep[o] {
			if err := b.Delete(indexKey(lib, o, member)); err != nil {
				return fmt.Errorf("delete index entry: %w", err)
			}
		}
	}
	for o := range keep {
		if err := b.Put(indexKey(lib, o, member), []byte{}); err != nil {
			return fmt.Errorf("put index entry: %w", err)
		}
	}
	return nil
}

// Object returns the object of the given kind. Returns (nil, nil) if not found.
func (tx *Tx) Object(kind models.ObjectKind, lib models.LibraryID, key string) (models.Object, error) {
	switch kind {
	case models.KindItem:
		it, err := tx.Item(lib, key)
		if it == nil || err != nil {
			return nil, err
		}
		return it, nil
	case models.KindCollection:
		c, err := tx.Collection(lib, key)
		if c == nil || err != nil {
			return nil, err
		}
		return c, nil
	case models.KindSearch:
		s, err := tx.Search(lib, key)
		if s == nil || err != nil {
			return nil, err
		}
		return s, nil
	case models.KindPageIndex:
		p, err := tx.PageIndex(lib, key)
		if p == nil || err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown object kind %q", kind)
}

// PutObject stores an object of any kind.
func (tx *Tx) PutObject(obj models.Object) error {
	switch o := obj.(type) {
	case *models.Item:
		return tx.PutItem(o)
	case *models.Collection:
		return tx.PutCollection(o)
	case *models.Search:
		return tx.PutSearch(o)
	case *models.PageIndex:
		return tx.PutPageIndex(o)
	}
	return fmt.Errorf("unsupported object type %T", obj)
}

// DeleteObject removes an object of any kind. Missing objects are ignored.
func (tx *Tx) DeleteObject(kind models.ObjectKind, lib models.LibraryID, key string) error {
	switch kind {
	case models.KindItem:
		return tx.DeleteItem(lib, key)
	case models.KindCollection:
		return tx.DeleteCollection(lib, key)
	case models.KindSearch:
		return tx.DeleteSearch(lib, key)
	case models.KindPageIndex:
		return tx.DeletePageIndex(lib, key)
	}
	return fmt.Errorf("unknown object kind %q", kind)
}

// ForEachObject calls fn for every object of the kind in the library.
func (tx *Tx) ForEachObject(kind models.ObjectKind, lib models.LibraryID, fn func(models.Object) error) error {
	switch kind {
	case models.KindItem:
		return tx.ForEachItem(lib, func(it *models.Item) error { return fn(it) })
	case models.KindCollection:
		return tx.ForEachCollection(lib, func(c *models.Collection) error { return fn(c) })
	case models.KindSearch:
		return tx.ForEachSearch(lib, func(s *models.Search) error { return fn(s) })
	case models.KindPageIndex:
		return tx.ForEachPageIndex(lib, func(p *models.PageIndex) error { return fn(p) })
	}
	return fmt.Errorf("unknown object kind %q", kind)
}
