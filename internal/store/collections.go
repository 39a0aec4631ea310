package store

import (
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
)

// Collection returns a collection. Returns (nil, nil) if not found.
func (tx *Tx) Collection(lib models.LibraryID, key string) (*models.Collection, error) {
	b, err := tx.bucket(bucketCollections)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Collection](b, objectKey(lib, key))
}

// PutCollection stores a collection and updates the subcollection index.
func (tx *Tx) PutCollection(c *models.Collection) error {
	b, err := tx.bucket(bucketCollections)
	if err != nil {
		return err
	}
	old, err := getJSON[models.Collection](b, objectKey(c.Library, c.Key))
	if err != nil {
		return err
	}
	var oldParent []string
	if old != nil {
		oldParent = []string{old.ParentKey}
	}

	subs, err := tx.bucket(bucketSubcollections)
	if err != nil {
		return err
	}
	if err := updateIndex(subs, c.Library, c.Key, oldParent, []string{c.ParentKey}); err != nil {
		return fmt.Errorf("update subcollection index: %w", err)
	}

	return putJSON(b, objectKey(c.Library, c.Key), c)
}

// DeleteCollection removes a collection and its index entries. Memberships
// stored on items are left to the caller.
func (tx *Tx) DeleteCollection(lib models.LibraryID, key string) error {
	b, err := tx.bucket(bucketCollections)
	if err != nil {
		return err
	}
	old, err := getJSON[models.Collection](b, objectKey(lib, key))
	if err != nil || old == nil {
		return err
	}

	subs, err := tx.bucket(bucketSubcollections)
	if err != nil {
		return err
	}
	if err := updateIndex(subs, lib, key, []string{old.ParentKey}, nil); err != nil {
		return fmt.Errorf("update subcollection index: %w", err)
	}
	if err := deletePrefix(subs, indexPrefix(lib, key)); err != nil {
		return err
	}

	return b.Delete(objectKey(lib, key))
}

// ForEachCollection calls fn for every collection of the library.
func (tx *Tx) ForEachCollection(lib models.LibraryID, fn func(*models.Collection) error) error {
	b, err := tx.bucket(bucketCollections)
	if err != nil {
		return err
	}
	return forEachJSON(b, libraryPrefix(lib), fn)
}

// SubcollectionKeys returns the keys of collections nested directly in parentKey.
func (tx *Tx) SubcollectionKeys(lib models.LibraryID, parentKey string) ([]string, error) {
	b, err := tx.bucket(bucketSubcollections)
	if err != nil {
		return nil, err
	}
	return indexMembers(b, indexPrefix(lib, parentKey)), nil
}

// Search returns a saved search. Returns (nil, nil) if not found.
func (tx *Tx) Search(lib models.LibraryID, key string) (*models.Search, error) {
	b, err := tx.bucket(bucketSearches)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Search](b, objectKey(lib, key))
}

// PutSearch stores a saved search.
func (tx *Tx) PutSearch(s *models.Search) error {
	b, err := tx.bucket(bucketSearches)
	if err != nil {
		return err
	}
	return putJSON(b, objectKey(s.Library, s.Key), s)
}

// DeleteSearch removes a saved search.
func (tx *Tx) DeleteSearch(lib models.LibraryID, key string) error {
	b, err := tx.bucket(bucketSearches)
	if err != nil {
		return err
	}
	return b.Delete(objectKey(lib, key))
}

// ForEachSearch calls fn for every saved search of the library.
func (tx *Tx) ForEachSearch(lib models.LibraryID, fn func(*models.Search) error) error {
	b, err := tx.bucket(bucketSearches)
	if err != nil {
		return err
	}
	return forEachJSON(b, libraryPrefix(lib), fn)
}

// PageIndex returns the page index of an attachment. Returns (nil, nil) if not found.
func (tx *Tx) PageIndex(lib models.LibraryID, key string) (*models.PageIndex, error) {
	b, err := tx.bucket(bucketPageIndices)
	if err != nil {
		return nil, err
	}
	return getJSON[models.PageIndex](b, objectKey(lib, key))
}

// PutPageIndex stores a page index.
func (tx *Tx) PutPageIndex(p *models.PageIndex) error {
	b, err := tx.bucket(bucketPageIndices)
	if err != nil {
		return err
	}
	return putJSON(b, objectKey(p.Library, p.Key), p)
}

// DeletePageIndex removes a page index.
func (tx *Tx) DeletePageIndex(lib models.LibraryID, key string) error {
	b, err := tx.bucket(bucketPageIndices)
	if err != nil {
		return err
	}
	return b.Delete(objectKey(lib, key))
}

// ForEachPageIndex calls fn for every page index of the library.
func (tx *Tx) ForEachPageIndex(lib models.LibraryID, fn func(*models.PageIndex) error) error {
	b, err := tx.bucket(bucketPageIndices)
	if err != nil {
		return err
	}
	return forEachJSON(b, libraryPrefix(lib), fn)
}
