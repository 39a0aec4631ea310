package store

import (
	"fmt"
	"strconv"

	"github.com/kilupskalvis/libsync/internal/models"
)

// Item returns an item. Returns (nil, nil) if not found.
func (tx *Tx) Item(lib models.LibraryID, key string) (*models.Item, error) {
	b, err := tx.bucket(bucketItems)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Item](b, objectKey(lib, key))
}

// PutItem stores an item and updates the parent, collection and user indexes.
func (tx *Tx) PutItem(it *models.Item) error {
	b, err := tx.bucket(bucketItems)
	if err != nil {
		return err
	}
	old, err := getJSON[models.Item](b, objectKey(it.Library, it.Key))
	if err != nil {
		return err
	}

	var oldParent []string
	var oldCollections []string
	var oldUsers []int
	if old != nil {
		oldParent = []string{old.ParentKey}
		oldCollections = old.CollectionKeys
		oldUsers = old.UserIDs()
	}

	children, err := tx.bucket(bucketItemChildren)
	if err != nil {
		return err
	}
	if err := updateIndex(children, it.Library, it.Key, oldParent, []string{it.ParentKey}); err != nil {
		return fmt.Errorf("update parent index: %w", err)
	}

	members, err := tx.bucket(bucketCollectionItem)
	if err != nil {
		return err
	}
	if err := updateIndex(members, it.Library, it.Key, oldCollections, it.CollectionKeys); err != nil {
		return fmt.Errorf("update collection index: %w", err)
	}

	if err := tx.updateUserRefs(it.Library, it.Key, oldUsers, it.UserIDs()); err != nil {
		return err
	}

	return putJSON(b, objectKey(it.Library, it.Key), it)
}

// DeleteItem removes an item and its index entries. Children, linked page
// indices and orphaned users are left to the caller.
func (tx *Tx) DeleteItem(lib models.LibraryID, key string) error {
	b, err := tx.bucket(bucketItems)
	if err != nil {
		return err
	}
	old, err := getJSON[models.Item](b, objectKey(lib, key))
	if err != nil || old == nil {
		return err
	}

	children, err := tx.bucket(bucketItemChildren)
	if err != nil {
		return err
	}
	if err := updateIndex(children, lib, key, []string{old.ParentKey}, nil); err != nil {
		return fmt.Errorf("update parent index: %w", err)
	}
	if err := deletePrefix(children, indexPrefix(lib, key)); err != nil {
		return err
	}

	members, err := tx.bucket(bucketCollectionItem)
	if err != nil {
		return err
	}
	if err := updateIndex(members, lib, key, old.CollectionKeys, nil); err != nil {
		return fmt.Errorf("update collection index: %w", err)
	}

	if err := tx.updateUserRefs(lib, key, old.UserIDs(), nil); err != nil {
		return err
	}

	return b.Delete(objectKey(lib, key))
}

// ForEachItem calls fn for every item of the library.
func (tx *Tx) ForEachItem(lib models.LibraryID, fn func(*models.Item) error) error {
	b, err := tx.bucket(bucketItems)
	if err != nil {
		return err
	}
	return forEachJSON(b, libraryPrefix(lib), fn)
}

// ChildItemKeys returns the keys of items whose parent is parentKey.
func (tx *Tx) ChildItemKeys(lib models.LibraryID, parentKey string) ([]string, error) {
	b, err := tx.bucket(bucketItemChildren)
	if err != nil {
		return nil, err
	}
	return indexMembers(b, indexPrefix(lib, parentKey)), nil
}

// CollectionItemKeys returns the keys of items contained in a collection.
func (tx *Tx) CollectionItemKeys(lib models.LibraryID, collectionKey string) ([]string, error) {
	b, err := tx.bucket(bucketCollectionItem)
	if err != nil {
		return nil, err
	}
	return indexMembers(b, indexPrefix(lib, collectionKey)), nil
}

// userRefKey builds a user referrer key: "{userID}:{lib}:{itemKey}".
func userRefKey(userID int, lib models.LibraryID, itemKey string) []byte {
	return []byte(strconv.Itoa(userID) + ":" + lib.String() + ":" + itemKey)
}

func (tx *Tx) updateUserRefs(lib models.LibraryID, itemKey string, oldIDs, newIDs []int) error {
	b, err := tx.bucket(bucketUserRefs)
	if err != nil {
		return err
	}
	keep := make(map[int]bool, len(newIDs))
	for _, id := range newIDs {
		keep[id] = true
	}
	for _, id := range oldIDs {
		if !keep[id] {
			if err := b.Delete(userRefKey(id, lib, itemKey)); err != nil {
				return fmt.Errorf("delete user reference: %w", err)
			}
		}
	}
	for id := range keep {
		if err := b.Put(userRefKey(id, lib, itemKey), []byte{}); err != nil {
			return fmt.Errorf("put user reference: %w", err)
		}
	}
	return nil
}
