package core

import (
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/store"
)

// MarkItemChanged marks an item and all of its descendants as changed by
// the user and stores them.
func MarkItemChanged(tx *store.Tx, it *models.Item) error {
	it.MarkAsChanged()
	if err := tx.PutItem(it); err != nil {
		return fmt.Errorf("mark item %s changed: %w", it.Key, err)
	}

	children, err := tx.ChildItemKeys(it.Library, it.Key)
	if err != nil {
		return err
	}
	for _, key := range children {
		child, err := tx.Item(it.Library, key)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		if err := MarkItemChanged(tx, child); err != nil {
			return err
		}
	}
	return nil
}

// MarkCollectionChanged marks a collection as changed by the user and adds a
// collections change to every item it contains.
func MarkCollectionChanged(tx *store.Tx, c *models.Collection) error {
	c.MarkAsChanged()
	if err := tx.PutCollection(c); err != nil {
		return fmt.Errorf("mark collection %s changed: %w", c.Key, err)
	}

	keys, err := tx.CollectionItemKeys(c.Library, c.Key)
	if err != nil {
		return err
	}
	for _, key := range keys {
		it, err := tx.Item(c.Library, key)
		if err != nil {
			return err
		}
		if it == nil {
			continue
		}
		it.RecordChange(models.ItemChangeCollections)
		if err := tx.PutItem(it); err != nil {
			return fmt.Errorf("mark item %s changed: %w", it.Key, err)
		}
	}
	return nil
}

// markObjectChanged dispatches to the cascading variants where they exist.
func markObjectChanged(tx *store.Tx, obj models.Object) error {
	switch o := obj.(type) {
	case *models.Item:
		return MarkItemChanged(tx, o)
	case *models.Collection:
		return MarkCollectionChanged(tx, o)
	}
	obj.MarkAsChanged()
	return tx.PutObject(obj)
}

// RemovedObjects lists the local keys removed by a deletion pass.
type RemovedObjects struct {
	Collections []string
	Searches    []string
	Items       []string
	PageIndexes []string
	Tags        []string
}

// Count returns the number of removed objects and tags.
func (r *RemovedObjects) Count() int {
	return len(r.Collections) + len(r.Searches) + len(r.Items) + len(r.PageIndexes) + len(r.Tags)
}

// cascade deletes objects together with what depends on them. Users that
// lose referrers are collected and removed by finish, once every item of
// the pass is gone.
type cascade struct {
	tx      *store.Tx
	lib     models.LibraryID
	removed RemovedObjects
	users   map[int]bool
}

func newCascade(tx *store.Tx, lib models.LibraryID) *cascade {
	return &cascade{tx: tx, lib: lib, users: make(map[int]bool)}
}

// itemHasLocalChanges reports whether the item or any descendant has
// pending edits.
func (c *cascade) itemHasLocalChanges(it *models.Item) (bool, error) {
	if it.IsChanged() {
		return true, nil
	}
	children, err := c.tx.ChildItemKeys(c.lib, it.Key)
	if err != nil {
		return false, err
	}
	for _, key := range children {
		child, err := c.tx.Item(c.lib, key)
		if err != nil {
			return false, err
		}
		if child == nil {
			continue
		}
		changed, err := c.itemHasLocalChanges(child)
		if err != nil || changed {
			return changed, err
		}
	}
	return false, nil
}

// deleteItem removes an item, its descendants and its page index.
func (c *cascade) deleteItem(key string) error {
	it, err := c.tx.Item(c.lib, key)
	if err != nil || it == nil {
		return err
	}

	children, err := c.tx.ChildItemKeys(c.lib, key)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := c.deleteItem(child); err != nil {
			return err
		}
	}

	pi, err := c.tx.PageIndex(c.lib, key)
	if err != nil {
		return err
	}
	if pi != nil {
		if err := c.tx.DeletePageIndex(c.lib, key); err != nil {
			return fmt.Errorf("delete page index %s: %w", key, err)
		}
		c.removed.PageIndexes = append(c.removed.PageIndexes, key)
	}

	for _, id := range it.UserIDs() {
		c.users[id] = true
	}
	if err := c.tx.DeleteItem(c.lib, key); err != nil {
		return fmt.Errorf("delete item %s: %w", key, err)
	}
	c.removed.Items = append(c.removed.Items, key)
	return nil
}

// deleteCollection removes a collection, drops it from the items it
// contains and deletes its subcollections. Subcollections with pending
// edits are kept and moved to the top level.
func (c *cascade) deleteCollection(key string) error {
	col, err := c.tx.Collection(c.lib, key)
	if err != nil || col == nil {
		return err
	}

	members, err := c.tx.CollectionItemKeys(c.lib, key)
	if err != nil {
		return err
	}
	for _, itemKey := range members {
		it, err := c.tx.Item(c.lib, itemKey)
		if err != nil {
			return err
		}
		if it == nil || !it.RemoveCollection(key) {
			continue
		}
		if err := c.tx.PutItem(it); err != nil {
			return fmt.Errorf("update item %s: %w", itemKey, err)
		}
	}

	subs, err := c.tx.SubcollectionKeys(c.lib, key)
	if err != nil {
		return err
	}
	for _, subKey := range subs {
		sub, err := c.tx.Collection(c.lib, subKey)
		if err != nil {
			return err
		}
		if sub == nil {
			continue
		}
		if sub.IsChanged() {
			sub.ParentKey = ""
			sub.RecordChange(models.CollectionChangeParent)
			if err := c.tx.PutCollection(sub); err != nil {
				return fmt.Errorf("detach collection %s: %w", subKey, err)
			}
			continue
		}
		if err := c.deleteCollection(subKey); err != nil {
			return err
		}
	}

	if err := c.tx.DeleteCollection(c.lib, key); err != nil {
		return fmt.Errorf("delete collection %s: %w", key, err)
	}
	c.removed.Collections = append(c.removed.Collections, key)
	return nil
}

func (c *cascade) deleteSearch(key string) error {
	if err := c.tx.DeleteSearch(c.lib, key); err != nil {
		return fmt.Errorf("delete search %s: %w", key, err)
	}
	c.removed.Searches = append(c.removed.Searches, key)
	return nil
}

func (c *cascade) deletePageIndex(key string) error {
	if err := c.tx.DeletePageIndex(c.lib, key); err != nil {
		return fmt.Errorf("delete page index %s: %w", key, err)
	}
	c.removed.PageIndexes = append(c.removed.PageIndexes, key)
	return nil
}

// deleteObject removes an object of any kind with its dependents.
func (c *cascade) deleteObject(kind models.ObjectKind, key string) error {
	switch kind {
	case models.KindItem:
		return c.deleteItem(key)
	case models.KindCollection:
		return c.deleteCollection(key)
	case models.KindSearch:
		return c.deleteSearch(key)
	case models.KindPageIndex:
		return c.deletePageIndex(key)
	}
	return fmt.Errorf("unknown object kind %q", kind)
}

// finish removes users no remaining item refers to. Referrers are counted
// inside the same transaction as the deletions.
func (c *cascade) finish() error {
	for id := range c.users {
		if _, err := c.tx.DeleteUserIfOrphaned(id); err != nil {
			return fmt.Errorf("delete orphaned user %d: %w", id, err)
		}
	}
	return nil
}

// deleteSnapshots drops the cached JSON of removed objects. Failures are
// logged; a stale snapshot only matters if the key is reused.
func (e *Engine) deleteSnapshots(lib models.LibraryID, removed *RemovedObjects) {
	del := func(kind models.ObjectKind, keys []string) {
		for _, key := range keys {
			if err := e.snapshots.Delete(kind, lib, key); err != nil {
				e.logger.Warn("delete snapshot", "kind", string(kind), "key", key, "error", err)
			}
		}
	}
	del(models.KindCollection, removed.Collections)
	del(models.KindSearch, removed.Searches)
	del(models.KindItem, removed.Items)
	del(models.KindPageIndex, removed.PageIndexes)
}

// removeTags drops the named tags from every item of the library.
func (c *cascade) removeTags(tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	found := make(map[string]bool)
	var touched []*models.Item
	err := c.tx.ForEachItem(c.lib, func(it *models.Item) error {
		changed := false
		for _, tag := range tags {
			if it.RemoveTag(tag) {
				found[tag] = true
				changed = true
			}
		}
		if changed {
			touched = append(touched, it)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, it := range touched {
		if err := c.tx.PutItem(it); err != nil {
			return fmt.Errorf("update item %s: %w", it.Key, err)
		}
	}
	for _, tag := range tags {
		if found[tag] {
			c.removed.Tags = append(c.removed.Tags, tag)
		}
	}
	return nil
}
