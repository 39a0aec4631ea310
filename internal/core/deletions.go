package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/store"
)

// DeletionOptions configures one deletion reconciliation.
type DeletionOptions struct {
	SinceVersion   int
	CurrentVersion *int
	// ConfirmRemote reports remote deletions of local objects as a conflict
	// instead of applying them.
	ConfirmRemote bool
}

// DeletionResult is the outcome of a deletion reconciliation.
type DeletionResult struct {
	NewVersion int
	Conflicts  []models.Conflict
	Removed    RemovedObjects
}

// ReconcileDeletions applies the objects deleted on the server since the
// given version. Objects with local edits are never removed silently: changed
// collections, searches and page indices are skipped so the next submit
// recreates them, and changed items are reported as a conflict.
func (e *Engine) ReconcileDeletions(ctx context.Context, lib models.LibraryID, opts DeletionOptions) (*DeletionResult, error) {
	resp, err := e.client.FetchDeletions(ctx, lib, opts.SinceVersion)
	if err != nil {
		return nil, fmt.Errorf("reconcile deletions: %w", err)
	}
	if opts.CurrentVersion != nil && *opts.CurrentVersion != resp.LastModifiedVersion {
		return nil, &VersionMismatchError{Library: lib, Expected: *opts.CurrentVersion, Actual: resp.LastModifiedVersion}
	}

	result := &DeletionResult{NewVersion: resp.LastModifiedVersion}

	if opts.ConfirmRemote {
		conflict, err := e.presentDeletions(lib, resp.Deleted)
		if err != nil {
			return nil, err
		}
		if !conflict.IsEmpty() {
			result.Conflicts = append(result.Conflicts, conflict)
		}
		return result, nil
	}

	removed, conflicts, err := e.performDeletions(lib, resp.Deleted, false)
	if err != nil {
		return nil, err
	}
	result.Removed = *removed
	result.Conflicts = conflicts
	return result, nil
}

// presentDeletions lists the remotely deleted keys that still exist locally.
func (e *Engine) presentDeletions(lib models.LibraryID, deleted remote.DeletedKeys) (models.ObjectsRemovedRemotely, error) {
	conflict := models.ObjectsRemovedRemotely{Library: lib}
	err := e.store.View(func(tx *store.Tx) error {
		present := func(kind models.ObjectKind, keys []string) ([]string, error) {
			var out []string
			for _, key := range keys {
				obj, err := tx.Object(kind, lib, key)
				if err != nil {
					return nil, err
				}
				if obj != nil {
					out = append(out, key)
				}
			}
			return out, nil
		}

		var err error
		if conflict.Collections, err = present(models.KindCollection, deleted.Collections); err != nil {
			return err
		}
		if conflict.Searches, err = present(models.KindSearch, deleted.Searches); err != nil {
			return err
		}
		if conflict.Items, err = present(models.KindItem, deleted.Items); err != nil {
			return err
		}

		if len(deleted.Tags) == 0 {
			return nil
		}
		wanted := make(map[string]bool, len(deleted.Tags))
		for _, tag := range deleted.Tags {
			wanted[tag] = true
		}
		found := make(map[string]bool)
		err = tx.ForEachItem(lib, func(it *models.Item) error {
			for _, t := range it.Tags {
				if wanted[t.Name] {
					found[t.Name] = true
				}
			}
			return nil
		})
		for tag := range found {
			conflict.Tags = append(conflict.Tags, tag)
		}
		sort.Strings(conflict.Tags)
		return err
	})
	if err != nil {
		return conflict, fmt.Errorf("read local objects: %w", err)
	}
	return conflict, nil
}

// PerformDeletions applies remote deletions locally, as after the user
// confirmed an ObjectsRemovedRemotely conflict. Items with local edits are
// still kept and reported.
func (e *Engine) PerformDeletions(lib models.LibraryID, deleted remote.DeletedKeys) (*RemovedObjects, []models.Conflict, error) {
	return e.performDeletions(lib, deleted, false)
}

// ForceDeleteItems removes items and their descendants regardless of local
// edits, as after the user accepted a RemovedItemsHaveLocalChanges conflict.
func (e *Engine) ForceDeleteItems(lib models.LibraryID, keys []string) (*RemovedObjects, error) {
	removed, _, err := e.performDeletions(lib, remote.DeletedKeys{Items: keys}, true)
	return removed, err
}

func (e *Engine) performDeletions(lib models.LibraryID, deleted remote.DeletedKeys, force bool) (*RemovedObjects, []models.Conflict, error) {
	var removed RemovedObjects
	var changedItems []models.KeyTitle

	err := e.store.Update(func(tx *store.Tx) error {
		c := newCascade(tx, lib)
		changedItems = nil

		for _, key := range deleted.Collections {
			col, err := tx.Collection(lib, key)
			if err != nil {
				return err
			}
			if col == nil || (col.IsChanged() && !force) {
				continue
			}
			if err := c.deleteCollection(key); err != nil {
				return err
			}
		}

		for _, key := range deleted.Searches {
			s, err := tx.Search(lib, key)
			if err != nil {
				return err
			}
			if s == nil || (s.IsChanged() && !force) {
				continue
			}
			if err := c.deleteSearch(key); err != nil {
				return err
			}
		}

		for _, key := range deleted.Items {
			it, err := tx.Item(lib, key)
			if err != nil {
				return err
			}
			if it == nil {
				continue
			}
			if !force {
				changed, err := c.itemHasLocalChanges(it)
				if err != nil {
					return err
				}
				if changed {
					changedItems = append(changedItems, models.KeyTitle{Key: key, Title: it.Title()})
					continue
				}
			}
			if err := c.deleteItem(key); err != nil {
				return err
			}
		}

		for _, name := range deleted.Settings {
			key, ok := localKey(models.KindPageIndex, lib, name)
			if !ok {
				continue
			}
			p, err := tx.PageIndex(lib, key)
			if err != nil {
				return err
			}
			if p == nil || (p.IsChanged() && !force) {
				continue
			}
			if err := c.deletePageIndex(key); err != nil {
				return err
			}
		}

		if err := c.removeTags(deleted.Tags); err != nil {
			return err
		}
		if err := c.finish(); err != nil {
			return err
		}
		removed = c.removed
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("apply deletions of %s: %w", lib, err)
	}

	e.deleteSnapshots(lib, &removed)
	if removed.Count() > 0 {
		e.logger.Info("applied remote deletions", "library", lib.String(), "removed", removed.Count())
	}

	var conflicts []models.Conflict
	if len(changedItems) > 0 {
		conflicts = append(conflicts, models.RemovedItemsHaveLocalChanges{Library: lib, Items: changedItems})
	}
	return &removed, conflicts, nil
}

// RestoreDeletions keeps objects the server deleted by marking them, and
// everything they contain, as changed so the next submit recreates them.
func (e *Engine) RestoreDeletions(lib models.LibraryID, collections, items []string) error {
	err := e.store.Update(func(tx *store.Tx) error {
		for _, key := range collections {
			c, err := tx.Collection(lib, key)
			if err != nil {
				return err
			}
			if c == nil {
				continue
			}
			if err := MarkCollectionChanged(tx, c); err != nil {
				return err
			}
		}
		for _, key := range items {
			it, err := tx.Item(lib, key)
			if err != nil {
				return err
			}
			if it == nil {
				continue
			}
			if err := MarkItemChanged(tx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore deletions of %s: %w", lib, err)
	}
	return nil
}
