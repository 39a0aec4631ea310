package core

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/store"
)

// MarkForResync flags objects to be fetched again on the next sync.
// Unknown keys get a placeholder so the fetch can create them.
func (e *Engine) MarkForResync(kind models.ObjectKind, lib models.LibraryID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	err := e.store.Update(func(tx *store.Tx) error {
		return e.markForResync(tx, kind, lib, keys)
	})
	if err != nil {
		return fmt.Errorf("mark %s for resync: %w", kind.Plural(), err)
	}
	return nil
}

// markForResync sets the dirty state and counts the attempt for backoff.
// Pending local edits are left untouched.
func (e *Engine) markForResync(tx *store.Tx, kind models.ObjectKind, lib models.LibraryID, keys []string) error {
	now := e.now()
	for _, key := range keys {
		obj, err := tx.Object(kind, lib, key)
		if err != nil {
			return err
		}
		if obj == nil {
			if obj, err = placeholder(kind, lib, key); err != nil {
				return err
			}
		}
		meta := obj.Meta()
		meta.SyncState = models.StateDirty
		meta.SyncRetries++
		meta.LastSyncDate = now
		if err := tx.PutObject(obj); err != nil {
			return fmt.Errorf("mark %s %s for resync: %w", kind, key, err)
		}
	}
	return nil
}

// isPlaceholder reports whether obj was created by resync and never
// filled from server data.
func isPlaceholder(obj models.Object) bool {
	switch o := obj.(type) {
	case *models.Item:
		return o.ItemType == ""
	case *models.Collection:
		return o.Name == ""
	case *models.Search:
		return o.Name == ""
	case *models.PageIndex:
		return o.Index == ""
	}
	return false
}

func placeholder(kind models.ObjectKind, lib models.LibraryID, key string) (models.Object, error) {
	switch kind {
	case models.KindItem:
		return models.NewItem(lib, key, ""), nil
	case models.KindCollection:
		return models.NewCollection(lib, key, ""), nil
	case models.KindSearch:
		return models.NewSearch(lib, key, ""), nil
	case models.KindPageIndex:
		return models.NewPageIndex(lib, key, ""), nil
	}
	return nil, fmt.Errorf("unknown object kind %q", kind)
}

func isParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
