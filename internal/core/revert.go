package core

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/snapshot"
	"github.com/kilupskalvis/libsync/internal/store"
)

// ObjectRef names one object of a library.
type ObjectRef struct {
	Kind models.ObjectKind
	Key  string
}

// RevertResult lists restored objects and those that had no snapshot and
// were deleted instead.
type RevertResult struct {
	Restored []ObjectRef
	Failed   []ObjectRef
}

// revertTarget is a changed object selected for revert with its snapshot.
type revertTarget struct {
	ref      ObjectRef
	filename string
	env      []byte
}

// RevertLibraryUpdates discards every local edit and local deletion of
// non-attachment objects, restoring the last server-confirmed state.
// Objects never confirmed by the server are deleted.
func (e *Engine) RevertLibraryUpdates(lib models.LibraryID) (*RevertResult, error) {
	targets, err := e.revertTargets(lib, func(obj models.Object) bool {
		it, ok := obj.(*models.Item)
		return !ok || it.ItemType != models.ItemTypeAttachment
	})
	if err != nil {
		return nil, err
	}
	result, _, err := e.revert(lib, targets)
	if err != nil {
		return nil, err
	}
	e.logger.Info("reverted library updates", "library", lib.String(),
		"restored", len(result.Restored), "failed", len(result.Failed))
	return result, nil
}

// RevertLibraryFiles reverts changed attachment items. When the restored
// filename differs from the local one the file on disk is renamed back. If
// the rename fails the local file is removed so the next download fetches
// the server copy.
func (e *Engine) RevertLibraryFiles(lib models.LibraryID) (*RevertResult, error) {
	targets, err := e.revertTargets(lib, func(obj models.Object) bool {
		it, ok := obj.(*models.Item)
		return ok && it.ItemType == models.ItemTypeAttachment
	})
	if err != nil {
		return nil, err
	}
	result, restored, err := e.revert(lib, targets)
	if err != nil {
		return nil, err
	}

	if e.files != nil {
		for _, t := range targets {
			if t.filename == "" {
				continue
			}
			it, ok := restored[t.ref.Key].(*models.Item)
			if !ok {
				if err := e.files.Remove(lib, t.ref.Key, t.filename); err != nil {
					e.logger.Warn("remove attachment file", "key", t.ref.Key, "file", t.filename, "error", err)
				}
				continue
			}
			name := it.Field("filename")
			if name == "" || name == t.filename {
				continue
			}
			if err := e.files.Rename(lib, t.ref.Key, t.filename, name); err != nil {
				e.logger.Warn("rename attachment file", "key", t.ref.Key, "from", t.filename, "to", name, "error", err)
				if err := e.files.Remove(lib, t.ref.Key, t.filename); err != nil {
					e.logger.Warn("remove attachment file", "key", t.ref.Key, "file", t.filename, "error", err)
				}
			}
		}
	}

	e.logger.Info("reverted attachment files", "library", lib.String(),
		"restored", len(result.Restored), "failed", len(result.Failed))
	return result, nil
}

// revertTargets selects changed or locally deleted objects matching keep
// and loads their snapshots, outside of any transaction.
func (e *Engine) revertTargets(lib models.LibraryID, keep func(models.Object) bool) ([]revertTarget, error) {
	var targets []revertTarget
	err := e.store.View(func(tx *store.Tx) error {
		for _, kind := range models.SyncKinds {
			err := tx.ForEachObject(kind, lib, func(obj models.Object) error {
				meta := obj.Meta()
				if !(obj.IsChanged() || meta.Deleted) || !keep(obj) {
					return nil
				}
				t := revertTarget{ref: ObjectRef{Kind: kind, Key: meta.Key}}
				if it, ok := obj.(*models.Item); ok {
					t.filename = it.Field("filename")
				}
				targets = append(targets, t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect changed objects: %w", err)
	}

	for i := range targets {
		raw, err := e.snapshots.Read(targets[i].ref.Kind, lib, targets[i].ref.Key)
		if errors.Is(err, snapshot.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot of %s %s: %w", targets[i].ref.Kind, targets[i].ref.Key, err)
		}
		targets[i].env = raw
	}
	return targets, nil
}

// revert restores targets with a snapshot, then deletes the rest, in one
// transaction. It returns the restored objects by key.
func (e *Engine) revert(lib models.LibraryID, targets []revertTarget) (*RevertResult, map[string]models.Object, error) {
	result := &RevertResult{}
	restored := make(map[string]models.Object)
	var removed RemovedObjects

	err := e.store.Update(func(tx *store.Tx) error {
		result.Restored, result.Failed = nil, nil
		clear(restored)

		var missing []revertTarget
		for _, t := range targets {
			if t.env == nil {
				missing = append(missing, t)
				continue
			}
			env, err := decodeEnvelope(t.env)
			if err == nil {
				var obj models.Object
				obj, err = e.applyObject(tx, t.ref.Kind, lib, t.ref.Key, env, applyRestore, nil)
				if err == nil {
					restored[t.ref.Key] = obj
					result.Restored = append(result.Restored, t.ref)
					continue
				}
			}
			if !isParseError(err) {
				return err
			}
			e.logger.Warn("unusable snapshot", "kind", string(t.ref.Kind), "key", t.ref.Key, "error", err)
			missing = append(missing, t)
		}

		c := newCascade(tx, lib)
		for _, t := range missing {
			if err := c.deleteObject(t.ref.Kind, t.ref.Key); err != nil {
				return err
			}
			result.Failed = append(result.Failed, t.ref)
		}
		if err := c.finish(); err != nil {
			return err
		}
		removed = c.removed
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("revert %s: %w", lib, err)
	}
	e.deleteSnapshots(lib, &removed)
	return result, restored, nil
}
