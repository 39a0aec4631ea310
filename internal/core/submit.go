package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/store"
)

// UpdateBatch is one write request worth of local edits. ChangeIDs holds the
// ledger entries each payload covers, so a response clears exactly those.
type UpdateBatch struct {
	Kind       models.ObjectKind
	Library    models.LibraryID
	Keys       []string
	Parameters []map[string]any
	ChangeIDs  map[string][]uuid.UUID
}

// PendingResult lists the batches to submit and the objects left out.
type PendingResult struct {
	Batches       []UpdateBatch
	SkippedErrors map[string]error
}

// SubmitResult is the outcome of one submitted batch. Errors holds per-object
// failures; the batch itself succeeded.
type SubmitResult struct {
	NewVersion int
	Errors     map[string]error
}

// PendingUpdates collects the changed objects of a kind into batches.
// Locally deleted objects go through SubmitDeletions instead, and objects
// blocked by an earlier size rejection wait for the next edit. Items and
// collections are ordered so parents are written before their children.
func (e *Engine) PendingUpdates(kind models.ObjectKind, lib models.LibraryID) (*PendingResult, error) {
	type pending struct {
		key    string
		depth  int
		params []map[string]any
		ids    []uuid.UUID
	}

	result := &PendingResult{SkippedErrors: make(map[string]error)}
	var objects []pending

	err := e.store.Update(func(tx *store.Tx) error {
		parents := make(map[string]string)
		var changed []models.Object
		err := tx.ForEachObject(kind, lib, func(obj models.Object) error {
			switch o := obj.(type) {
			case *models.Item:
				parents[o.Key] = o.ParentKey
			case *models.Collection:
				parents[o.Key] = o.ParentKey
			}
			meta := obj.Meta()
			if obj.IsChanged() && !meta.Deleted && !meta.SubmitBlocked {
				changed = append(changed, obj)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, obj := range changed {
			key := obj.Meta().Key
			params, err := obj.UpdateParameters()
			if errors.Is(err, ErrPayloadTooLarge) {
				obj.Meta().SubmitBlocked = true
				if err := tx.PutObject(obj); err != nil {
					return fmt.Errorf("block %s %s: %w", kind, key, err)
				}
				result.SkippedErrors[key] = err
				continue
			}
			if err != nil {
				result.SkippedErrors[key] = err
				continue
			}
			objects = append(objects, pending{
				key:    key,
				depth:  depth(parents, key),
				params: []map[string]any{params},
				ids:    obj.ChangeIDs(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect pending %s: %w", kind.Plural(), err)
	}

	sort.Slice(objects, func(i, j int) bool {
		if objects[i].depth != objects[j].depth {
			return objects[i].depth < objects[j].depth
		}
		return objects[i].key < objects[j].key
	})

	for start := 0; start < len(objects); start += remote.MaxObjectsPerRequest {
		end := min(start+remote.MaxObjectsPerRequest, len(objects))
		batch := UpdateBatch{
			Kind:      kind,
			Library:   lib,
			ChangeIDs: make(map[string][]uuid.UUID, end-start),
		}
		for _, p := range objects[start:end] {
			batch.Keys = append(batch.Keys, p.key)
			batch.Parameters = append(batch.Parameters, p.params...)
			batch.ChangeIDs[p.key] = p.ids
		}
		result.Batches = append(result.Batches, batch)
	}

	for key, err := range result.SkippedErrors {
		e.logger.Warn("object not submitted", "library", lib.String(), "kind", string(kind), "key", key, "error", err)
	}
	return result, nil
}

// depth returns the number of known ancestors of key.
func depth(parents map[string]string, key string) int {
	n := 0
	seen := map[string]bool{key: true}
	for {
		parent := parents[key]
		if parent == "" || seen[parent] {
			return n
		}
		if _, known := parents[parent]; !known {
			return n
		}
		seen[parent] = true
		key = parent
		n++
	}
}

// SubmitUpdates sends one batch guarded by sinceVersion and applies the
// per-object outcome. A precondition failure is returned as is; the caller
// must reconcile versions before building new batches.
func (e *Engine) SubmitUpdates(ctx context.Context, batch UpdateBatch, sinceVersion int) (*SubmitResult, error) {
	if len(batch.Keys) == 0 {
		return &SubmitResult{NewVersion: sinceVersion, Errors: map[string]error{}}, nil
	}
	if batch.Kind == models.KindPageIndex {
		return e.submitSettings(ctx, batch, sinceVersion)
	}

	resp, err := e.client.SubmitUpdates(ctx, batch.Kind, batch.Library, batch.Parameters, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", batch.Kind.Plural(), err)
	}

	result := &SubmitResult{NewVersion: resp.LastModifiedVersion, Errors: make(map[string]error)}
	type applied struct {
		key string
		raw []byte
	}
	var done []applied

	err = e.store.Update(func(tx *store.Tx) error {
		done = nil
		var resync []string

		for i, key := range batch.Keys {
			idx := strconv.Itoa(i)
			obj, err := tx.Object(batch.Kind, batch.Library, key)
			if err != nil {
				return err
			}
			if obj == nil {
				continue
			}
			ids := batch.ChangeIDs[key]

			if raw, ok := resp.Successful[idx]; ok {
				env, err := decodeEnvelope(raw)
				if err != nil {
					result.Errors[key] = parseError(batch.Kind, key, err)
					resync = append(resync, key)
					continue
				}
				if _, err := e.applyObject(tx, batch.Kind, batch.Library, key, env, applyMerge, ids); err != nil {
					if !isParseError(err) {
						return err
					}
					result.Errors[key] = err
					resync = append(resync, key)
					continue
				}
				done = append(done, applied{key: key, raw: raw})
				continue
			}

			if _, ok := resp.Success[idx]; ok {
				result.Errors[key] = fmt.Errorf("%s %s: %w: accepted without object data", batch.Kind, key, ErrParse)
				resync = append(resync, key)
				continue
			}

			if _, ok := resp.Unchanged[idx]; ok {
				obj.DeleteChanges(ids)
				obj.Meta().MarkSynced(resp.LastModifiedVersion, e.now())
				if err := tx.PutObject(obj); err != nil {
					return err
				}
				continue
			}

			if failed, ok := resp.Failed[idx]; ok {
				if failed.Code == http.StatusRequestEntityTooLarge {
					obj.Meta().SubmitBlocked = true
					if err := tx.PutObject(obj); err != nil {
						return err
					}
					result.Errors[key] = fmt.Errorf("%s %s: %w: %s", batch.Kind, key, ErrPayloadTooLarge, failed.Message)
					continue
				}
				result.Errors[key] = failedError(batch.Kind, key, failed)
				resync = append(resync, key)
				continue
			}

			result.Errors[key] = fmt.Errorf("%s %s: missing from write response", batch.Kind, key)
			resync = append(resync, key)
		}
		return e.markForResync(tx, batch.Kind, batch.Library, resync)
	})
	if err != nil {
		return nil, fmt.Errorf("store %s write response: %w", batch.Kind.Plural(), err)
	}

	for _, a := range done {
		if err := e.snapshots.Write(batch.Kind, batch.Library, a.key, a.raw); err != nil {
			e.logger.Warn("write snapshot", "kind", string(batch.Kind), "key", a.key, "error", err)
		}
	}
	e.logger.Info("submitted updates",
		"library", batch.Library.String(), "kind", string(batch.Kind),
		"objects", len(batch.Keys), "errors", len(result.Errors), "version", result.NewVersion)
	return result, nil
}

// RejectedError is a per-object failure reported in a write response.
type RejectedError struct {
	Kind    models.ObjectKind
	Key     string
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s %s rejected (%d): %s", e.Kind, e.Key, e.Code, e.Message)
}

func failedError(kind models.ObjectKind, key string, failed remote.FailedObject) error {
	return &RejectedError{Kind: kind, Key: key, Code: failed.Code, Message: failed.Message}
}

// submitSettings writes page indices as one settings object. The endpoint
// answers with the new version only, so the written values become the
// snapshot.
func (e *Engine) submitSettings(ctx context.Context, batch UpdateBatch, sinceVersion int) (*SubmitResult, error) {
	settings := make(map[string]any, len(batch.Keys))
	for _, params := range batch.Parameters {
		for name, value := range params {
			settings[name] = value
		}
	}

	version, err := e.client.SubmitSettings(ctx, batch.Library, settings, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("submit settings: %w", err)
	}

	result := &SubmitResult{NewVersion: version, Errors: make(map[string]error)}
	snapshots := make(map[string][]byte)
	err = e.store.Update(func(tx *store.Tx) error {
		for _, key := range batch.Keys {
			p, err := tx.PageIndex(batch.Library, key)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			name := models.SettingKey(batch.Library, key)
			if value, ok := settings[name]; ok {
				raw, err := encodeEnvelope(name, version, value)
				if err != nil {
					return err
				}
				snapshots[key] = raw
			}
			p.DeleteChanges(batch.ChangeIDs[key])
			p.MarkSynced(version, e.now())
			if err := tx.PutPageIndex(p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store settings write: %w", err)
	}

	for key, raw := range snapshots {
		if err := e.snapshots.Write(models.KindPageIndex, batch.Library, key, raw); err != nil {
			e.logger.Warn("write snapshot", "kind", string(models.KindPageIndex), "key", key, "error", err)
		}
	}
	return result, nil
}

// DeletionSubmitResult is the outcome of submitting local tombstones.
type DeletionSubmitResult struct {
	NewVersion int
	Deleted    []string
}

// SubmitDeletions sends the keys of locally deleted objects and removes them
// for good once the server has confirmed each request.
func (e *Engine) SubmitDeletions(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, sinceVersion int) (*DeletionSubmitResult, error) {
	var keys []string
	err := e.store.View(func(tx *store.Tx) error {
		return tx.ForEachObject(kind, lib, func(obj models.Object) error {
			if obj.Meta().Deleted {
				keys = append(keys, obj.Meta().Key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("collect deleted %s: %w", kind.Plural(), err)
	}
	sort.Strings(keys)

	result := &DeletionSubmitResult{NewVersion: sinceVersion}
	for start := 0; start < len(keys); start += remote.MaxObjectsPerRequest {
		end := min(start+remote.MaxObjectsPerRequest, len(keys))
		chunk := keys[start:end]

		wire := make([]string, len(chunk))
		for i, key := range chunk {
			wire[i] = remoteKey(kind, lib, key)
		}
		version, err := e.client.SubmitDeletions(ctx, kind, lib, wire, result.NewVersion)
		if err != nil {
			return result, fmt.Errorf("submit %s deletions: %w", kind, err)
		}
		result.NewVersion = version

		var removed RemovedObjects
		err = e.store.Update(func(tx *store.Tx) error {
			c := newCascade(tx, lib)
			for _, key := range chunk {
				if err := c.deleteObject(kind, key); err != nil {
					return err
				}
			}
			if err := c.finish(); err != nil {
				return err
			}
			removed = c.removed
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("remove deleted %s: %w", kind.Plural(), err)
		}
		e.deleteSnapshots(lib, &removed)
		result.Deleted = append(result.Deleted, chunk...)
	}
	return result, nil
}
