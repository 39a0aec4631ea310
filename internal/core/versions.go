package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/store"
)

// SyncMode selects how thoroughly a library is reconciled.
type SyncMode int

const (
	// SyncNormal fetches changes since the last synced version and honors backoff.
	SyncNormal SyncMode = iota
	// SyncIgnoreDelays is SyncNormal without backoff.
	SyncIgnoreDelays
	// SyncFull compares against the complete remote version map, ignores
	// backoff and flags local objects the server does not know.
	SyncFull
)

func (m SyncMode) String() string {
	switch m {
	case SyncIgnoreDelays:
		return "ignore-delays"
	case SyncFull:
		return "full"
	}
	return "normal"
}

func (m SyncMode) ignoresDelays() bool {
	return m == SyncIgnoreDelays || m == SyncFull
}

// VersionOptions configures one version reconciliation.
type VersionOptions struct {
	SinceVersion int
	// CurrentVersion, when set, is the library version the caller already
	// observed this cycle. A different server version fails the call.
	CurrentVersion *int
	CheckRemote    bool
	Mode           SyncMode
}

// VersionResult is the outcome of a version reconciliation.
type VersionResult struct {
	NewVersion  int
	ChangedKeys []string
}

// remoteKey maps a local key to its wire key.
func remoteKey(kind models.ObjectKind, lib models.LibraryID, key string) string {
	if kind == models.KindPageIndex {
		return models.SettingKey(lib, key)
	}
	return key
}

// localKey maps a wire key to the local key. Settings that are not page
// indices of lib are reported as not ok.
func localKey(kind models.ObjectKind, lib models.LibraryID, key string) (string, bool) {
	if kind != models.KindPageIndex {
		return key, true
	}
	settingLib, itemKey, err := models.ParseSettingKey(key)
	if err != nil || settingLib != lib {
		return "", false
	}
	return itemKey, true
}

// ReconcileVersions decides which objects of a kind must be fetched.
//
// Without a remote check, and outside full mode, only local state is
// consulted: every object not in sync is changed. Otherwise the remote
// version map is compared against local versions. Full mode always requests
// the complete map and marks local objects unknown to the server as changed
// by the user so they surface for review. Nothing is written before the
// version guard has passed.
func (e *Engine) ReconcileVersions(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, opts VersionOptions) (*VersionResult, error) {
	now := e.now()
	delayed := func(meta *models.SyncMetadata) bool {
		return !opts.Mode.ignoresDelays() && e.backoff.Delayed(meta, now)
	}

	if !opts.CheckRemote && opts.Mode != SyncFull {
		var changed []string
		err := e.store.View(func(tx *store.Tx) error {
			return tx.ForEachObject(kind, lib, func(obj models.Object) error {
				meta := obj.Meta()
				if meta.SyncState != models.StateSynced && !delayed(meta) {
					changed = append(changed, meta.Key)
				}
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("read local %s state: %w", kind, err)
		}
		sort.Strings(changed)
		return &VersionResult{NewVersion: opts.SinceVersion, ChangedKeys: changed}, nil
	}

	since := opts.SinceVersion
	if opts.Mode == SyncFull {
		since = 0
	}
	resp, err := e.client.FetchVersions(ctx, kind, lib, since)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s versions: %w", kind, err)
	}
	if opts.CurrentVersion != nil && *opts.CurrentVersion != resp.LastModifiedVersion {
		return nil, &VersionMismatchError{Library: lib, Expected: *opts.CurrentVersion, Actual: resp.LastModifiedVersion}
	}

	remoteVersions := make(map[string]int, len(resp.Versions))
	for key, version := range resp.Versions {
		if local, ok := localKey(kind, lib, key); ok {
			remoteVersions[local] = version
		}
	}

	changed := make(map[string]bool)
	var flagged []string
	run := e.store.View
	if opts.Mode == SyncFull {
		run = e.store.Update
	}
	err = run(func(tx *store.Tx) error {
		known := make(map[string]bool)
		err := tx.ForEachObject(kind, lib, func(obj models.Object) error {
			meta := obj.Meta()
			known[meta.Key] = true

			remoteVersion, onServer := remoteVersions[meta.Key]
			switch {
			case delayed(meta):
			case onServer && remoteVersion > meta.Version:
				changed[meta.Key] = true
			case meta.SyncState != models.StateSynced:
				changed[meta.Key] = true
			}

			if opts.Mode == SyncFull && !onServer && !obj.IsChanged() && !meta.Deleted && !isPlaceholder(obj) {
				if err := markObjectChanged(tx, obj); err != nil {
					return err
				}
				flagged = append(flagged, meta.Key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for key := range remoteVersions {
			if !known[key] {
				changed[key] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s versions: %w", kind, err)
	}

	if len(flagged) > 0 {
		e.logger.Info("local objects missing on server flagged as changed",
			"library", lib.String(), "kind", string(kind), "count", len(flagged))
	}

	keys := make([]string, 0, len(changed))
	for key := range changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return &VersionResult{NewVersion: resp.LastModifiedVersion, ChangedKeys: keys}, nil
}
