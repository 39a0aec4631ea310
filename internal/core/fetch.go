package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/store"
)

// FetchResult summarizes one object download.
type FetchResult struct {
	Fetched []string
	// Failed maps keys that could not be applied to the reason. They are
	// marked for resync.
	Failed  map[string]error
	Version int
}

// FetchObjects downloads the given objects in batches and stores each one.
// Objects that are missing from a response or fail to parse are marked for
// resync; the rest of the batch is still applied.
func (e *Engine) FetchObjects(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, keys []string) (*FetchResult, error) {
	result := &FetchResult{Failed: make(map[string]error)}

	for start := 0; start < len(keys); start += remote.MaxObjectsPerRequest {
		end := min(start+remote.MaxObjectsPerRequest, len(keys))
		batch := keys[start:end]

		wire := make([]string, len(batch))
		for i, key := range batch {
			wire[i] = remoteKey(kind, lib, key)
		}

		resp, err := e.client.FetchObjects(ctx, kind, lib, wire)
		if err != nil {
			return result, fmt.Errorf("fetch %s: %w", kind.Plural(), err)
		}
		result.Version = resp.LastModifiedVersion

		if err := e.applyBatch(kind, lib, batch, resp.Objects, result); err != nil {
			return result, err
		}
	}

	if len(result.Failed) > 0 {
		e.logger.Warn("objects could not be applied",
			"library", lib.String(), "kind", string(kind), "count", len(result.Failed))
	}
	return result, nil
}

// applyBatch stores one response in a single transaction and writes
// snapshots once it has committed.
func (e *Engine) applyBatch(kind models.ObjectKind, lib models.LibraryID, requested []string, objects []json.RawMessage, result *FetchResult) error {
	type applied struct {
		key string
		raw []byte
	}
	var done []applied
	var failed map[string]error

	err := e.store.Update(func(tx *store.Tx) error {
		done = done[:0]
		failed = make(map[string]error)
		seen := make(map[string]bool, len(objects))

		for _, raw := range objects {
			env, err := decodeEnvelope(raw)
			if err != nil {
				e.logger.Warn("skipping unparsable object", "kind", string(kind), "error", err)
				continue
			}
			key, ok := localKey(kind, lib, env.Key)
			if !ok {
				continue
			}
			seen[key] = true

			if _, err := e.applyObject(tx, kind, lib, key, env, applyMerge, nil); err != nil {
				if !isParseError(err) {
					return err
				}
				failed[key] = err
				continue
			}
			done = append(done, applied{key: key, raw: raw})
		}

		var resync []string
		for _, key := range requested {
			if !seen[key] {
				failed[key] = fmt.Errorf("%s %s: missing from server response", kind, key)
			}
			if _, bad := failed[key]; bad {
				resync = append(resync, key)
			}
		}
		return e.markForResync(tx, kind, lib, resync)
	})
	if err != nil {
		return fmt.Errorf("store fetched %s: %w", kind.Plural(), err)
	}

	for _, a := range done {
		if err := e.snapshots.Write(kind, lib, a.key, a.raw); err != nil {
			e.logger.Warn("write snapshot", "kind", string(kind), "key", a.key, "error", err)
		}
		result.Fetched = append(result.Fetched, a.key)
	}
	for key, err := range failed {
		result.Failed[key] = err
	}
	return nil
}
