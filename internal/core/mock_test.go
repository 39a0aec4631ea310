package core

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/libsync/internal/attachments"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/snapshot"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/stretchr/testify/require"
)

// mockClient is an in-memory versioned library. Objects are kept per kind
// by wire key; every write bumps the library version once.
type mockClient struct {
	mu      sync.Mutex
	version int
	objects map[models.ObjectKind]map[string]remote.ObjectJSON
	deleted remote.DeletedKeys

	// Hooks override the default behavior when set.
	onFetchVersions func(lib models.LibraryID, kind models.ObjectKind, since int) (*remote.VersionsResponse, error)
	onSubmit        func(kind models.ObjectKind, params []map[string]any, since int) (*remote.UpdateResponse, error)
	onDeletions     func(since int) (*remote.DeletionsResponse, error)

	fetched   [][]string
	submitted [][]map[string]any
	settings  []map[string]any
	removed   []string
}

func newMockClient() *mockClient {
	return &mockClient{objects: make(map[models.ObjectKind]map[string]remote.ObjectJSON)}
}

// put stores an object as if another client had written it.
func (m *mockClient) put(kind models.ObjectKind, key string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.store(kind, key, data)
}

func (m *mockClient) store(kind models.ObjectKind, key string, data map[string]any) json.RawMessage {
	raw, _ := json.Marshal(data)
	if m.objects[kind] == nil {
		m.objects[kind] = make(map[string]remote.ObjectJSON)
	}
	obj := remote.ObjectJSON{Key: key, Version: m.version, Data: raw}
	m.objects[kind][key] = obj
	out, _ := json.Marshal(obj)
	return out
}

func (m *mockClient) precondition(since int) error {
	if since >= 0 && since < m.version {
		return &remote.RemoteError{Code: "precondition_failed", Message: "library modified", Status: 412}
	}
	return nil
}

func (m *mockClient) FetchVersions(_ context.Context, kind models.ObjectKind, lib models.LibraryID, since int) (*remote.VersionsResponse, error) {
	if m.onFetchVersions != nil {
		return m.onFetchVersions(lib, kind, since)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := &remote.VersionsResponse{Versions: make(map[string]int), LastModifiedVersion: m.version}
	for key, obj := range m.objects[kind] {
		if obj.Version > since {
			resp.Versions[key] = obj.Version
		}
	}
	return resp, nil
}

func (m *mockClient) FetchObjects(_ context.Context, kind models.ObjectKind, _ models.LibraryID, keys []string) (*remote.ObjectsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, keys)
	resp := &remote.ObjectsResponse{LastModifiedVersion: m.version}
	for _, key := range keys {
		obj, ok := m.objects[kind][key]
		if !ok {
			continue
		}
		raw, _ := json.Marshal(obj)
		resp.Objects = append(resp.Objects, raw)
	}
	return resp, nil
}

func (m *mockClient) FetchDeletions(_ context.Context, _ models.LibraryID, since int) (*remote.DeletionsResponse, error) {
	if m.onDeletions != nil {
		return m.onDeletions(since)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &remote.DeletionsResponse{Deleted: m.deleted, LastModifiedVersion: m.version}, nil
}

func (m *mockClient) SubmitUpdates(_ context.Context, kind models.ObjectKind, _ models.LibraryID, params []map[string]any, since int) (*remote.UpdateResponse, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, params)
	m.mu.Unlock()
	if m.onSubmit != nil {
		return m.onSubmit(kind, params, since)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precondition(since); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	m.version++
	resp := &remote.UpdateResponse{
		WriteResponse: remote.WriteResponse{
			Successful: make(map[string]json.RawMessage),
			Success:    make(map[string]string),
			Unchanged:  make(map[string]string),
			Failed:     make(map[string]remote.FailedObject),
		},
		LastModifiedVersion: m.version,
	}
	for i, p := range params {
		key, _ := p["key"].(string)
		data := make(map[string]any)
		if existing, ok := m.objects[kind][key]; ok {
			_ = json.Unmarshal(existing.Data, &data)
		}
		for k, v := range p {
			if k != "version" {
				data[k] = v
			}
		}
		idx := strconv.Itoa(i)
		resp.Successful[idx] = m.store(kind, key, data)
		resp.Success[idx] = key
	}
	return resp, nil
}

func (m *mockClient) SubmitSettings(_ context.Context, _ models.LibraryID, settings map[string]any, since int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precondition(since); err != nil {
		return 0, fmt.Errorf("submit settings: %w", err)
	}
	m.version++
	m.settings = append(m.settings, settings)
	for name, value := range settings {
		v, _ := value.(map[string]any)
		m.store(models.KindPageIndex, name, v)
	}
	return m.version, nil
}

func (m *mockClient) SubmitDeletions(_ context.Context, kind models.ObjectKind, _ models.LibraryID, keys []string, since int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precondition(since); err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	m.version++
	for _, key := range keys {
		delete(m.objects[kind], key)
		m.removed = append(m.removed, key)
	}
	return m.version, nil
}

// testEnv bundles an engine with its collaborators.
type testEnv struct {
	engine    *Engine
	store     *store.Store
	client    *mockClient
	snapshots *snapshot.FSCache
	files     *attachments.FSFiles
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "libsync.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })

	snapshots, err := snapshot.NewFSCache(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	files, err := attachments.NewFSFiles(filepath.Join(dir, "storage"))
	require.NoError(t, err)

	env := &testEnv{
		store:     st,
		client:    newMockClient(),
		snapshots: snapshots,
		files:     files,
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.engine = NewEngine(st, env.client, snapshots, files, nil)
	env.engine.SetClock(func() time.Time { return env.now })
	return env
}

func (env *testEnv) addLibrary(t *testing.T, lib models.LibraryID) {
	t.Helper()
	require.NoError(t, env.store.AddLibrary(&models.Library{ID: lib, Name: lib.String()}))
}

func (env *testEnv) putItem(t *testing.T, it *models.Item) {
	t.Helper()
	require.NoError(t, env.store.Update(func(tx *store.Tx) error { return tx.PutItem(it) }))
}

func (env *testEnv) putObject(t *testing.T, obj models.Object) {
	t.Helper()
	require.NoError(t, env.store.Update(func(tx *store.Tx) error { return tx.PutObject(obj) }))
}

func (env *testEnv) item(t *testing.T, lib models.LibraryID, key string) *models.Item {
	t.Helper()
	var it *models.Item
	require.NoError(t, env.store.View(func(tx *store.Tx) error {
		var err error
		it, err = tx.Item(lib, key)
		return err
	}))
	return it
}

func (env *testEnv) collection(t *testing.T, lib models.LibraryID, key string) *models.Collection {
	t.Helper()
	var c *models.Collection
	require.NoError(t, env.store.View(func(tx *store.Tx) error {
		var err error
		c, err = tx.Collection(lib, key)
		return err
	}))
	return c
}

// syncedItem returns a stored-as-synced item with a title.
func syncedItem(lib models.LibraryID, key, title string, version int) *models.Item {
	it := models.NewItem(lib, key, "book")
	it.Fields = []models.ItemField{{Key: "title", Value: title}}
	it.Version = version
	it.SyncState = models.StateSynced
	return it
}

// envelope builds the served JSON of an object.
func envelope(key string, version int, data map[string]any) []byte {
	raw, _ := json.Marshal(data)
	out, _ := json.Marshal(remote.ObjectJSON{Key: key, Version: version, Data: raw})
	return out
}
