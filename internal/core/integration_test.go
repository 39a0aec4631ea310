package core

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/libsync/internal/logging"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/remote/metastore"
	"github.com/kilupskalvis/libsync/internal/remote/server"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceToken = "device-secret"

func newLibraryServer(t *testing.T) *httptest.Server {
	t.Helper()

	meta, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	require.NoError(t, meta.CreateLibrary(context.Background(), "users/1", "My Library"))

	tokens := server.NewFileTokenStore("", nil)
	require.NoError(t, tokens.Add(&server.TokenInfo{
		ID:         "device",
		TokenHash:  server.HashToken(deviceToken),
		Libraries:  []string{"users/1"},
		Permission: "rw",
	}))

	h, cleanup := server.Handler(meta, tokens, server.DefaultServerConfig(), logging.Discard())
	t.Cleanup(cleanup)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

// newDevice returns a local environment talking to the server at url.
func newDevice(t *testing.T, url string) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.engine = NewEngine(env.store, remote.NewHTTPClient(url, 1, deviceToken), env.snapshots, env.files, logging.Discard())
	env.engine.SetClock(func() time.Time { return env.now })
	env.addLibrary(t, models.PersonalLibrary())
	return env
}

func syncDevice(t *testing.T, env *testEnv) *LibraryReport {
	t.Helper()
	report, err := NewController(env.engine, nil, nil).Sync(context.Background(), SyncOptions{CheckRemote: true})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Libraries, 1)
	return report.Libraries[0]
}

func TestIntegration_TwoDevicesConverge(t *testing.T) {
	ts := newLibraryServer(t)
	lib := models.PersonalLibrary()
	a := newDevice(t, ts.URL)
	b := newDevice(t, ts.URL)

	coll := models.NewCollection(lib, "CCCC2222", "Reading")
	coll.MarkAsChanged()
	a.putObject(t, coll)

	it := models.NewItem(lib, "AAAA2222", "book")
	it.SetField("title", "Dune")
	it.CollectionKeys = []string{"CCCC2222"}
	it.MarkAsChanged()
	a.putItem(t, it)

	lr := syncDevice(t, a)
	assert.Equal(t, 2, lr.Submitted)
	assert.False(t, a.item(t, lib, "AAAA2222").IsChanged())

	lr = syncDevice(t, b)
	assert.Equal(t, 2, lr.Fetched)
	got := b.item(t, lib, "AAAA2222")
	require.NotNil(t, got)
	assert.Equal(t, "Dune", got.Field("title"))
	assert.Equal(t, []string{"CCCC2222"}, got.CollectionKeys)
	require.NotNil(t, b.collection(t, lib, "CCCC2222"))

	// Edit on b, pick it up on a.
	got.SetField("title", "Dune Messiah")
	got.RecordChange(models.ItemChangeFields)
	b.putItem(t, got)

	lr = syncDevice(t, b)
	assert.Equal(t, 1, lr.Submitted)

	lr = syncDevice(t, a)
	assert.Equal(t, 1, lr.Fetched)
	assert.Equal(t, "Dune Messiah", a.item(t, lib, "AAAA2222").Field("title"))

	// Delete the collection on a; b drops it on its next sync.
	require.NoError(t, a.store.Update(func(tx *store.Tx) error {
		c, err := tx.Collection(lib, "CCCC2222")
		if err != nil {
			return err
		}
		c.Deleted = true
		return tx.PutCollection(c)
	}))

	lr = syncDevice(t, a)
	assert.Equal(t, 1, lr.Deleted)
	assert.Nil(t, a.collection(t, lib, "CCCC2222"))

	syncDevice(t, b)
	assert.Nil(t, b.collection(t, lib, "CCCC2222"))

	va, err := a.store.GetVersions(lib)
	require.NoError(t, err)
	vb, err := b.store.GetVersions(lib)
	require.NoError(t, err)
	assert.Equal(t, va.Max, vb.Max)
	assert.Equal(t, va.Deletions, vb.Deletions)
}

func TestIntegration_ConcurrentEditRestarts(t *testing.T) {
	ts := newLibraryServer(t)
	lib := models.PersonalLibrary()
	a := newDevice(t, ts.URL)
	b := newDevice(t, ts.URL)

	it := models.NewItem(lib, "AAAA2222", "book")
	it.SetField("title", "Shared")
	it.MarkAsChanged()
	a.putItem(t, it)
	syncDevice(t, a)
	syncDevice(t, b)

	// a writes a new item; b has not seen that version and submits its own.
	other := models.NewItem(lib, "BBBB2222", "journalArticle")
	other.SetField("title", "From a")
	other.MarkAsChanged()
	a.putItem(t, other)
	syncDevice(t, a)

	local := models.NewItem(lib, "DDDD2222", "book")
	local.SetField("title", "From b")
	local.MarkAsChanged()
	b.putItem(t, local)

	lr := syncDevice(t, b)
	assert.Equal(t, 1, lr.Fetched)
	assert.Equal(t, 1, lr.Submitted)
	require.NotNil(t, b.item(t, lib, "BBBB2222"))
	assert.False(t, b.item(t, lib, "DDDD2222").IsChanged())

	syncDevice(t, a)
	require.NotNil(t, a.item(t, lib, "DDDD2222"))
	assert.Equal(t, "From b", a.item(t, lib, "DDDD2222").Field("title"))
}
