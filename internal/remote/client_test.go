package remote_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/libsync/internal/logging"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/remote/metastore"
	"github.com/kilupskalvis/libsync/internal/remote/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rwToken    = "rw-secret"
	roToken    = "ro-secret"
	adminToken = "admin-secret"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	meta, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	require.NoError(t, meta.CreateLibrary(context.Background(), "users/1", "Mine"))
	require.NoError(t, meta.CreateLibrary(context.Background(), "groups/5", "Team"))

	tokens := server.NewFileTokenStore("", nil)
	require.NoError(t, tokens.Add(&server.TokenInfo{ID: "rw", TokenHash: server.HashToken(rwToken), Libraries: []string{"users/1", "groups/5"}, Permission: "rw"}))
	require.NoError(t, tokens.Add(&server.TokenInfo{ID: "ro", TokenHash: server.HashToken(roToken), Libraries: []string{"*"}, Permission: "ro"}))

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = adminToken
	h, cleanup := server.Handler(meta, tokens, cfg, logging.Discard())
	t.Cleanup(cleanup)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPClient_SubmitAndFetch(t *testing.T) {
	ts := newServer(t)
	c := remote.NewHTTPClient(ts.URL, 1, rwToken)
	ctx := context.Background()
	lib := models.PersonalLibrary()

	resp, err := c.SubmitUpdates(ctx, models.KindItem, lib, []map[string]any{
		{"key": "AAAA2222", "itemType": "book", "title": "Dune"},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.LastModifiedVersion)
	assert.Equal(t, "AAAA2222", resp.Success["0"])
	require.Contains(t, resp.Successful, "0")

	versions, err := c.FetchVersions(ctx, models.KindItem, lib, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"AAAA2222": 1}, versions.Versions)
	assert.Equal(t, 1, versions.LastModifiedVersion)

	objects, err := c.FetchObjects(ctx, models.KindItem, lib, []string{"AAAA2222"})
	require.NoError(t, err)
	require.Len(t, objects.Objects, 1)

	var obj remote.ObjectJSON
	require.NoError(t, json.Unmarshal(objects.Objects[0], &obj))
	assert.Equal(t, "AAAA2222", obj.Key)
	assert.Equal(t, 1, obj.Version)
	assert.Equal(t, remote.ObjectLibrary{Type: "user", ID: 1}, obj.Library)

	var data map[string]any
	require.NoError(t, json.Unmarshal(obj.Data, &data))
	assert.Equal(t, "Dune", data["title"])
}

func TestHTTPClient_PreconditionFailed(t *testing.T) {
	ts := newServer(t)
	c := remote.NewHTTPClient(ts.URL, 1, rwToken)
	ctx := context.Background()
	lib := models.PersonalLibrary()

	_, err := c.SubmitUpdates(ctx, models.KindCollection, lib, []map[string]any{{"key": "BBBB2222", "name": "Reading"}}, 0)
	require.NoError(t, err)

	_, err = c.SubmitUpdates(ctx, models.KindCollection, lib, []map[string]any{{"key": "CCCC2222", "name": "Later"}}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrPreconditionFailed)
}

func TestHTTPClient_PerObjectFailure(t *testing.T) {
	ts := newServer(t)
	c := remote.NewHTTPClient(ts.URL, 1, rwToken)

	resp, err := c.SubmitUpdates(context.Background(), models.KindItem, models.PersonalLibrary(), []map[string]any{
		{"key": "AAAA2222", "title": "no type"},
	}, 0)
	require.NoError(t, err)
	require.Contains(t, resp.Failed, "0")
	assert.Equal(t, 400, resp.Failed["0"].Code)
}

func TestHTTPClient_SettingsAndDeletions(t *testing.T) {
	ts := newServer(t)
	c := remote.NewHTTPClient(ts.URL, 1, rwToken)
	ctx := context.Background()
	lib := models.GroupLibrary(5)

	_, err := c.SubmitUpdates(ctx, models.KindItem, lib, []map[string]any{{"key": "DDDD2222", "itemType": "book"}}, 0)
	require.NoError(t, err)

	version, err := c.SubmitSettings(ctx, lib, map[string]any{
		"lastPageIndex_g5_DDDD2222": map[string]any{"value": 12},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	version, err = c.SubmitDeletions(ctx, models.KindItem, lib, []string{"DDDD2222"}, version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	deleted, err := c.FetchDeletions(ctx, lib, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"DDDD2222"}, deleted.Deleted.Items)
	assert.Equal(t, 3, deleted.LastModifiedVersion)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()

	ro := remote.NewHTTPClient(ts.URL, 1, roToken)
	_, err := ro.SubmitUpdates(ctx, models.KindItem, models.PersonalLibrary(), []map[string]any{{"key": "AAAA2222", "itemType": "book"}}, 0)
	assert.ErrorIs(t, err, remote.ErrPermissionDenied)

	_, err = ro.FetchVersions(ctx, models.KindItem, models.GroupLibrary(99), 0)
	assert.ErrorIs(t, err, remote.ErrLibraryNotFound)

	rw := remote.NewHTTPClient(ts.URL, 1, rwToken)
	_, err = rw.FetchVersions(ctx, models.KindItem, models.GroupLibrary(99), 0)
	assert.ErrorIs(t, err, remote.ErrPermissionDenied)
}

func TestHTTPClient_TooManyKeys(t *testing.T) {
	c := remote.NewHTTPClient("http://127.0.0.1:0", 1, rwToken)
	keys := make([]string, remote.MaxObjectsPerRequest+1)
	for i := range keys {
		keys[i] = models.GenerateKey()
	}
	_, err := c.FetchObjects(context.Background(), models.KindItem, models.PersonalLibrary(), keys)
	assert.Error(t, err)
}

func TestHTTPClient_NetworkError(t *testing.T) {
	ts := newServer(t)
	url := ts.URL
	ts.Close()

	c := remote.NewHTTPClient(url, 1, rwToken)
	_, err := c.FetchVersions(context.Background(), models.KindItem, models.PersonalLibrary(), 0)
	assert.ErrorIs(t, err, remote.ErrNetwork)
}

func TestAdminClient_Libraries(t *testing.T) {
	ts := newServer(t)
	admin := remote.NewAdminClient(ts.URL, adminToken)
	ctx := context.Background()

	require.NoError(t, admin.CreateLibrary(ctx, "groups/7", "Lab"))
	libs, err := admin.ListLibraries(ctx)
	require.NoError(t, err)
	var paths []string
	for _, l := range libs {
		paths = append(paths, l.Library)
	}
	assert.Contains(t, paths, "groups/7")

	require.NoError(t, admin.DeleteLibrary(ctx, "groups/7"))

	created, err := admin.CreateToken(ctx, "laptop", []string{"users/1"}, "rw")
	require.NoError(t, err)
	assert.NotEmpty(t, created.Token)

	tokens, err := admin.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 3)

	require.NoError(t, admin.DeleteToken(ctx, created.ID))
}
