package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/remote/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTokenStore implements TokenStore for tests.
type testTokenStore struct {
	tokens map[string]*TokenInfo
}

func (t *testTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	return t.tokens[hash], nil
}

func (t *testTokenStore) ListTokens() ([]*TokenInfo, error) {
	tokens := make([]*TokenInfo, 0, len(t.tokens))
	for _, tok := range t.tokens {
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (t *testTokenStore) DeleteToken(id string) error {
	for hash, tok := range t.tokens {
		if tok.ID == id {
			delete(t.tokens, hash)
			return nil
		}
	}
	return fmt.Errorf("token '%s' not found", id)
}

func (t *testTokenStore) CreateToken(desc string, libraries []string, permission string) (string, *TokenInfo, error) {
	rawToken := "test-created-token"
	tokenHash := HashToken(rawToken)
	info := &TokenInfo{
		ID:         "tok-new",
		TokenHash:  tokenHash,
		Desc:       desc,
		Libraries:  libraries,
		Permission: permission,
	}
	t.tokens[tokenHash] = info
	return rawToken, info, nil
}

const (
	testToken      = "test-token-123"
	testReadToken  = "test-token-ro"
	testAdminToken = "admin-secret"
)

func newTestServer(t *testing.T) (*httptest.Server, metastore.MetaStore) {
	t.Helper()

	meta, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	require.NoError(t, meta.CreateLibrary(context.Background(), "users/1", "My Library"))
	require.NoError(t, meta.CreateLibrary(context.Background(), "groups/5", "Team"))

	tokens := &testTokenStore{
		tokens: map[string]*TokenInfo{
			HashToken(testToken): {
				ID:         "tok-1",
				TokenHash:  HashToken(testToken),
				Desc:       "test token",
				Libraries:  []string{"users/1", "groups/5"},
				Permission: "rw",
			},
			HashToken(testReadToken): {
				ID:         "tok-2",
				TokenHash:  HashToken(testReadToken),
				Desc:       "read-only token",
				Libraries:  []string{"*"},
				Permission: "ro",
			},
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := DefaultServerConfig()
	cfg.AdminToken = testAdminToken

	h, cleanup := Handler(meta, tokens, cfg, logger)
	t.Cleanup(cleanup)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return ts, meta
}

func authReq(method, url, token string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, url, body)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postItems(t *testing.T, ts *httptest.Server, since string, items ...map[string]any) *http.Response {
	t.Helper()
	data, err := json.Marshal(items)
	require.NoError(t, err)
	req := authReq("POST", ts.URL+"/users/1/items", testToken, bytes.NewReader(data))
	if since != "" {
		req.Header.Set(remote.HeaderIfUnmodifiedSinceVersion, since)
	}
	return do(t, req)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_MissingToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/users/1/items?format=versions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_InvalidToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, authReq("GET", ts.URL+"/users/1/items?format=versions", "wrong-token", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_LibraryNotGranted(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, authReq("GET", ts.URL+"/groups/9/items?format=versions", testToken, nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuth_ReadOnlyTokenCannotWrite(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, authReq("POST", ts.URL+"/users/1/items", testReadToken, bytes.NewReader([]byte(`[]`))))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, authReq("GET", ts.URL+"/users/1/items?format=versions", testReadToken, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestItems_WriteAndRead(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postItems(t, ts, "0",
		map[string]any{"key": "AAAAAAAA", "itemType": "book", "title": "Dune"},
		map[string]any{"key": "BBBBBBBB", "itemType": "note", "note": "x", "parentItem": "AAAAAAAA"},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(remote.HeaderLastModifiedVersion))

	var wr remote.WriteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wr))
	assert.Equal(t, map[string]string{"0": "AAAAAAAA", "1": "BBBBBBBB"}, wr.Success)
	require.Contains(t, wr.Successful, "0")

	var created remote.ObjectJSON
	require.NoError(t, json.Unmarshal(wr.Successful["0"], &created))
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, remote.ObjectLibrary{Type: "user", ID: 1}, created.Library)

	// Versions
	resp = do(t, authReq("GET", ts.URL+"/users/1/items?format=versions&since=0", testToken, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var versions map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	assert.Equal(t, map[string]int{"AAAAAAAA": 1, "BBBBBBBB": 1}, versions)

	// Objects by key
	resp = do(t, authReq("GET", ts.URL+"/users/1/items?itemKey=BBBBBBBB", testToken, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var objects []remote.ObjectJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&objects))
	require.Len(t, objects, 1)

	var data map[string]any
	require.NoError(t, json.Unmarshal(objects[0].Data, &data))
	assert.Equal(t, "AAAAAAAA", data["parentItem"])
}

func TestItems_PreconditionFailed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postItems(t, ts, "0", map[string]any{"key": "AAAAAAAA", "itemType": "book"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postItems(t, ts, "0", map[string]any{"key": "BBBBBBBB", "itemType": "book"})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(remote.HeaderLastModifiedVersion))

	var errResp remote.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "precondition_failed", errResp.Error)
}

func TestItems_PerObjectFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postItems(t, ts, "", map[string]any{"key": "AAAAAAAA", "version": 3, "itemType": "book"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wr remote.WriteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wr))
	require.Contains(t, wr.Failed, "0")
	assert.Equal(t, 404, wr.Failed["0"].Code)
	assert.Empty(t, wr.Successful)
	assert.Equal(t, "0", resp.Header.Get(remote.HeaderLastModifiedVersion))
}

func TestItems_TooManyObjects(t *testing.T) {
	ts, _ := newTestServer(t)

	items := make([]map[string]any, remote.MaxObjectsPerRequest+1)
	for i := range items {
		items[i] = map[string]any{"itemType": "book"}
	}
	resp := postItems(t, ts, "", items...)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUnknownKindAndLibrary(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, authReq("GET", ts.URL+"/users/1/widgets?format=versions", testToken, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, authReq("GET", ts.URL+"/groups/77/items?format=versions", testReadToken, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettings_WriteAndRead(t *testing.T) {
	ts, _ := newTestServer(t)

	body := []byte(`{"lastPageIndex_u_AAAAAAAA":{"value":4}}`)
	req := authReq("POST", ts.URL+"/users/1/settings", testToken, bytes.NewReader(body))
	req.Header.Set(remote.HeaderIfUnmodifiedSinceVersion, "0")
	resp := do(t, req)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(remote.HeaderLastModifiedVersion))

	resp = do(t, authReq("GET", ts.URL+"/users/1/settings?settingKey=lastPageIndex_u_AAAAAAAA", testToken, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var objects []remote.ObjectJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&objects))
	require.Len(t, objects, 1)
	assert.JSONEq(t, `{"value":4}`, string(objects[0].Data))
}

func TestDelete_RecordsDeletion(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postItems(t, ts, "", map[string]any{"key": "AAAAAAAA", "itemType": "book"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := authReq("DELETE", ts.URL+"/users/1/items?itemKey=AAAAAAAA", testToken, nil)
	req.Header.Set(remote.HeaderIfUnmodifiedSinceVersion, "1")
	resp = do(t, req)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get(remote.HeaderLastModifiedVersion))

	resp = do(t, authReq("GET", ts.URL+"/users/1/deleted?since=1", testToken, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deleted remote.DeletedKeys
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deleted))
	assert.Equal(t, []string{"AAAAAAAA"}, deleted.Items)
	assert.Empty(t, deleted.Collections)
	assert.NotNil(t, deleted.Tags)
}

func TestGroupLibraryIdentity(t *testing.T) {
	ts, _ := newTestServer(t)

	data, _ := json.Marshal([]map[string]any{{"key": "CCCCCCCC", "name": "Shared"}})
	resp := do(t, authReq("POST", ts.URL+"/groups/5/collections", testToken, bytes.NewReader(data)))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wr remote.WriteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wr))
	var obj remote.ObjectJSON
	require.NoError(t, json.Unmarshal(wr.Successful["0"], &obj))
	assert.Equal(t, remote.ObjectLibrary{Type: "group", ID: 5}, obj.Library)
}

// --- Admin Tests ---

func adminReq(method, url string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, url, body)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestAdminLibraries_CreateListDelete(t *testing.T) {
	ts, _ := newTestServer(t)

	body := []byte(`{"library":"groups/8","name":"Lab"}`)
	resp := do(t, adminReq("POST", ts.URL+"/admin/libraries", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, adminReq("POST", ts.URL+"/admin/libraries", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, adminReq("GET", ts.URL+"/admin/libraries", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var libs []metastore.LibraryInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&libs))
	require.Len(t, libs, 3)
	assert.Equal(t, "groups/5", libs[0].Path)
	assert.Equal(t, "groups/8", libs[1].Path)

	resp = do(t, adminReq("DELETE", ts.URL+"/admin/libraries/groups/8", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, adminReq("DELETE", ts.URL+"/admin/libraries/groups/8", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminLibraries_InvalidPath(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"repos/1", "users/abc", "groups", "users/0"} {
		body, _ := json.Marshal(map[string]string{"library": path, "name": "x"})
		resp := do(t, adminReq("POST", ts.URL+"/admin/libraries", bytes.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestAdminTokens_CreateAndList(t *testing.T) {
	ts, _ := newTestServer(t)

	body := []byte(`{"description":"ci","libraries":["groups/5"],"permission":"rw"}`)
	resp := do(t, adminReq("POST", ts.URL+"/admin/tokens", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created remote.AdminTokenCreateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "test-created-token", created.Token)
	assert.Equal(t, []string{"groups/5"}, created.Libraries)

	resp = do(t, adminReq("GET", ts.URL+"/admin/tokens", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []remote.AdminTokenInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 3)
}

func TestAdminTokens_InvalidPermission(t *testing.T) {
	ts, _ := newTestServer(t)

	body := []byte(`{"description":"x","libraries":["*"],"permission":"admin"}`)
	resp := do(t, adminReq("POST", ts.URL+"/admin/tokens", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_AuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, authReq("GET", ts.URL+"/admin/libraries", testToken, nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
