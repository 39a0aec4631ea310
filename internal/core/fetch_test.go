package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchObjects_CreatesAndSnapshots(t *testing.T) {
	env := newTestEnv(t)
	lib := models.GroupLibrary(5)

	env.client.put(models.KindCollection, "CCCC2222", map[string]any{"name": "Reading"})
	env.client.put(models.KindItem, "AAAA2222", map[string]any{
		"itemType":    "journalArticle",
		"title":       "On Sync",
		"collections": []string{"CCCC2222"},
		"tags":        []map[string]any{{"tag": "db"}},
		"creators":    []map[string]any{{"creatorType": "author", "lastName": "Lamport"}},
		"relations":   map[string]any{"dc:replaces": "http://example.org/items/ZZZZ2222"},
		"deleted":     1,
		"parentItem":  false,
	})

	res, err := env.engine.FetchObjects(context.Background(), models.KindItem, lib, []string{"AAAA2222"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA2222"}, res.Fetched)
	assert.Empty(t, res.Failed)

	it := env.item(t, lib, "AAAA2222")
	require.NotNil(t, it)
	assert.Equal(t, "journalArticle", it.ItemType)
	assert.Equal(t, "On Sync", it.Field("title"))
	assert.Equal(t, []string{"CCCC2222"}, it.CollectionKeys)
	assert.True(t, it.HasTag("db"))
	assert.Equal(t, "Lamport", it.Creators[0].LastName)
	assert.Equal(t, []string{"http://example.org/items/ZZZZ2222"}, it.Relations["dc:replaces"])
	assert.True(t, it.Trash)
	assert.Equal(t, "", it.ParentKey)
	assert.Equal(t, 2, it.Version)
	assert.Equal(t, models.StateSynced, it.SyncState)
	assert.True(t, env.now.Equal(it.LastSyncDate))
	assert.False(t, it.IsChanged())

	raw, err := env.snapshots.Read(models.KindItem, lib, "AAAA2222")
	require.NoError(t, err)
	var snap remote.ObjectJSON
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, 2, snap.Version)
}

func TestFetchObjects_KeepsPendingFields(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	local := syncedItem(lib, "AAAA2222", "Local title", 1)
	local.Fields = append(local.Fields, models.ItemField{Key: "date", Value: "2001"})
	local.SetField("title", "Local title edited")
	local.Tags = []models.Tag{{Name: "mine"}}
	local.RecordChange(models.ItemChangeFields | models.ItemChangeTags)
	env.putItem(t, local)

	env.client.put(models.KindItem, "AAAA2222", map[string]any{
		"itemType": "book",
		"title":    "Remote title",
		"date":     "2024",
		"tags":     []map[string]any{{"tag": "theirs"}},
		"deleted":  true,
	})

	_, err := env.engine.FetchObjects(context.Background(), models.KindItem, lib, []string{"AAAA2222"})
	require.NoError(t, err)

	it := env.item(t, lib, "AAAA2222")
	assert.Equal(t, "Local title edited", it.Field("title"))
	assert.Equal(t, "2024", it.Field("date"))
	assert.True(t, it.HasTag("mine"))
	assert.False(t, it.HasTag("theirs"))
	assert.True(t, it.Trash)
	assert.True(t, it.IsChanged())
	assert.Equal(t, models.StateSynced, it.SyncState)
}

func TestFetchObjects_ParseFailureMarksForResync(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	env.client.put(models.KindItem, "AAAA2222", map[string]any{"itemType": "book", "title": "fine"})
	env.client.put(models.KindItem, "BBBB2222", map[string]any{"title": "no item type"})
	env.client.put(models.KindItem, "DDDD2222", map[string]any{"itemType": "annotation", "annotationPosition": "{not json"})

	local := syncedItem(lib, "BBBB2222", "local", 1)
	local.SetField("title", "pending")
	local.RecordChange(models.ItemChangeFields)
	env.putItem(t, local)

	res, err := env.engine.FetchObjects(context.Background(), models.KindItem, lib, []string{"AAAA2222", "BBBB2222", "CCCC2222", "DDDD2222"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA2222"}, res.Fetched)
	require.Len(t, res.Failed, 3)
	assert.ErrorIs(t, res.Failed["BBBB2222"], ErrParse)
	assert.ErrorIs(t, res.Failed["DDDD2222"], ErrParse)

	b := env.item(t, lib, "BBBB2222")
	assert.Equal(t, models.StateDirty, b.SyncState)
	assert.Equal(t, 1, b.SyncRetries)
	assert.Equal(t, "pending", b.Field("title"))
	assert.True(t, b.IsChanged(), "ledger is untouched by resync marking")

	// Missing from the response: placeholder waiting for the next fetch.
	c := env.item(t, lib, "CCCC2222")
	require.NotNil(t, c)
	assert.Equal(t, models.StateDirty, c.SyncState)

	assert.Equal(t, models.StateSynced, env.item(t, lib, "AAAA2222").SyncState)
}

func TestFetchObjects_BatchesOfFifty(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	var keys []string
	for i := 0; i < 120; i++ {
		key := models.GenerateKey()
		keys = append(keys, key)
		env.client.put(models.KindSearch, key, map[string]any{"name": key, "conditions": []any{}})
	}

	res, err := env.engine.FetchObjects(context.Background(), models.KindSearch, lib, keys)
	require.NoError(t, err)
	assert.Len(t, res.Fetched, len(keys))

	require.Len(t, env.client.fetched, 3)
	assert.Len(t, env.client.fetched[0], 50)
	assert.Len(t, env.client.fetched[1], 50)
	assert.Len(t, env.client.fetched[2], 20)
}

func TestFetchObjects_AnnotationPositionAndUsers(t *testing.T) {
	env := newTestEnv(t)
	lib := models.GroupLibrary(9)

	pos, err := models.EncodePosition(models.Position{
		PageIndex: 4,
		Rects:     []models.Rect{{MinX: 1.5, MinY: 2, MaxX: 3, MaxY: 4.25}},
	}, false)
	require.NoError(t, err)

	raw, _ := json.Marshal(map[string]any{
		"itemType":           "annotation",
		"annotationType":     "highlight",
		"annotationPosition": pos,
		"parentItem":         "PPPP2222",
	})
	meta, _ := json.Marshal(map[string]any{
		"createdByUser":      map[string]any{"id": 11, "username": "ada"},
		"lastModifiedByUser": map[string]any{"id": 11, "username": "ada"},
	})
	env.client.objects[models.KindItem] = map[string]remote.ObjectJSON{
		"AAAA2222": {Key: "AAAA2222", Version: 3, Data: raw, Meta: meta},
	}

	_, err = env.engine.FetchObjects(context.Background(), models.KindItem, lib, []string{"AAAA2222"})
	require.NoError(t, err)

	it := env.item(t, lib, "AAAA2222")
	assert.Equal(t, "PPPP2222", it.ParentKey)
	assert.Equal(t, 4, it.Position().PageIndex)
	assert.Equal(t, []models.Rect{{MinX: 1.5, MinY: 2, MaxX: 3, MaxY: 4.25}}, it.Rects)
	assert.Equal(t, 11, it.CreatedBy)
	assert.Equal(t, 11, it.LastModifiedBy)

	require.NoError(t, env.store.View(func(tx *store.Tx) error {
		u, err := tx.User(11)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "ada", u.Username)
		return nil
	}))
}

func TestFetchObjects_PageIndex(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()
	name := models.SettingKey(lib, "AAAA2222")

	env.client.put(models.KindPageIndex, name, map[string]any{"value": 12})

	res, err := env.engine.FetchObjects(context.Background(), models.KindPageIndex, lib, []string{"AAAA2222"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA2222"}, res.Fetched)
	assert.Equal(t, [][]string{{name}}, env.client.fetched)

	require.NoError(t, env.store.View(func(tx *store.Tx) error {
		p, err := tx.PageIndex(lib, "AAAA2222")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "12", p.Index)
		return nil
	}))
}

func TestMarkForResync_CreatesPlaceholders(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	require.NoError(t, env.engine.MarkForResync(models.KindCollection, lib, []string{"CCCC2222"}))
	require.NoError(t, env.engine.MarkForResync(models.KindCollection, lib, []string{"CCCC2222"}))

	c := env.collection(t, lib, "CCCC2222")
	require.NotNil(t, c)
	assert.Equal(t, models.StateDirty, c.SyncState)
	assert.Equal(t, 2, c.SyncRetries)
	assert.False(t, c.IsChanged())
}
