package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevertLibraryUpdates(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	restored := syncedItem(lib, "XYZ23456", "Server title", 5)
	restored.SetField("title", "Local title")
	restored.Tags = []models.Tag{{Name: "local"}}
	restored.RecordChange(models.ItemChangeFields | models.ItemChangeTags)
	env.putItem(t, restored)
	require.NoError(t, env.snapshots.Write(models.KindItem, lib, "XYZ23456", envelope("XYZ23456", 5, map[string]any{
		"itemType": "book",
		"title":    "Server title",
		"tags":     []map[string]any{{"tag": "server"}},
	})))

	localOnly := models.NewItem(lib, "XYZ34567", "book")
	localOnly.SetField("title", "Never synced")
	localOnly.MarkAsChanged()
	env.putItem(t, localOnly)

	deleted := models.NewCollection(lib, "CCCC2222", "Trashed here")
	deleted.Version = 2
	deleted.Deleted = true
	env.putObject(t, deleted)
	require.NoError(t, env.snapshots.Write(models.KindCollection, lib, "CCCC2222", envelope("CCCC2222", 2, map[string]any{"name": "Server name"})))

	attachment := syncedItem(lib, "AAAA2222", "file", 1)
	attachment.ItemType = models.ItemTypeAttachment
	attachment.RecordChange(models.ItemChangeFields)
	env.putItem(t, attachment)

	env.putItem(t, syncedItem(lib, "QQQQ2222", "Untouched", 1))

	res, err := env.engine.RevertLibraryUpdates(lib)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ObjectRef{
		{Kind: models.KindCollection, Key: "CCCC2222"},
		{Kind: models.KindItem, Key: "XYZ23456"},
	}, res.Restored)
	assert.Equal(t, []ObjectRef{{Kind: models.KindItem, Key: "XYZ34567"}}, res.Failed)

	got := env.item(t, lib, "XYZ23456")
	assert.Equal(t, "Server title", got.Field("title"))
	assert.Equal(t, []models.Tag{{Name: "server"}}, got.Tags)
	assert.False(t, got.IsChanged())
	assert.Equal(t, models.ChangeSync, got.ChangeKind())
	assert.Equal(t, models.StateSynced, got.SyncState)
	assert.Equal(t, 5, got.Version)

	assert.Nil(t, env.item(t, lib, "XYZ34567"))

	col := env.collection(t, lib, "CCCC2222")
	require.NotNil(t, col)
	assert.False(t, col.Deleted)
	assert.Equal(t, "Server name", col.Name)

	assert.True(t, env.item(t, lib, "AAAA2222").IsChanged(), "attachments are reverted separately")
}

func writeAttachment(t *testing.T, env *testEnv, lib models.LibraryID, key, name string) string {
	t.Helper()
	path, err := env.files.Path(lib, key, name)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0644))
	return path
}

func renamedAttachment(t *testing.T, env *testEnv, lib models.LibraryID, key, serverName, localName string) {
	t.Helper()
	it := syncedItem(lib, key, serverName, 3)
	it.ItemType = models.ItemTypeAttachment
	it.Fields = []models.ItemField{{Key: "filename", Value: serverName}}
	it.SetField("filename", localName)
	it.RecordChange(models.ItemChangeFields)
	env.putItem(t, it)
	require.NoError(t, env.snapshots.Write(models.KindItem, lib, key, envelope(key, 3, map[string]any{
		"itemType": "attachment",
		"filename": serverName,
	})))
}

func TestRevertLibraryFiles_RenamesBack(t *testing.T) {
	env := newTestEnv(t)
	lib := models.GroupLibrary(4)

	renamedAttachment(t, env, lib, "AAAA2222", "paper.pdf", "renamed.pdf")
	local := writeAttachment(t, env, lib, "AAAA2222", "renamed.pdf")

	res, err := env.engine.RevertLibraryFiles(lib)
	require.NoError(t, err)
	assert.Equal(t, []ObjectRef{{Kind: models.KindItem, Key: "AAAA2222"}}, res.Restored)

	assert.NoFileExists(t, local)
	assert.FileExists(t, filepath.Join(filepath.Dir(local), "paper.pdf"))
	assert.Equal(t, "paper.pdf", env.item(t, lib, "AAAA2222").Field("filename"))
}

func TestRevertLibraryFiles_RenameFailureRemovesStaleFile(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	renamedAttachment(t, env, lib, "AAAA2222", "a.pdf", "b.pdf")
	existing := writeAttachment(t, env, lib, "AAAA2222", "a.pdf")
	stale := writeAttachment(t, env, lib, "AAAA2222", "b.pdf")

	_, err := env.engine.RevertLibraryFiles(lib)
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, existing)
}

func TestRevertLibraryFiles_NoSnapshotDeletesFile(t *testing.T) {
	env := newTestEnv(t)
	lib := models.PersonalLibrary()

	it := models.NewItem(lib, "AAAA2222", models.ItemTypeAttachment)
	it.SetField("filename", "local.pdf")
	it.MarkAsChanged()
	env.putItem(t, it)
	path := writeAttachment(t, env, lib, "AAAA2222", "local.pdf")

	res, err := env.engine.RevertLibraryFiles(lib)
	require.NoError(t, err)
	assert.Equal(t, []ObjectRef{{Kind: models.KindItem, Key: "AAAA2222"}}, res.Failed)
	assert.Nil(t, env.item(t, lib, "AAAA2222"))
	assert.NoFileExists(t, path)
}
