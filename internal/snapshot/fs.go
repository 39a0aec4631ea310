package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/libsync/internal/models"
)

// FSCache implements Cache using the local filesystem.
// Snapshots are stored as {root}/{lib}/{kind}/{key}.json.
type FSCache struct {
	root string
}

// NewFSCache creates a filesystem-backed snapshot cache rooted at the given directory.
func NewFSCache(root string) (*FSCache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot root: %w", err)
	}
	return &FSCache{root: root}, nil
}

// Read returns the stored JSON of an object.
func (c *FSCache) Read(kind models.ObjectKind, lib models.LibraryID, key string) ([]byte, error) {
	if !models.ValidKey(key) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(c.path(kind, lib, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s/%s: %w", lib, key, err)
	}
	return data, nil
}

// Write stores the JSON of an object through a temp file and rename.
func (c *FSCache) Write(kind models.ObjectKind, lib models.LibraryID, key string, data []byte) error {
	if !models.ValidKey(key) {
		return fmt.Errorf("invalid object key: %q", key)
	}
	path := c.path(kind, lib, key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot of an object.
func (c *FSCache) Delete(kind models.ObjectKind, lib models.LibraryID, key string) error {
	if !models.ValidKey(key) {
		return nil
	}
	if err := os.Remove(c.path(kind, lib, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %s/%s: %w", lib, key, err)
	}
	return nil
}

// DeleteLibrary removes the whole snapshot tree of a library.
func (c *FSCache) DeleteLibrary(lib models.LibraryID) error {
	if err := os.RemoveAll(filepath.Join(c.root, lib.String())); err != nil {
		return fmt.Errorf("delete snapshots of %s: %w", lib, err)
	}
	return nil
}

func (c *FSCache) path(kind models.ObjectKind, lib models.LibraryID, key string) string {
	return filepath.Join(c.root, lib.String(), kind.Plural(), key+".json")
}
