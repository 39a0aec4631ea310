// Package attachments manages the on-disk files of attachment items.
package attachments

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/libsync/internal/models"
)

// ErrInvalidName is returned for file names that would escape the item directory.
var ErrInvalidName = errors.New("invalid attachment file name")

// Files defines the contract for attachment file operations used by sync.
type Files interface {
	// Rename moves an attachment file from oldName to newName within its item directory.
	Rename(lib models.LibraryID, key, oldName, newName string) error

	// Remove deletes an attachment file. No error if it doesn't exist.
	Remove(lib models.LibraryID, key, name string) error
}

// FSFiles implements Files on a directory tree {root}/{lib}/{key}/{name}.
type FSFiles struct {
	root string
}

// NewFSFiles creates an attachment store rooted at the given directory.
func NewFSFiles(root string) (*FSFiles, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create attachment root: %w", err)
	}
	return &FSFiles{root: root}, nil
}

// Path returns the location of an attachment file.
func (f *FSFiles) Path(lib models.LibraryID, key, name string) (string, error) {
	if !models.ValidKey(key) || !validName(name) {
		return "", fmt.Errorf("%s/%s: %w", key, name, ErrInvalidName)
	}
	return filepath.Join(f.root, lib.String(), key, name), nil
}

// Rename moves an attachment file. The target must not exist.
func (f *FSFiles) Rename(lib models.LibraryID, key, oldName, newName string) error {
	from, err := f.Path(lib, key, oldName)
	if err != nil {
		return err
	}
	to, err := f.Path(lib, key, newName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(to); err == nil {
		return fmt.Errorf("rename %s: target %s already exists", oldName, newName)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// Remove deletes an attachment file and its item directory when empty.
func (f *FSFiles) Remove(lib models.LibraryID, key, name string) error {
	path, err := f.Path(lib, key, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	// Leaves non-empty directories in place.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
