// Package snapshot keeps the last server-confirmed JSON of every synced
// object, used to restore local state when the server rejects local edits.
package snapshot

import (
	"errors"

	"github.com/kilupskalvis/libsync/internal/models"
)

// ErrNotFound is returned when no snapshot exists for an object.
var ErrNotFound = errors.New("snapshot not found")

// Cache defines the contract for last-known-good object storage.
type Cache interface {
	// Read returns the stored JSON. Returns ErrNotFound if none exists.
	Read(kind models.ObjectKind, lib models.LibraryID, key string) ([]byte, error)

	// Write replaces the stored JSON atomically.
	Write(kind models.ObjectKind, lib models.LibraryID, key string, data []byte) error

	// Delete removes a snapshot. No error if it doesn't exist.
	Delete(kind models.ObjectKind, lib models.LibraryID, key string) error

	// DeleteLibrary removes every snapshot of a library.
	DeleteLibrary(lib models.LibraryID) error
}
