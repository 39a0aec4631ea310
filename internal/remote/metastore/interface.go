// Package metastore provides the server-side versioned object storage.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid request")

	// ErrPreconditionFailed is returned when the library version is newer
	// than the version a write was based on.
	ErrPreconditionFailed = errors.New("library has been modified since the specified version")
)

// Object kinds as they appear in API paths.
const (
	KindCollections = "collections"
	KindSearches    = "searches"
	KindItems       = "items"
	KindSettings    = "settings"
)

// ValidKind reports whether kind names a stored object kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindCollections, KindSearches, KindItems, KindSettings:
		return true
	}
	return false
}

// LibraryInfo describes a hosted library.
type LibraryInfo struct {
	Path    string `json:"library"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// StoredObject is an object as persisted: its key, version and data.
type StoredObject struct {
	Key     string
	Version int
	Data    json.RawMessage
}

// WriteStatus is the outcome of one object in a batched write.
type WriteStatus int

const (
	WriteSuccessful WriteStatus = iota
	WriteUnchanged
	WriteFailed
)

// WriteResult is the outcome of one object in a batched write.
type WriteResult struct {
	Status  WriteStatus
	Key     string
	Object  *StoredObject // set for WriteSuccessful
	Code    int           // HTTP-style code for WriteFailed
	Message string
}

// MetaStore defines the contract for server-side library persistence.
// Every write bumps the library version at most once.
type MetaStore interface {
	// Libraries
	CreateLibrary(ctx context.Context, path, name string) error
	DeleteLibrary(ctx context.Context, path string) error
	ListLibraries(ctx context.Context) ([]LibraryInfo, error)
	LibraryVersion(ctx context.Context, path string) (int, error)

	// Reads return the current library version alongside the data.
	Versions(ctx context.Context, path, kind string, since int) (map[string]int, int, error)
	Objects(ctx context.Context, path, kind string, keys []string) ([]StoredObject, int, error)
	Deleted(ctx context.Context, path string, since int) (map[string][]string, int, error)

	// Writes. since < 0 disables the library version check.
	WriteObjects(ctx context.Context, path, kind string, since int, objects []map[string]json.RawMessage) ([]WriteResult, int, error)
	WriteSettings(ctx context.Context, path string, since int, settings map[string]json.RawMessage) (int, error)
	DeleteObjects(ctx context.Context, path, kind string, since int, keys []string) (int, error)

	// Close releases resources.
	Close() error
}
