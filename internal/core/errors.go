package core

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
)

// Sync error taxonomy. Match with errors.Is.
var (
	// ErrNetwork is a transient transport failure; the stage may be retried later.
	ErrNetwork = remote.ErrNetwork

	// ErrVersionMismatch means the library changed on the server while it was
	// being reconciled. The library restarts from version reconciliation.
	ErrVersionMismatch = errors.New("library version changed during sync")

	// ErrPreconditionFailed means a submit was based on a stale library version.
	// The same payload is never resubmitted; versions are reconciled first.
	ErrPreconditionFailed = remote.ErrPreconditionFailed

	// ErrParse marks malformed server JSON for a single object.
	ErrParse = errors.New("malformed object data")

	// ErrPermissionDenied means write access to the library was revoked.
	ErrPermissionDenied = remote.ErrPermissionDenied

	// ErrPayloadTooLarge is terminal for an object until it is edited again.
	ErrPayloadTooLarge = models.ErrPayloadTooLarge

	// ErrLibraryNotFound means the library is gone or no longer accessible.
	ErrLibraryNotFound = remote.ErrLibraryNotFound
)

// VersionMismatchError reports the expected and the observed library version.
type VersionMismatchError struct {
	Library  models.LibraryID
	Expected int
	Actual   int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("library %s: expected version %d, server reports %d", e.Library, e.Expected, e.Actual)
}

// Unwrap makes the error match ErrVersionMismatch.
func (e *VersionMismatchError) Unwrap() error {
	return ErrVersionMismatch
}

func parseError(kind models.ObjectKind, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", kind, key, ErrParse, err)
}
