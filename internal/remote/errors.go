package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kilupskalvis/libsync/internal/models"
)

// Sentinel errors surfaced by Client implementations. Match them with errors.Is.
var (
	// ErrNetwork wraps transport failures: no response was received.
	ErrNetwork = errors.New("network error")

	// ErrPreconditionFailed means the library changed since the version sent
	// in If-Unmodified-Since-Version.
	ErrPreconditionFailed = errors.New("library modified since given version")

	// ErrPermissionDenied means the token may not perform the request.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrLibraryNotFound means the library does not exist or is no longer accessible.
	ErrLibraryNotFound = errors.New("library not found")

	// ErrPayloadTooLarge means the request or one of its objects exceeds a server limit.
	ErrPayloadTooLarge = models.ErrPayloadTooLarge
)

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the HTTP status onto the matching sentinel error.
func (e *RemoteError) Unwrap() error {
	return StatusError(e.Status)
}

// StatusError returns the sentinel for an HTTP status, or nil when none applies.
func StatusError(status int) error {
	switch status {
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusNotFound:
		return ErrLibraryNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
