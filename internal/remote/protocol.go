// Package remote defines the wire types and client of the versioned
// library REST API.
package remote

import "encoding/json"

// Header names used by the versioned API.
const (
	HeaderLastModifiedVersion      = "Last-Modified-Version"
	HeaderIfUnmodifiedSinceVersion = "If-Unmodified-Since-Version"
)

// MaxObjectsPerRequest is the largest number of objects a single read or
// write request may carry.
const MaxObjectsPerRequest = 50

// VersionsResponse maps object keys to their current remote versions.
type VersionsResponse struct {
	Versions            map[string]int
	LastModifiedVersion int
}

// ObjectsResponse carries the raw JSON of fetched objects. Objects are kept
// raw so each one can be parsed, and fail, independently.
type ObjectsResponse struct {
	Objects             []json.RawMessage
	LastModifiedVersion int
}

// DeletedKeys lists keys deleted remotely since a version.
type DeletedKeys struct {
	Collections []string `json:"collections"`
	Searches    []string `json:"searches"`
	Items       []string `json:"items"`
	Tags        []string `json:"tags"`
	Settings    []string `json:"settings"`
}

// DeletionsResponse is the result of a deletions query.
type DeletionsResponse struct {
	Deleted             DeletedKeys
	LastModifiedVersion int
}

// ObjectLibrary identifies the library in an object's JSON.
type ObjectLibrary struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
}

// ObjectJSON is the envelope every object is served in.
type ObjectJSON struct {
	Key     string          `json:"key"`
	Version int             `json:"version"`
	Library ObjectLibrary   `json:"library"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

// FailedObject describes a rejected object of a write request.
type FailedObject struct {
	Key     string `json:"key"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteResponse is the per-object outcome of a batched write, keyed by the
// index of the object in the request.
type WriteResponse struct {
	Successful map[string]json.RawMessage `json:"successful"`
	Success    map[string]string          `json:"success"`
	Unchanged  map[string]string          `json:"unchanged"`
	Failed     map[string]FailedObject    `json:"failed"`
}

// UpdateResponse is a WriteResponse together with the new library version.
type UpdateResponse struct {
	WriteResponse
	LastModifiedVersion int
}

// SettingValue is a settings entry as served and written.
type SettingValue struct {
	Value   json.RawMessage `json:"value"`
	Version int             `json:"version,omitempty"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}
