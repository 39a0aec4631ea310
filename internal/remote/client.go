package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/libsync/internal/models"
)

// Client defines the contract for talking to the versioned library API.
// Implementations return errors matching the sentinels in errors.go.
type Client interface {
	FetchVersions(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, since int) (*VersionsResponse, error)
	FetchObjects(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, keys []string) (*ObjectsResponse, error)
	FetchDeletions(ctx context.Context, lib models.LibraryID, since int) (*DeletionsResponse, error)

	SubmitUpdates(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, params []map[string]any, since int) (*UpdateResponse, error)
	SubmitSettings(ctx context.Context, lib models.LibraryID, settings map[string]any, since int) (int, error)
	SubmitDeletions(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, keys []string, since int) (int, error)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL    string
	userID     int
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based client. userID is the owner of the
// personal library.
func NewHTTPClient(baseURL string, userID int, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) libraryURL(lib models.LibraryID, path string, query url.Values) string {
	u := fmt.Sprintf("%s/%s%s", c.baseURL, lib.APIPath(c.userID), path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("execute request: %w: %w", ErrNetwork, err)
	}

	return resp, nil
}

// doVersioned performs a request and decodes the JSON body into respBody,
// returning the Last-Modified-Version header.
func (c *HTTPClient) doVersioned(ctx context.Context, method, target string, reqBody, respBody any, since int) (int, error) {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}
	if since >= 0 {
		headers[HeaderIfUnmodifiedSinceVersion] = strconv.Itoa(since)
	}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, target, body, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, decodeError(resp)
	}

	version, err := lastModifiedVersion(resp)
	if err != nil {
		return 0, err
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return 0, fmt.Errorf("decode response: %w", err)
		}
	}

	return version, nil
}

func lastModifiedVersion(resp *http.Response) (int, error) {
	raw := resp.Header.Get(HeaderLastModifiedVersion)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q", HeaderLastModifiedVersion, raw)
	}
	return v, nil
}

// FetchVersions returns the versions of objects of a kind modified since a version.
func (c *HTTPClient) FetchVersions(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, since int) (*VersionsResponse, error) {
	query := url.Values{"format": {"versions"}, "since": {strconv.Itoa(since)}}
	resp := &VersionsResponse{Versions: map[string]int{}}
	version, err := c.doVersioned(ctx, http.MethodGet, c.libraryURL(lib, "/"+kind.Plural(), query), nil, &resp.Versions, -1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s versions of %s: %w", kind, lib, err)
	}
	resp.LastModifiedVersion = version
	return resp, nil
}

// FetchObjects downloads objects by key. At most MaxObjectsPerRequest keys are allowed.
func (c *HTTPClient) FetchObjects(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, keys []string) (*ObjectsResponse, error) {
	if len(keys) > MaxObjectsPerRequest {
		return nil, fmt.Errorf("fetch %s: %d keys exceeds limit of %d", kind, len(keys), MaxObjectsPerRequest)
	}
	query := url.Values{kind.KeyParam(): {strings.Join(keys, ",")}}
	resp := &ObjectsResponse{}
	version, err := c.doVersioned(ctx, http.MethodGet, c.libraryURL(lib, "/"+kind.Plural(), query), nil, &resp.Objects, -1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s of %s: %w", kind.Plural(), lib, err)
	}
	resp.LastModifiedVersion = version
	return resp, nil
}

// FetchDeletions returns keys deleted since a version.
func (c *HTTPClient) FetchDeletions(ctx context.Context, lib models.LibraryID, since int) (*DeletionsResponse, error) {
	query := url.Values{"since": {strconv.Itoa(since)}}
	resp := &DeletionsResponse{}
	version, err := c.doVersioned(ctx, http.MethodGet, c.libraryURL(lib, "/deleted", query), nil, &resp.Deleted, -1)
	if err != nil {
		return nil, fmt.Errorf("fetch deletions of %s: %w", lib, err)
	}
	resp.LastModifiedVersion = version
	return resp, nil
}

// SubmitUpdates writes a batch of objects guarded by the library version since.
func (c *HTTPClient) SubmitUpdates(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, params []map[string]any, since int) (*UpdateResponse, error) {
	if len(params) > MaxObjectsPerRequest {
		return nil, fmt.Errorf("submit %s: %d objects exceeds limit of %d", kind.Plural(), len(params), MaxObjectsPerRequest)
	}
	resp := &UpdateResponse{}
	version, err := c.doVersioned(ctx, http.MethodPost, c.libraryURL(lib, "/"+kind.Plural(), nil), params, &resp.WriteResponse, since)
	if err != nil {
		return nil, fmt.Errorf("submit %s of %s: %w", kind.Plural(), lib, err)
	}
	resp.LastModifiedVersion = version
	return resp, nil
}

// SubmitSettings writes settings entries and returns the new library version.
func (c *HTTPClient) SubmitSettings(ctx context.Context, lib models.LibraryID, settings map[string]any, since int) (int, error) {
	version, err := c.doVersioned(ctx, http.MethodPost, c.libraryURL(lib, "/settings", nil), settings, nil, since)
	if err != nil {
		return 0, fmt.Errorf("submit settings of %s: %w", lib, err)
	}
	return version, nil
}

// SubmitDeletions deletes objects by key and returns the new library version.
func (c *HTTPClient) SubmitDeletions(ctx context.Context, kind models.ObjectKind, lib models.LibraryID, keys []string, since int) (int, error) {
	if len(keys) > MaxObjectsPerRequest {
		return 0, fmt.Errorf("delete %s: %d keys exceeds limit of %d", kind.Plural(), len(keys), MaxObjectsPerRequest)
	}
	query := url.Values{kind.KeyParam(): {strings.Join(keys, ",")}}
	version, err := c.doVersioned(ctx, http.MethodDelete, c.libraryURL(lib, "/"+kind.Plural(), query), nil, nil, since)
	if err != nil {
		return 0, fmt.Errorf("delete %s of %s: %w", kind.Plural(), lib, err)
	}
	return version, nil
}
