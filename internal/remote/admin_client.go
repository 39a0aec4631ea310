package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AdminTokenRequest is the body of POST /admin/tokens.
type AdminTokenRequest struct {
	Description string   `json:"description"`
	Libraries   []string `json:"libraries"`
	Permission  string   `json:"permission"`
}

// AdminTokenInfo describes an issued token. Hashes are never exposed.
type AdminTokenInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Libraries   []string `json:"libraries"`
	Permission  string   `json:"permission"`
}

// AdminTokenCreateResponse carries the raw token, which is shown only once.
type AdminTokenCreateResponse struct {
	Token string `json:"token"`
	AdminTokenInfo
}

// AdminLibraryInfo is one hosted library. It is also the body of
// POST /admin/libraries, where Version is ignored.
type AdminLibraryInfo struct {
	Library string `json:"library"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// AdminClient talks to the server's /admin/ API with the admin token.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdminClient creates an admin API client.
func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Insecure reports whether credentials would travel over plain HTTP.
func (c *AdminClient) Insecure() bool {
	return strings.HasPrefix(c.baseURL, "http://")
}

// call sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). Error statuses become *RemoteError.
func (c *AdminClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateToken issues a token for the given library paths ("*" for all).
func (c *AdminClient) CreateToken(ctx context.Context, desc string, libraries []string, permission string) (*AdminTokenCreateResponse, error) {
	var resp AdminTokenCreateResponse
	req := &AdminTokenRequest{Description: desc, Libraries: libraries, Permission: permission}
	if err := c.call(ctx, http.MethodPost, "/admin/tokens", req, &resp); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

// ListTokens returns the metadata of every token.
func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	var tokens []AdminTokenInfo
	if err := c.call(ctx, http.MethodGet, "/admin/tokens", nil, &tokens); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/admin/tokens/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// CreateLibrary creates an empty library at path ("users/1", "groups/5").
func (c *AdminClient) CreateLibrary(ctx context.Context, path, name string) error {
	if err := c.call(ctx, http.MethodPost, "/admin/libraries", &AdminLibraryInfo{Library: path, Name: name}, nil); err != nil {
		return fmt.Errorf("create library: %w", err)
	}
	return nil
}

// DeleteLibrary removes a library with all its objects and tombstones.
func (c *AdminClient) DeleteLibrary(ctx context.Context, path string) error {
	if err := c.call(ctx, http.MethodDelete, "/admin/libraries/"+path, nil, nil); err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	return nil
}

func (c *AdminClient) ListLibraries(ctx context.Context) ([]AdminLibraryInfo, error) {
	var libs []AdminLibraryInfo
	if err := c.call(ctx, http.MethodGet, "/admin/libraries", nil, &libs); err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	return libs, nil
}
