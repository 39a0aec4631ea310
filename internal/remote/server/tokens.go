package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/kilupskalvis/libsync/internal/logging"
)

// Token permissions.
const (
	PermissionReadOnly  = "ro"
	PermissionReadWrite = "rw"
)

// TokenInfo is the stored form of an API token. The raw token is never kept.
type TokenInfo struct {
	ID         string   `json:"id"`
	TokenHash  string   `json:"token_hash"`
	Desc       string   `json:"description"`
	Libraries  []string `json:"libraries"` // library paths such as "users/1", or "*"
	Permission string   `json:"permission"`
}

// Allows reports whether the token grants access to a library path.
func (t *TokenInfo) Allows(library string) bool {
	for _, l := range t.Libraries {
		if l == "*" || l == library {
			return true
		}
	}
	return false
}

// CanWrite reports whether the token may modify libraries.
func (t *TokenInfo) CanWrite() bool {
	return t.Permission == PermissionReadWrite
}

// TokenStore looks up and manages API tokens.
type TokenStore interface {
	GetByHash(hash string) (*TokenInfo, error)
	ListTokens() ([]*TokenInfo, error)
	DeleteToken(id string) error
	CreateToken(desc string, libraries []string, permission string) (rawToken string, info *TokenInfo, err error)
}

// HashToken returns the SHA256 hex digest of a raw token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// FileTokenStore keeps tokens in memory and persists them to a JSON file.
// An empty path keeps the store in memory only.
type FileTokenStore struct {
	path   string
	mu     sync.RWMutex
	tokens map[string]*TokenInfo // keyed by token_hash
	logger *slog.Logger
}

// NewFileTokenStore creates a token store backed by path.
func NewFileTokenStore(path string, logger *slog.Logger) *FileTokenStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileTokenStore{
		path:   path,
		tokens: make(map[string]*TokenInfo),
		logger: logger,
	}
}

// Load replaces the in-memory tokens with the file contents.
// A missing file leaves the store empty.
func (s *FileTokenStore) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token store: %w", err)
	}

	var tokens []*TokenInfo
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]*TokenInfo, len(tokens))
	for _, t := range tokens {
		s.tokens[t.TokenHash] = t
	}

	s.logger.Info("loaded tokens", "count", len(tokens))
	return nil
}

func (s *FileTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	return info, nil
}

func (s *FileTokenStore) save() error {
	if s.path == "" {
		return nil
	}
	tokens, _ := s.ListTokens()

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

// CreateToken issues a new token and persists the store.
func (s *FileTokenStore) CreateToken(desc string, libraries []string, permission string) (string, *TokenInfo, error) {
	rawToken := "ls_" + generateID()
	info := &TokenInfo{
		ID:         generateID(),
		TokenHash:  HashToken(rawToken),
		Desc:       desc,
		Libraries:  libraries,
		Permission: permission,
	}
	if err := s.Add(info); err != nil {
		return "", nil, err
	}
	return rawToken, info, nil
}

// Add registers a token by its precomputed hash and persists the store.
func (s *FileTokenStore) Add(info *TokenInfo) error {
	s.mu.Lock()
	s.tokens[info.TokenHash] = info
	s.mu.Unlock()

	if err := s.save(); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// ListTokens returns all tokens ordered by ID.
func (s *FileTokenStore) ListTokens() ([]*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
	return tokens, nil
}

func (s *FileTokenStore) DeleteToken(id string) error {
	s.mu.Lock()
	found := false
	for hash, t := range s.tokens {
		if t.ID == id {
			delete(s.tokens, hash)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("token '%s' not found", id)
	}
	return s.save()
}

func generateID() string {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
