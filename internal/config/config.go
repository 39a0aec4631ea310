// Package config manages libsync configuration and the .libsync directory.
// It handles loading, saving, and initializing a workspace.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	Dir          = ".libsync"
	ConfigFile   = "config"
	DatabaseFile = "libsync.db"
	SnapshotsDir = "snapshots"
	StorageDir   = "storage"
	LogFile      = "libsync.log"
	EnvFile      = ".env"
)

// Environment variables that override the config file.
const (
	EnvServerURL   = "LIBSYNC_SERVER_URL"
	EnvUserID      = "LIBSYNC_USER_ID"
	EnvToken       = "LIBSYNC_TOKEN"
	EnvLogLevel    = "LIBSYNC_LOG_LEVEL"
	EnvConcurrency = "LIBSYNC_CONCURRENCY"
)

// ErrNotFound is returned when no .libsync directory exists in the current
// directory or any parent.
var ErrNotFound = errors.New("not a libsync workspace (or any parent up to root)")

// Config represents the libsync client configuration
type Config struct {
	ServerURL   string    `toml:"server_url"`
	UserID      int       `toml:"user_id"`
	Concurrency int       `toml:"concurrency,omitempty"`
	Log         LogConfig `toml:"log"`

	// Token is only read from the environment; the stored token lives in the database.
	Token string `toml:"-"`

	path string // path to .libsync directory
}

// LogConfig controls the client log output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format,omitempty"`
	// File enables logging to .libsync/libsync.log instead of stderr.
	File bool `toml:"file,omitempty"`
}

// FindRoot finds the .libsync directory by walking up from the current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findRoot(dir)
}

func findRoot(dir string) (string, error) {
	for {
		path := filepath.Join(dir, Dir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load loads the configuration of the workspace containing the current directory.
func Load() (*Config, error) {
	path, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from a .libsync directory. A .env file
// next to the directory is loaded first; LIBSYNC_* variables override the
// file values.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(path, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = path

	// godotenv does not override variables already set.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), EnvFile))
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvUserID, v, err)
		}
		c.UserID = id
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvConcurrency, v, err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	c.Token = os.Getenv(EnvToken)
	return nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .libsync directory
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the path to the bbolt database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.path, DatabaseFile)
}

// SnapshotsPath returns the path to the snapshot cache
func (c *Config) SnapshotsPath() string {
	return filepath.Join(c.path, SnapshotsDir)
}

// StoragePath returns the path to the attachment storage
func (c *Config) StoragePath() string {
	return filepath.Join(c.path, StorageDir)
}

// LogPath returns the path to the log file
func (c *Config) LogPath() string {
	return filepath.Join(c.path, LogFile)
}

// Initialize creates a new .libsync directory in dir with initial configuration
func Initialize(dir, serverURL string, userID int) (*Config, error) {
	path := filepath.Join(dir, Dir)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("libsync workspace already exists")
	}

	for _, sub := range []string{path, filepath.Join(path, SnapshotsDir), filepath.Join(path, StorageDir)} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	cfg := &Config{
		ServerURL: serverURL,
		UserID:    userID,
		Log:       LogConfig{Level: "info"},
		path:      path,
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(path)
		return nil, err
	}

	return cfg, nil
}
