// Package cli implements the command-line interface for libsync.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/kilupskalvis/libsync/internal/attachments"
	"github.com/kilupskalvis/libsync/internal/config"
	"github.com/kilupskalvis/libsync/internal/core"
	"github.com/kilupskalvis/libsync/internal/logging"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/snapshot"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Store  *store.Store
	Engine *core.Engine
	Logger *slog.Logger

	logCloser io.Closer
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.logCloser != nil {
		c.logCloser.Close()
	}
}

// initContext initializes config, logger and store (no remote client)
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	opts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if cfg.Log.File {
		opts.File = cfg.LogPath()
	}
	if verbose {
		opts.Level = "debug"
	}
	logger, closer := logging.New(opts)

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		closer.Close()
		exitError("failed to open store: %v", err)
	}
	if err := st.Initialize(); err != nil {
		st.Close()
		closer.Close()
		exitError("failed to initialize store: %v", err)
	}

	return &cmdContext{Config: cfg, Store: st, Logger: logger, logCloser: closer}
}

// initEngineContext adds a sync engine. With withClient the engine can reach
// the server; otherwise only local operations are available.
func initEngineContext(withClient bool) *cmdContext {
	ctx := initContext()

	snapshots, err := snapshot.NewFSCache(ctx.Config.SnapshotsPath())
	if err != nil {
		ctx.Close()
		exitError("failed to open snapshot cache: %v", err)
	}
	files, err := attachments.NewFSFiles(ctx.Config.StoragePath())
	if err != nil {
		ctx.Close()
		exitError("failed to open attachment storage: %v", err)
	}

	var client remote.Client
	if withClient {
		client, err = newClient(ctx)
		if err != nil {
			ctx.Close()
			exitError("%v", err)
		}
	}

	ctx.Engine = core.NewEngine(ctx.Store, client, snapshots, files, ctx.Logger)
	return ctx
}

// newClient builds the HTTP client from config, falling back to the
// credentials stored by init.
func newClient(ctx *cmdContext) (remote.Client, error) {
	cfg := ctx.Config
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server configured: set server_url in %s or %s", config.ConfigFile, config.EnvServerURL)
	}

	token := cfg.Token
	if token == "" {
		stored, err := ctx.Store.GetAPIToken()
		if err != nil {
			return nil, fmt.Errorf("read API token: %w", err)
		}
		token = stored
	}
	if token == "" {
		return nil, fmt.Errorf("no API token: run 'libsync init --token' or set %s", config.EnvToken)
	}

	userID := cfg.UserID
	if userID == 0 {
		stored, err := ctx.Store.GetUserID()
		if err != nil {
			return nil, fmt.Errorf("read user ID: %w", err)
		}
		if stored != "" {
			if userID, err = strconv.Atoi(stored); err != nil {
				return nil, fmt.Errorf("invalid stored user ID %q", stored)
			}
		}
	}
	if userID == 0 {
		return nil, fmt.Errorf("no user ID configured")
	}

	return remote.NewHTTPClient(cfg.ServerURL, userID, token), nil
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "libsync",
	Short: "Offline-first bibliographic library sync",
	Long: `libsync keeps a local copy of your bibliographic libraries (items,
collections, saved searches and reading positions) and synchronizes it
with a versioned library server. Edits are made offline and uploaded on
the next sync.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(collectionCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(serverCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// parseLibrary accepts the compact form ("u", "g5") or an API path
// ("users/1", "groups/5").
func parseLibrary(s string) (models.LibraryID, error) {
	if s == "" || s == "personal" {
		return models.PersonalLibrary(), nil
	}
	var id int
	if _, err := fmt.Sscanf(s, "groups/%d", &id); err == nil {
		if id <= 0 {
			return models.LibraryID{}, fmt.Errorf("invalid group library %q", s)
		}
		return models.GroupLibrary(id), nil
	}
	if _, err := fmt.Sscanf(s, "users/%d", &id); err == nil {
		return models.PersonalLibrary(), nil
	}
	return models.ParseLibraryID(s)
}

// mustLibrary parses a library flag or exits.
func mustLibrary(s string) models.LibraryID {
	lib, err := parseLibrary(s)
	if err != nil {
		exitError("%v", err)
	}
	return lib
}

// libraryLabel returns "name (id)" for display.
func libraryLabel(lib *models.Library) string {
	if lib.Name == "" {
		return lib.ID.String()
	}
	return fmt.Sprintf("%s (%s)", lib.Name, lib.ID)
}
