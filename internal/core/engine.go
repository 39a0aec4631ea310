// Package core implements the synchronization engine: version and deletion
// reconciliation, update submission and local recovery.
package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/libsync/internal/attachments"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/snapshot"
	"github.com/kilupskalvis/libsync/internal/store"
)

// Engine runs the sync stages of one account against its collaborators.
// Every local write happens in a store transaction opened after the network
// call it depends on has completed.
type Engine struct {
	store     *store.Store
	client    remote.Client
	snapshots snapshot.Cache
	files     attachments.Files
	logger    *slog.Logger
	backoff   Backoff
	now       func() time.Time
}

// NewEngine creates an engine. client may be nil for purely local operations
// such as revert and resync marking; files may be nil when attachments are
// not stored locally.
func NewEngine(st *store.Store, client remote.Client, snapshots snapshot.Cache, files attachments.Files, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		client:    client,
		snapshots: snapshots,
		files:     files,
		logger:    logger,
		backoff:   DefaultBackoff(),
		now:       time.Now,
	}
}

// SetBackoff replaces the retry cool-down policy.
func (e *Engine) SetBackoff(b Backoff) {
	e.backoff = b
}

// SetClock replaces the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RemoveLibrary deletes a library with all its local objects and snapshots.
func (e *Engine) RemoveLibrary(lib models.LibraryID) error {
	if err := e.store.RemoveLibrary(lib); err != nil {
		return fmt.Errorf("remove library: %w", err)
	}
	if err := e.snapshots.DeleteLibrary(lib); err != nil {
		e.logger.Warn("delete library snapshots", "library", lib.String(), "error", err)
	}
	return nil
}
