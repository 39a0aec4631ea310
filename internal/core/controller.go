package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/store"
)

// maxAttempts bounds how often a library restarts after the server moved on
// during its sync.
const maxAttempts = 3

// DefaultConcurrency is the number of libraries synced in parallel.
const DefaultConcurrency = 4

// Resolution is the user's answer to a conflict.
type Resolution int

const (
	// ResolutionSkip leaves the conflict open until the next sync.
	ResolutionSkip Resolution = iota
	// ResolutionKeepLocal keeps the local state.
	ResolutionKeepLocal
	// ResolutionAcceptRemote applies the server's state locally.
	ResolutionAcceptRemote
)

func (r Resolution) String() string {
	switch r {
	case ResolutionKeepLocal:
		return "keep-local"
	case ResolutionAcceptRemote:
		return "accept-remote"
	}
	return "skip"
}

// ConflictResolver decides conflicts. Calls are serialized across libraries.
type ConflictResolver interface {
	Resolve(ctx context.Context, conflict models.Conflict) (Resolution, error)
}

// SyncOptions configures one sync run.
type SyncOptions struct {
	// Libraries to sync; all known libraries when empty.
	Libraries []models.LibraryID
	Mode      SyncMode
	// CheckRemote compares against server versions. Without it only objects
	// already marked for resync are fetched and remote deletions are not read.
	CheckRemote bool
	// ConfirmDeletions hands remote deletions to the resolver before they
	// are applied.
	ConfirmDeletions bool
	Concurrency      int
}

// LibraryReport is the outcome of one library.
type LibraryReport struct {
	Library    models.LibraryID
	Fetched    int
	Removed    int
	Submitted  int
	Deleted    int
	Reverted   int
	Attempts   int
	Errors     map[ObjectRef]error
	Conflicts  []models.Conflict
	Unresolved []models.Conflict
	Err        error
}

func newLibraryReport(lib models.LibraryID) *LibraryReport {
	return &LibraryReport{Library: lib, Errors: make(map[ObjectRef]error)}
}

// SyncReport collects the reports of one run, in library order.
type SyncReport struct {
	Libraries []*LibraryReport
}

// Err joins the library-level errors of the run.
func (r *SyncReport) Err() error {
	var errs []error
	for _, lib := range r.Libraries {
		if lib.Err != nil {
			errs = append(errs, fmt.Errorf("library %s: %w", lib.Library, lib.Err))
		}
	}
	return errors.Join(errs...)
}

// Controller drives the sync stages for each library.
type Controller struct {
	engine   *Engine
	resolver ConflictResolver
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewController creates a controller. A nil resolver reports every conflict
// as unresolved.
func NewController(engine *Engine, resolver ConflictResolver, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{engine: engine, resolver: resolver, logger: logger}
}

// Sync runs every selected library. Libraries run concurrently and a failing
// library never stops the others; its error is kept in its report.
func (c *Controller) Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	libs := opts.Libraries
	if len(libs) == 0 {
		known, err := c.engine.store.ListLibraries()
		if err != nil {
			return nil, fmt.Errorf("list libraries: %w", err)
		}
		for _, lib := range known {
			libs = append(libs, lib.ID)
		}
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	report := &SyncReport{Libraries: make([]*LibraryReport, len(libs))}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, lib := range libs {
		g.Go(func() error {
			report.Libraries[i] = c.syncLibrary(ctx, lib, opts)
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}

func (c *Controller) syncLibrary(ctx context.Context, lib models.LibraryID, opts SyncOptions) *LibraryReport {
	report := newLibraryReport(lib)
	log := c.logger.With("library", lib.String())
	checkRemote := opts.CheckRemote || opts.Mode == SyncFull

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		report.Attempts = attempt
		err := c.runStages(ctx, lib, opts.Mode, checkRemote, opts.ConfirmDeletions, report, log)
		if err == nil {
			log.Info("library synced",
				"fetched", report.Fetched, "removed", report.Removed,
				"submitted", report.Submitted, "deleted", report.Deleted, "attempts", attempt)
			return report
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrVersionMismatch), errors.Is(err, ErrPreconditionFailed):
			log.Info("library changed on server, restarting", "attempt", attempt, "error", err)
			checkRemote = true
			continue
		case errors.Is(err, ErrPermissionDenied):
			info, _ := c.engine.store.GetLibrary(lib)
			report.Err = c.resolve(ctx, models.GroupWriteDenied{Library: lib, Name: libraryName(info)}, report)
			return report
		case errors.Is(err, ErrLibraryNotFound):
			info, _ := c.engine.store.GetLibrary(lib)
			report.Err = c.resolve(ctx, models.GroupRemoved{Library: lib, Name: libraryName(info)}, report)
			return report
		}

		log.Warn("library sync failed", "error", err)
		report.Err = err
		return report
	}

	report.Err = fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
	log.Warn("library sync failed", "error", report.Err)
	return report
}

func libraryName(lib *models.Library) string {
	if lib == nil {
		return ""
	}
	return lib.Name
}

// runStages performs one pass over the stages of a library. Versions are
// persisted after each stage so a restart resumes from what was applied.
func (c *Controller) runStages(ctx context.Context, lib models.LibraryID, mode SyncMode, checkRemote, confirm bool, report *LibraryReport, log *slog.Logger) error {
	e := c.engine
	info, err := e.store.GetLibrary(lib)
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	if info == nil {
		return fmt.Errorf("library %s is not configured", lib)
	}
	versions, err := e.store.GetVersions(lib)
	if err != nil {
		return fmt.Errorf("load versions: %w", err)
	}

	var current *int
	for _, kind := range models.SyncKinds {
		res, err := e.ReconcileVersions(ctx, kind, lib, VersionOptions{
			SinceVersion:   versions.For(kind),
			CurrentVersion: current,
			CheckRemote:    checkRemote,
			Mode:           mode,
		})
		if err != nil {
			return err
		}
		if checkRemote && current == nil {
			v := res.NewVersion
			current = &v
		}

		fetched, err := e.FetchObjects(ctx, kind, lib, res.ChangedKeys)
		if err != nil {
			return err
		}
		report.Fetched += len(fetched.Fetched)
		for key, ferr := range fetched.Failed {
			report.Errors[ObjectRef{Kind: kind, Key: key}] = ferr
		}

		if checkRemote {
			versions.Set(kind, res.NewVersion)
			if err := c.saveVersions(lib, versions); err != nil {
				return err
			}
		}
	}

	if checkRemote {
		res, err := e.ReconcileDeletions(ctx, lib, DeletionOptions{
			SinceVersion:   versions.Deletions,
			CurrentVersion: current,
			ConfirmRemote:  confirm,
		})
		if err != nil {
			return err
		}
		report.Removed += res.Removed.Count()
		for _, conflict := range res.Conflicts {
			if err := c.resolve(ctx, conflict, report); err != nil {
				return err
			}
		}
		versions.Deletions = res.NewVersion
		if res.NewVersion > versions.Max {
			versions.Max = res.NewVersion
		}
		if err := c.saveVersions(lib, versions); err != nil {
			return err
		}
	}

	if info.ReadOnly {
		log.Debug("library is read-only, skipping submit")
		return nil
	}

	since := versions.Max
	if current != nil {
		since = *current
	}
	start := since

	for _, kind := range models.SyncKinds {
		pending, err := e.PendingUpdates(kind, lib)
		if err != nil {
			return err
		}
		for key, perr := range pending.SkippedErrors {
			report.Errors[ObjectRef{Kind: kind, Key: key}] = perr
		}
		for _, batch := range pending.Batches {
			res, err := e.SubmitUpdates(ctx, batch, since)
			if err != nil {
				return err
			}
			since = res.NewVersion
			report.Submitted += len(batch.Keys) - len(res.Errors)
			for key, serr := range res.Errors {
				report.Errors[ObjectRef{Kind: kind, Key: key}] = serr
			}
		}
	}

	kinds := slices.Clone(models.SyncKinds)
	slices.Reverse(kinds)
	for _, kind := range kinds {
		res, err := e.SubmitDeletions(ctx, kind, lib, since)
		if err != nil {
			return err
		}
		since = res.NewVersion
		report.Deleted += len(res.Deleted)
	}

	if since != start {
		for _, kind := range models.SyncKinds {
			versions.Set(kind, since)
		}
		versions.Deletions = since
		if err := c.saveVersions(lib, versions); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) saveVersions(lib models.LibraryID, v models.Versions) error {
	err := c.engine.store.Update(func(tx *store.Tx) error {
		return tx.PutVersions(lib, v)
	})
	if err != nil {
		return fmt.Errorf("save versions: %w", err)
	}
	return nil
}

// resolve records a conflict, asks the resolver and applies its answer.
func (c *Controller) resolve(ctx context.Context, conflict models.Conflict, report *LibraryReport) error {
	report.Conflicts = append(report.Conflicts, conflict)
	if c.resolver == nil {
		report.Unresolved = append(report.Unresolved, conflict)
		return nil
	}

	c.mu.Lock()
	resolution, err := c.resolver.Resolve(ctx, conflict)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	if resolution == ResolutionSkip {
		report.Unresolved = append(report.Unresolved, conflict)
		return nil
	}

	c.logger.Info("conflict resolved",
		"library", conflict.ConflictLibrary().String(),
		"conflict", fmt.Sprintf("%T", conflict), "resolution", resolution.String())

	e := c.engine
	lib := conflict.ConflictLibrary()
	accept := resolution == ResolutionAcceptRemote

	switch cf := conflict.(type) {
	case models.GroupRemoved:
		if !accept {
			return c.setReadOnly(lib)
		}
		return e.RemoveLibrary(lib)

	case models.GroupWriteDenied:
		if accept {
			updates, err := e.RevertLibraryUpdates(lib)
			if err != nil {
				return err
			}
			files, err := e.RevertLibraryFiles(lib)
			if err != nil {
				return err
			}
			report.Reverted += len(updates.Restored) + len(updates.Failed) + len(files.Restored) + len(files.Failed)
		}
		return c.setReadOnly(lib)

	case models.ObjectsRemovedRemotely:
		if !accept {
			return e.RestoreDeletions(lib, cf.Collections, cf.Items)
		}
		removed, conflicts, err := e.PerformDeletions(lib, remote.DeletedKeys{
			Collections: cf.Collections,
			Searches:    cf.Searches,
			Items:       cf.Items,
			Tags:        cf.Tags,
		})
		if err != nil {
			return err
		}
		report.Removed += removed.Count()
		for _, next := range conflicts {
			if err := c.resolve(ctx, next, report); err != nil {
				return err
			}
		}
		return nil

	case models.RemovedItemsHaveLocalChanges:
		keys := make([]string, len(cf.Items))
		for i, it := range cf.Items {
			keys[i] = it.Key
		}
		if !accept {
			return e.RestoreDeletions(lib, nil, keys)
		}
		removed, err := e.ForceDeleteItems(lib, keys)
		if err != nil {
			return err
		}
		report.Removed += removed.Count()
		return nil
	}
	return fmt.Errorf("unknown conflict %T", conflict)
}

func (c *Controller) setReadOnly(lib models.LibraryID) error {
	err := c.engine.store.Update(func(tx *store.Tx) error {
		info, err := tx.Library(lib)
		if err != nil || info == nil {
			return err
		}
		info.ReadOnly = true
		return tx.PutLibrary(info)
	})
	if err != nil {
		return fmt.Errorf("mark library read-only: %w", err)
	}
	return nil
}
