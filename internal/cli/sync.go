package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/kilupskalvis/libsync/internal/core"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize libraries with the server",
	Long: `Download remote changes and upload local ones.

By default every library is compared against the server. Conflicts, such as
objects deleted remotely that still exist here, are asked about on the
terminal; --yes accepts the server's state and --keep-local keeps yours.

Examples:
  libsync sync
  libsync sync --library g5 --full
  libsync sync --local-only --keep-local`,
	Run: runSync,
}

var (
	syncFull        bool
	syncNow         bool
	syncLocalOnly   bool
	syncLibraries   []string
	syncYes         bool
	syncKeepLocal   bool
	syncConfirm     bool
	syncConcurrency int
)

func init() {
	f := syncCmd.Flags()
	f.BoolVar(&syncFull, "full", false, "Re-download every object whose version differs and ignore retry delays")
	f.BoolVar(&syncNow, "ignore-delays", false, "Retry objects that failed recently without waiting")
	f.BoolVar(&syncLocalOnly, "local-only", false, "Only fetch objects marked for resync and upload local changes")
	f.StringArrayVar(&syncLibraries, "library", nil, "Library to sync, repeat for multiple (default: all)")
	f.BoolVarP(&syncYes, "yes", "y", false, "Accept the server's state for every conflict")
	f.BoolVar(&syncKeepLocal, "keep-local", false, "Keep the local state for every conflict")
	f.BoolVar(&syncConfirm, "confirm-deletions", false, "Ask before applying remote deletions")
	f.IntVar(&syncConcurrency, "concurrency", 0, "Libraries synced in parallel")
	syncCmd.MarkFlagsMutuallyExclusive("yes", "keep-local")
}

func runSync(_ *cobra.Command, _ []string) {
	c := initEngineContext(true)
	defer c.Close()

	libs, err := c.Store.ListLibraries()
	if err != nil {
		exitError("%v", err)
	}
	names := make(map[models.LibraryID]string, len(libs))
	for _, lib := range libs {
		names[lib.ID] = lib.Name
	}

	opts := core.SyncOptions{
		CheckRemote:      !syncLocalOnly,
		ConfirmDeletions: syncConfirm,
		Concurrency:      syncConcurrency,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = c.Config.Concurrency
	}
	switch {
	case syncFull:
		opts.Mode = core.SyncFull
	case syncNow:
		opts.Mode = core.SyncIgnoreDelays
	}
	for _, s := range syncLibraries {
		lib := mustLibrary(s)
		if _, ok := names[lib]; !ok {
			exitError("library %s is not tracked; run 'libsync library add %s'", lib, s)
		}
		opts.Libraries = append(opts.Libraries, lib)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := core.NewController(c.Engine, chooseResolver(names), c.Logger).Sync(ctx, opts)
	if err != nil {
		exitError("%v", err)
	}

	printSyncReport(report, names)
	if report.Err() != nil {
		os.Exit(1)
	}
}

// chooseResolver picks the conflict resolver from the flags. Without a
// terminal and without a flag, conflicts stay open.
func chooseResolver(names map[models.LibraryID]string) core.ConflictResolver {
	switch {
	case syncYes:
		return fixedResolver{resolution: core.ResolutionAcceptRemote}
	case syncKeepLocal:
		return fixedResolver{resolution: core.ResolutionKeepLocal}
	case isatty.IsTerminal(os.Stdin.Fd()):
		return &promptResolver{names: names}
	}
	return nil
}

func printSyncReport(report *core.SyncReport, names map[models.LibraryID]string) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	for _, lr := range report.Libraries {
		name := names[lr.Library]
		if name == "" {
			name = lr.Library.String()
		}

		if lr.Err != nil {
			red.Printf("✗ %s: %v\n", name, lr.Err)
		} else {
			green.Printf("✓ %s\n", name)
		}

		if lr.Fetched > 0 {
			fmt.Printf("    downloaded: %d\n", lr.Fetched)
		}
		if lr.Removed > 0 {
			fmt.Printf("    removed:    %d\n", lr.Removed)
		}
		if lr.Submitted > 0 {
			fmt.Printf("    uploaded:   %d\n", lr.Submitted)
		}
		if lr.Deleted > 0 {
			fmt.Printf("    deleted:    %d\n", lr.Deleted)
		}
		if lr.Reverted > 0 {
			fmt.Printf("    reverted:   %d\n", lr.Reverted)
		}
		if lr.Attempts > 1 {
			fmt.Printf("    attempts:   %d\n", lr.Attempts)
		}

		refs := make([]core.ObjectRef, 0, len(lr.Errors))
		for ref := range lr.Errors {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Kind != refs[j].Kind {
				return refs[i].Kind < refs[j].Kind
			}
			return refs[i].Key < refs[j].Key
		})
		for _, ref := range refs {
			red.Printf("    %s %s: %v\n", ref.Kind, ref.Key, lr.Errors[ref])
		}

		for _, cf := range lr.Unresolved {
			title, _, _, _ := describeConflict(cf, name)
			yellow.Printf("    unresolved: %s\n", title)
		}
	}
}
