package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/libsync/internal/core"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Discard local changes",
	Long: `Discard every unsynchronized local change of a library and restore the
state last confirmed by the server. Objects the server has never seen are
deleted. Attachment items are reverted with --files, renaming files on disk
back where needed.

Examples:
  libsync revert --library g5
  libsync revert --library g5 --files`,
	Args: cobra.NoArgs,
	Run:  runRevert,
}

var (
	revertLibrary string
	revertFiles   bool
)

func init() {
	revertCmd.Flags().StringVarP(&revertLibrary, "library", "L", "u", "Library to revert")
	revertCmd.Flags().BoolVar(&revertFiles, "files", false, "Also revert attachment items")
}

func runRevert(_ *cobra.Command, _ []string) {
	c := initEngineContext(false)
	defer c.Close()

	lib := mustLibrary(revertLibrary)
	if l, err := c.Store.GetLibrary(lib); err != nil {
		exitError("%v", err)
	} else if l == nil {
		exitError("library %s is not tracked", lib)
	}

	result, err := c.Engine.RevertLibraryUpdates(lib)
	if err != nil {
		exitError("failed to revert: %v", err)
	}
	printRevert(result)

	if revertFiles {
		files, err := c.Engine.RevertLibraryFiles(lib)
		if err != nil {
			exitError("failed to revert attachments: %v", err)
		}
		printRevert(files)
	}
}

func printRevert(result *core.RevertResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	for _, ref := range result.Restored {
		green.Printf("  restored: %s %s\n", ref.Kind, ref.Key)
	}
	for _, ref := range result.Failed {
		red.Printf("  deleted:  %s %s\n", ref.Kind, ref.Key)
	}
	fmt.Printf("%d restored, %d deleted\n", len(result.Restored), len(result.Failed))
}

var resyncCmd = &cobra.Command{
	Use:   "resync <kind> <key>...",
	Short: "Mark objects to be downloaded again",
	Long: `Mark objects to be downloaded again on the next sync, even a local-only one.
Kind is one of collection, search, item or setting (plural forms work too).

Examples:
  libsync resync item ABCD2345 EFGH6789`,
	Args: cobra.MinimumNArgs(2),
	Run:  runResync,
}

var resyncLibrary string

func init() {
	resyncCmd.Flags().StringVarP(&resyncLibrary, "library", "L", "u", "Library of the objects")
}

func runResync(_ *cobra.Command, args []string) {
	kind, err := models.ParseObjectKind(args[0])
	if err != nil {
		exitError("%v", err)
	}
	keys := args[1:]
	for _, key := range keys {
		if !models.ValidKey(key) {
			exitError("invalid key %q", key)
		}
	}

	c := initEngineContext(false)
	defer c.Close()

	if err := c.Engine.MarkForResync(kind, mustLibrary(resyncLibrary), keys); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Marked %d %s for resync\n", len(keys), kind.Plural())
}
