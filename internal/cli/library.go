package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/spf13/cobra"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage synchronized libraries",
	Long: `Manage the libraries kept in this workspace.

Without a subcommand, lists all libraries.

Examples:
  libsync library                     List libraries
  libsync library add g5 --name Lab   Track group library 5
  libsync library remove g5           Drop group library 5 and its local data`,
	Run: runLibraryList,
}

var (
	libraryName     string
	libraryReadOnly bool
)

var libraryAddCmd = &cobra.Command{
	Use:   "add <library>",
	Short: "Track a library",
	Long:  `Track a library, given as "u", "g<id>" or "groups/<id>". It is fetched on the next sync.`,
	Args:  cobra.ExactArgs(1),
	Run:   runLibraryAdd,
}

var libraryListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List libraries",
	Run:     runLibraryList,
}

var libraryRemoveCmd = &cobra.Command{
	Use:     "remove <library>",
	Aliases: []string{"rm"},
	Short:   "Remove a library and all its local data",
	Args:    cobra.ExactArgs(1),
	Run:     runLibraryRemove,
}

func init() {
	libraryCmd.AddCommand(libraryAddCmd, libraryListCmd, libraryRemoveCmd)

	libraryAddCmd.Flags().StringVar(&libraryName, "name", "", "Display name")
	libraryAddCmd.Flags().BoolVar(&libraryReadOnly, "read-only", false, "Never upload local changes")
}

func runLibraryAdd(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	lib := mustLibrary(args[0])
	name := libraryName
	if name == "" {
		name = lib.String()
	}
	if err := c.Store.AddLibrary(&models.Library{ID: lib, Name: name, ReadOnly: libraryReadOnly}); err != nil {
		exitError("%v", err)
	}

	color.New(color.FgGreen).Printf("Added library %s\n", lib)
}

func runLibraryList(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	libs, err := c.Store.ListLibraries()
	if err != nil {
		exitError("%v", err)
	}

	yellow := color.New(color.FgYellow)
	for _, lib := range libs {
		versions, err := c.Store.GetVersions(lib.ID)
		if err != nil {
			exitError("%v", err)
		}
		fmt.Printf("  %-6s %-24s version %d", lib.ID, lib.Name, versions.Max)
		if lib.ReadOnly {
			yellow.Print("  (read-only)")
		}
		fmt.Println()
	}
}

func runLibraryRemove(_ *cobra.Command, args []string) {
	c := initEngineContext(false)
	defer c.Close()

	lib := mustLibrary(args[0])
	if err := c.Engine.RemoveLibrary(lib); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Removed library %s\n", lib)
}
