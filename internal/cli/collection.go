package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/spf13/cobra"
)

var (
	collectionLibrary string
	collectionParent  string
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"coll"},
	Short:   "Manage collections offline",
	Long: `Create, rename and delete collections in the local copy.

Without a subcommand, lists the collection tree.`,
	Run: runCollectionList,
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	Run:   runCollectionCreate,
}

var collectionRenameCmd = &cobra.Command{
	Use:   "rename <key> <name>",
	Short: "Rename a collection",
	Args:  cobra.ExactArgs(2),
	Run:   runCollectionRename,
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a collection and its subcollections",
	Args:  cobra.ExactArgs(1),
	Run:   runCollectionDelete,
}

func init() {
	collectionCmd.PersistentFlags().StringVarP(&collectionLibrary, "library", "L", "u", "Library of the collection")
	collectionCmd.AddCommand(collectionCreateCmd, collectionRenameCmd, collectionDeleteCmd)
	collectionCreateCmd.Flags().StringVar(&collectionParent, "parent", "", "Parent collection key")
}

func runCollectionList(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(collectionLibrary)

	children := make(map[string][]*models.Collection)
	err := c.Store.View(func(tx *store.Tx) error {
		return tx.ForEachCollection(lib, func(coll *models.Collection) error {
			if !coll.Deleted {
				children[coll.ParentKey] = append(children[coll.ParentKey], coll)
			}
			return nil
		})
	})
	if err != nil {
		exitError("%v", err)
	}

	cyan := color.New(color.FgCyan)
	var walk func(parent string, depth int)
	walk = func(parent string, depth int) {
		list := children[parent]
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		for _, coll := range list {
			fmt.Printf("%s", strings.Repeat("  ", depth+1))
			cyan.Printf("%s", coll.Key)
			fmt.Printf("  %s", coll.Name)
			if coll.IsChanged() {
				fmt.Print(" *")
			}
			fmt.Println()
			walk(coll.Key, depth+1)
		}
	}
	walk("", 0)
}

func runCollectionCreate(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(collectionLibrary)

	coll := models.NewCollection(lib, models.GenerateKey(), args[0])
	err := c.Store.Update(func(tx *store.Tx) error {
		if err := requireWritable(tx, lib); err != nil {
			return err
		}
		if collectionParent != "" {
			parent, err := tx.Collection(lib, collectionParent)
			if err != nil {
				return err
			}
			if parent == nil || parent.Deleted {
				return fmt.Errorf("collection %s not found", collectionParent)
			}
			coll.ParentKey = collectionParent
		}
		coll.MarkAsChanged()
		return tx.PutCollection(coll)
	})
	if err != nil {
		exitError("%v", err)
	}

	color.New(color.FgGreen).Printf("Created collection %s\n", coll.Key)
}

// editCollection loads a collection, applies fn and stores it.
func editCollection(c *cmdContext, lib models.LibraryID, key string, fn func(coll *models.Collection)) {
	err := c.Store.Update(func(tx *store.Tx) error {
		if err := requireWritable(tx, lib); err != nil {
			return err
		}
		coll, err := tx.Collection(lib, key)
		if err != nil {
			return err
		}
		if coll == nil || coll.Deleted {
			return fmt.Errorf("collection %s not found in %s", key, lib)
		}
		fn(coll)
		return tx.PutCollection(coll)
	})
	if err != nil {
		exitError("%v", err)
	}
}

func runCollectionRename(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(collectionLibrary)

	editCollection(c, lib, args[0], func(coll *models.Collection) {
		coll.Name = args[1]
		coll.RecordChange(models.CollectionChangeName)
	})
	fmt.Printf("Renamed %s to %q\n", args[0], args[1])
}

func runCollectionDelete(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(collectionLibrary)

	editCollection(c, lib, args[0], func(coll *models.Collection) {
		coll.Deleted = true
	})
	color.New(color.FgRed).Printf("Deleted collection %s\n", args[0])
}
