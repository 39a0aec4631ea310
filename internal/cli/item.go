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

var itemLibrary string

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Inspect and edit items offline",
	Long: `Inspect and edit items in the local copy. Edits are recorded and uploaded
on the next sync.

Examples:
  libsync item create --type book --title "Dune"
  libsync item show ABCD2345
  libsync item set ABCD2345 date 1965
  libsync item tag ABCD2345 sci-fi
  libsync item trash ABCD2345`,
}

var (
	itemCreateType  string
	itemCreateTitle string
	itemCreateColl  string
	itemTrashUndo   bool
	itemTagRemove   bool
)

var itemCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new item",
	Args:  cobra.NoArgs,
	Run:   runItemCreate,
}

var itemShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show an item",
	Args:  cobra.ExactArgs(1),
	Run:   runItemShow,
}

var itemSetCmd = &cobra.Command{
	Use:   "set <key> <field> <value>",
	Short: "Set a field of an item",
	Args:  cobra.ExactArgs(3),
	Run:   runItemSet,
}

var itemTrashCmd = &cobra.Command{
	Use:   "trash <key>",
	Short: "Move an item to the trash",
	Args:  cobra.ExactArgs(1),
	Run:   runItemTrash,
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an item permanently",
	Args:  cobra.ExactArgs(1),
	Run:   runItemDelete,
}

var itemTagCmd = &cobra.Command{
	Use:   "tag <key> <tag>",
	Short: "Add or remove a tag",
	Args:  cobra.ExactArgs(2),
	Run:   runItemTag,
}

var itemPageCmd = &cobra.Command{
	Use:   "page <attachment-key> <index>",
	Short: "Record the last viewed page of a document",
	Args:  cobra.ExactArgs(2),
	Run:   runItemPage,
}

func init() {
	itemCmd.PersistentFlags().StringVarP(&itemLibrary, "library", "L", "u", "Library of the item")
	itemCmd.AddCommand(itemCreateCmd, itemShowCmd, itemSetCmd, itemTrashCmd, itemDeleteCmd, itemTagCmd, itemPageCmd)

	itemCreateCmd.Flags().StringVar(&itemCreateType, "type", "book", "Item type")
	itemCreateCmd.Flags().StringVar(&itemCreateTitle, "title", "", "Title")
	itemCreateCmd.Flags().StringVar(&itemCreateColl, "collection", "", "Collection key to add the item to")
	itemTrashCmd.Flags().BoolVar(&itemTrashUndo, "restore", false, "Restore from the trash")
	itemTagCmd.Flags().BoolVar(&itemTagRemove, "remove", false, "Remove the tag")
}

// editItem loads an item, applies fn and stores it when fn reports a change.
func editItem(c *cmdContext, lib models.LibraryID, key string, fn func(it *models.Item) bool) bool {
	changed := false
	err := c.Store.Update(func(tx *store.Tx) error {
		if err := requireWritable(tx, lib); err != nil {
			return err
		}
		it, err := tx.Item(lib, key)
		if err != nil {
			return err
		}
		if it == nil || it.Deleted {
			return fmt.Errorf("item %s not found in %s", key, lib)
		}
		if !fn(it) {
			return nil
		}
		changed = true
		return tx.PutItem(it)
	})
	if err != nil {
		exitError("%v", err)
	}
	return changed
}

// requireWritable rejects edits to read-only libraries.
func requireWritable(tx *store.Tx, lib models.LibraryID) error {
	l, err := tx.Library(lib)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("library %s is not tracked", lib)
	}
	if l.ReadOnly {
		return fmt.Errorf("library %s is read-only", lib)
	}
	return nil
}

func runItemCreate(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	it := models.NewItem(lib, models.GenerateKey(), itemCreateType)
	if itemCreateTitle != "" {
		it.SetField("title", itemCreateTitle)
	}
	err := c.Store.Update(func(tx *store.Tx) error {
		if err := requireWritable(tx, lib); err != nil {
			return err
		}
		if itemCreateColl != "" {
			coll, err := tx.Collection(lib, itemCreateColl)
			if err != nil {
				return err
			}
			if coll == nil {
				return fmt.Errorf("collection %s not found", itemCreateColl)
			}
			it.CollectionKeys = []string{itemCreateColl}
		}
		it.MarkAsChanged()
		return tx.PutItem(it)
	})
	if err != nil {
		exitError("%v", err)
	}

	color.New(color.FgGreen).Printf("Created item %s\n", it.Key)
}

func runItemShow(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	var it *models.Item
	var children []string
	err := c.Store.View(func(tx *store.Tx) error {
		var err error
		if it, err = tx.Item(lib, args[0]); err != nil {
			return err
		}
		children, err = tx.ChildItemKeys(lib, args[0])
		return err
	})
	if err != nil {
		exitError("%v", err)
	}
	if it == nil {
		exitError("item %s not found in %s", args[0], lib)
	}

	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	yellow.Printf("item %s", it.Key)
	fmt.Printf("  (%s, version %d, %s)\n", it.ItemType, it.Version, it.SyncState)
	if it.IsChanged() {
		cyan.Printf("  pending: %s\n", it.PendingFields())
	}
	if it.Trash {
		fmt.Println("  in trash")
	}
	if it.ParentKey != "" {
		fmt.Printf("  parent:      %s\n", it.ParentKey)
	}
	if len(children) > 0 {
		fmt.Printf("  children:    %s\n", strings.Join(children, ", "))
	}
	if len(it.CollectionKeys) > 0 {
		fmt.Printf("  collections: %s\n", strings.Join(it.CollectionKeys, ", "))
	}
	for _, cr := range it.Creators {
		name := cr.Name
		if name == "" {
			name = strings.TrimSpace(cr.FirstName + " " + cr.LastName)
		}
		fmt.Printf("  %-12s %s\n", cr.CreatorType+":", name)
	}

	fields := append([]models.ItemField(nil), it.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	fmt.Println()
	for _, f := range fields {
		marker := " "
		if f.Changed {
			marker = "*"
		}
		fmt.Printf("  %s %-20s %s\n", marker, f.Key, f.Value)
	}

	if len(it.Tags) > 0 {
		names := make([]string, len(it.Tags))
		for i, t := range it.Tags {
			names[i] = t.Name
		}
		fmt.Printf("\n  tags: %s\n", strings.Join(names, ", "))
	}
}

func runItemSet(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	key, field, value := args[0], args[1], args[2]
	changed := editItem(c, lib, key, func(it *models.Item) bool {
		if !it.SetField(field, value) {
			return false
		}
		it.RecordChange(models.ItemChangeFields)
		return true
	})
	if !changed {
		fmt.Println("No change")
		return
	}
	fmt.Printf("Set %s of %s\n", field, key)
}

func runItemTrash(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	trash := !itemTrashUndo
	changed := editItem(c, lib, args[0], func(it *models.Item) bool {
		if it.Trash == trash {
			return false
		}
		it.Trash = trash
		it.RecordChange(models.ItemChangeTrash)
		return true
	})
	switch {
	case !changed:
		fmt.Println("No change")
	case trash:
		fmt.Printf("Moved %s to the trash\n", args[0])
	default:
		fmt.Printf("Restored %s from the trash\n", args[0])
	}
}

func runItemDelete(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	editItem(c, lib, args[0], func(it *models.Item) bool {
		it.Deleted = true
		return true
	})
	color.New(color.FgRed).Printf("Deleted %s\n", args[0])
}

func runItemTag(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	key, tag := args[0], args[1]
	changed := editItem(c, lib, key, func(it *models.Item) bool {
		if itemTagRemove {
			if !it.RemoveTag(tag) {
				return false
			}
		} else {
			if it.HasTag(tag) {
				return false
			}
			it.Tags = append(it.Tags, models.Tag{Name: tag})
		}
		it.RecordChange(models.ItemChangeTags)
		return true
	})
	if !changed {
		fmt.Println("No change")
		return
	}
	fmt.Printf("Updated tags of %s\n", key)
}

func runItemPage(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	lib := mustLibrary(itemLibrary)

	key, index := args[0], args[1]
	err := c.Store.Update(func(tx *store.Tx) error {
		if err := requireWritable(tx, lib); err != nil {
			return err
		}
		it, err := tx.Item(lib, key)
		if err != nil {
			return err
		}
		if it == nil || it.ItemType != models.ItemTypeAttachment {
			return fmt.Errorf("attachment %s not found in %s", key, lib)
		}

		p, err := tx.PageIndex(lib, key)
		if err != nil {
			return err
		}
		if p == nil {
			p = models.NewPageIndex(lib, key, index)
			p.MarkAsChanged()
		} else {
			if p.Index == index {
				return nil
			}
			p.Index = index
			p.AppendChange(models.PageIndexChangeIndex)
		}
		return tx.PutPageIndex(p)
	})
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Page of %s set to %s\n", key, index)
}
