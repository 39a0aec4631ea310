package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show unsynchronized local state",
	Long: `Show, per library, the objects with local changes waiting for upload,
objects deleted locally, objects marked for resync and objects the server
refused because they are too large.`,
	Run: runStatus,
}

var statusLong bool

func init() {
	statusCmd.Flags().BoolVarP(&statusLong, "long", "l", false, "List every pending object")
}

// kindStatus counts the pending state of one object kind.
type kindStatus struct {
	changed []models.Object
	deleted []models.Object
	dirty   []models.Object
	blocked []models.Object
}

func (s *kindStatus) add(obj models.Object) {
	meta := obj.Meta()
	switch {
	case meta.Deleted:
		s.deleted = append(s.deleted, obj)
	case meta.SubmitBlocked:
		s.blocked = append(s.blocked, obj)
	case obj.IsChanged():
		s.changed = append(s.changed, obj)
	}
	if meta.SyncState != models.StateSynced {
		s.dirty = append(s.dirty, obj)
	}
}

func (s *kindStatus) empty() bool {
	return len(s.changed)+len(s.deleted)+len(s.dirty)+len(s.blocked) == 0
}

func runStatus(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	libs, err := c.Store.ListLibraries()
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	clean := true
	for _, lib := range libs {
		statuses := make(map[models.ObjectKind]*kindStatus, len(models.SyncKinds))
		err := c.Store.View(func(tx *store.Tx) error {
			for _, kind := range models.SyncKinds {
				s := &kindStatus{}
				statuses[kind] = s
				if err := tx.ForEachObject(kind, lib.ID, func(obj models.Object) error {
					s.add(obj)
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			exitError("read %s: %v", lib.ID, err)
		}

		header := false
		for _, kind := range models.SyncKinds {
			s := statuses[kind]
			if s.empty() {
				continue
			}
			if !header {
				cyan.Printf("%s\n", libraryLabel(lib))
				header = true
				clean = false
			}
			printKindStatus(kind, s, green, yellow, red)
		}
	}

	if clean {
		fmt.Println("Everything is synchronized")
	}
}

func printKindStatus(kind models.ObjectKind, s *kindStatus, green, yellow, red *color.Color) {
	line := func(c *color.Color, label string, objs []models.Object) {
		if len(objs) == 0 {
			return
		}
		c.Printf("    %-9s %d %s\n", label+":", len(objs), kind.Plural())
		if statusLong {
			for _, obj := range objs {
				fmt.Printf("        %s  %s\n", obj.Meta().Key, obj.Title())
			}
		}
	}
	line(green, "changed", s.changed)
	line(red, "deleted", s.deleted)
	line(yellow, "resync", s.dirty)
	line(red, "blocked", s.blocked)
}
