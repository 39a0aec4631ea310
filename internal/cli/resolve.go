package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/kilupskalvis/libsync/internal/core"
	"github.com/kilupskalvis/libsync/internal/models"
)

// fixedResolver answers every conflict the same way (--yes / --keep-local).
type fixedResolver struct {
	resolution core.Resolution
}

func (r fixedResolver) Resolve(_ context.Context, _ models.Conflict) (core.Resolution, error) {
	return r.resolution, nil
}

// promptResolver asks on the terminal.
type promptResolver struct {
	names map[models.LibraryID]string
}

func (r *promptResolver) Resolve(ctx context.Context, conflict models.Conflict) (core.Resolution, error) {
	title, description, accept, keep := describeConflict(conflict, r.names[conflict.ConflictLibrary()])

	choice := core.ResolutionSkip
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[core.Resolution]().
			Title(title).
			Description(description).
			Options(
				huh.NewOption(accept, core.ResolutionAcceptRemote),
				huh.NewOption(keep, core.ResolutionKeepLocal),
				huh.NewOption("Decide later", core.ResolutionSkip),
			).
			Value(&choice),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return core.ResolutionSkip, err
	}
	return choice, nil
}

// describeConflict returns the prompt title, details and the labels of the
// accept-remote and keep-local answers.
func describeConflict(conflict models.Conflict, name string) (title, description, accept, keep string) {
	if name == "" {
		name = conflict.ConflictLibrary().String()
	}
	switch cf := conflict.(type) {
	case models.GroupRemoved:
		return fmt.Sprintf("Library %q is no longer available on the server", name),
			"Removing it deletes the local copy, including unsynced changes.",
			"Remove local copy", "Keep as read-only"
	case models.GroupWriteDenied:
		return fmt.Sprintf("You can no longer write to %q", name),
			"Reverting discards local changes; keeping them leaves the library read-only.",
			"Revert local changes", "Keep local changes"
	case models.ObjectsRemovedRemotely:
		var parts []string
		for _, p := range []struct {
			n    int
			noun string
		}{
			{len(cf.Collections), "collection"},
			{len(cf.Searches), "search"},
			{len(cf.Items), "item"},
			{len(cf.Tags), "tag"},
		} {
			if p.n > 0 {
				parts = append(parts, plural(p.n, p.noun))
			}
		}
		return fmt.Sprintf("Objects were deleted on the server in %q", name),
			strings.Join(parts, ", ") + " will be removed locally.",
			"Delete locally", "Restore on the server"
	case models.RemovedItemsHaveLocalChanges:
		titles := make([]string, 0, len(cf.Items))
		for _, it := range cf.Items {
			titles = append(titles, "• "+it.Title)
		}
		return fmt.Sprintf("Items you edited were deleted on the server in %q", name),
			strings.Join(titles, "\n"),
			"Delete my edits", "Restore with my edits"
	}
	return fmt.Sprintf("Conflict in %q", name), "", "Accept remote", "Keep local"
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "h") {
		return fmt.Sprintf("%d %ses", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
