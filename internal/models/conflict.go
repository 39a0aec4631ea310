package models

// Conflict is a situation sync cannot settle on its own and hands to the user.
// The concrete type is one of GroupRemoved, GroupWriteDenied,
// ObjectsRemovedRemotely or RemovedItemsHaveLocalChanges.
type Conflict interface {
	ConflictLibrary() LibraryID
	isConflict()
}

// GroupRemoved reports that a group library no longer exists on the server
// or the user lost access to it.
type GroupRemoved struct {
	Library LibraryID
	Name    string
}

// GroupWriteDenied reports that the server rejected writes to a library
// the client believed to be writable.
type GroupWriteDenied struct {
	Library LibraryID
	Name    string
}

// ObjectsRemovedRemotely lists keys deleted on the server that are still
// present locally, awaiting confirmation before they are removed here too.
type ObjectsRemovedRemotely struct {
	Library     LibraryID
	Collections []string
	Items       []string
	Searches    []string
	Tags        []string
}

// KeyTitle pairs an object key with its display title
type KeyTitle struct {
	Key   string
	Title string
}

// RemovedItemsHaveLocalChanges lists items deleted on the server while
// the user still has unsynchronized edits to them.
type RemovedItemsHaveLocalChanges struct {
	Library LibraryID
	Items   []KeyTitle
}

func (c GroupRemoved) ConflictLibrary() LibraryID                 { return c.Library }
func (c GroupWriteDenied) ConflictLibrary() LibraryID             { return c.Library }
func (c ObjectsRemovedRemotely) ConflictLibrary() LibraryID       { return c.Library }
func (c RemovedItemsHaveLocalChanges) ConflictLibrary() LibraryID { return c.Library }

func (GroupRemoved) isConflict()                 {}
func (GroupWriteDenied) isConflict()             {}
func (ObjectsRemovedRemotely) isConflict()       {}
func (RemovedItemsHaveLocalChanges) isConflict() {}

// IsEmpty reports whether no keys are listed.
func (c ObjectsRemovedRemotely) IsEmpty() bool {
	return len(c.Collections) == 0 && len(c.Items) == 0 && len(c.Searches) == 0 && len(c.Tags) == 0
}
