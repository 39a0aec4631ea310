package models

// Collection is a named folder of items. Collections nest through ParentKey.
type Collection struct {
	SyncMetadata
	Ledger[CollectionChanges] `json:"ledger"`

	Name      string `json:"name"`
	ParentKey string `json:"parent_key,omitempty"`
	Trash     bool   `json:"trash,omitempty"`
}

// NewCollection creates a collection with the given name.
func NewCollection(lib LibraryID, key, name string) *Collection {
	return &Collection{
		SyncMetadata: SyncMetadata{Key: key, Library: lib},
		Name:         name,
	}
}

// Kind implements Object.
func (c *Collection) Kind() ObjectKind { return KindCollection }

// Title returns the collection name.
func (c *Collection) Title() string { return c.Name }

// CurrentChanges returns the fields that describe the collection's whole state.
func (c *Collection) CurrentChanges() CollectionChanges {
	changes := CollectionChangeName
	if c.ParentKey != "" {
		changes |= CollectionChangeParent
	}
	if c.Trash {
		changes |= CollectionChangeTrash
	}
	return changes
}

// MarkAsChanged records the whole current state as a local edit.
// Contained items are marked by the caller.
func (c *Collection) MarkAsChanged() {
	c.AppendChange(c.CurrentChanges())
	c.Deleted = false
	c.Version = 0
	c.SubmitBlocked = false
}

// RecordChange records a local edit of the given fields.
func (c *Collection) RecordChange(changes CollectionChanges) {
	c.AppendChange(changes)
	c.SubmitBlocked = false
}
