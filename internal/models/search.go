package models

// SearchCondition is one rule of a saved search
type SearchCondition struct {
	Condition string `json:"condition"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

// Search is a saved search.
type Search struct {
	SyncMetadata
	Ledger[SearchChanges] `json:"ledger"`

	Name       string            `json:"name"`
	Conditions []SearchCondition `json:"conditions,omitempty"`
	Trash      bool              `json:"trash,omitempty"`
}

// NewSearch creates a saved search with the given name.
func NewSearch(lib LibraryID, key, name string) *Search {
	return &Search{
		SyncMetadata: SyncMetadata{Key: key, Library: lib},
		Name:         name,
	}
}

// Kind implements Object.
func (s *Search) Kind() ObjectKind { return KindSearch }

// Title returns the search name.
func (s *Search) Title() string { return s.Name }

// CurrentChanges returns the fields that describe the search's whole state.
func (s *Search) CurrentChanges() SearchChanges {
	changes := SearchChangeName | SearchChangeConditions
	if s.Trash {
		changes |= SearchChangeTrash
	}
	return changes
}

// MarkAsChanged records the whole current state as a local edit.
func (s *Search) MarkAsChanged() {
	s.AppendChange(s.CurrentChanges())
	s.Deleted = false
	s.Version = 0
	s.SubmitBlocked = false
}

// RecordChange records a local edit of the given fields.
func (s *Search) RecordChange(changes SearchChanges) {
	s.AppendChange(changes)
	s.SubmitBlocked = false
}
