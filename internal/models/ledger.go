package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ChangeType records who produced the most recent state of an object
type ChangeType int

const (
	ChangeSync         ChangeType = iota // State came from the server
	ChangeUser                           // The user edited the object locally
	ChangeSyncResponse                   // A submit response was applied but edits are still pending
)

func (c ChangeType) String() string {
	switch c {
	case ChangeUser:
		return "user"
	case ChangeSyncResponse:
		return "sync_response"
	}
	return "sync"
}

// FieldSet is a bitmask of changed fields of one entity kind.
type FieldSet interface {
	~uint16
}

// ObjectChange is one entry of a change ledger: the fields dirty at the time
// of a local edit, tagged with a unique ID so a submit response can clear
// exactly the entries it covered.
type ObjectChange[F FieldSet] struct {
	ID     uuid.UUID `json:"id"`
	Fields F         `json:"fields"`
}

// Ledger is the ordered list of unsynchronized local edits of an object.
type Ledger[F FieldSet] struct {
	Changes []ObjectChange[F] `json:"changes,omitempty"`
	Type    ChangeType        `json:"change_type"`
}

// AppendChange records a local edit covering fields and returns its ID.
func (l *Ledger[F]) AppendChange(fields F) uuid.UUID {
	id := uuid.New()
	l.Changes = append(l.Changes, ObjectChange[F]{ID: id, Fields: fields})
	l.Type = ChangeUser
	return id
}

// IsChanged reports whether there are unsynchronized local edits.
func (l *Ledger[F]) IsChanged() bool {
	return len(l.Changes) > 0
}

// ChangeKind returns the origin of the latest state.
func (l *Ledger[F]) ChangeKind() ChangeType {
	return l.Type
}

// ChangeIDs returns the IDs of all pending entries in order.
func (l *Ledger[F]) ChangeIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(l.Changes))
	for i, c := range l.Changes {
		ids[i] = c.ID
	}
	return ids
}

// PendingFields returns the union of fields over all pending entries.
func (l *Ledger[F]) PendingFields() F {
	var fields F
	for _, c := range l.Changes {
		fields |= c.Fields
	}
	return fields
}

// DeleteChanges removes the entries whose ID is in ids and returns how many
// were removed. Entries appended after ids were captured are kept.
func (l *Ledger[F]) DeleteChanges(ids []uuid.UUID) int {
	if len(ids) == 0 || len(l.Changes) == 0 {
		return 0
	}
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := l.Changes[:0]
	for _, c := range l.Changes {
		if _, ok := drop[c.ID]; !ok {
			kept = append(kept, c)
		}
	}
	removed := len(l.Changes) - len(kept)
	if removed == 0 {
		return 0
	}
	if len(kept) == 0 {
		l.Changes = nil
		l.Type = ChangeSync
	} else {
		l.Changes = kept
		l.Type = ChangeSyncResponse
	}
	return removed
}

// DeleteAllChanges empties the ledger.
func (l *Ledger[F]) DeleteAllChanges() {
	l.Changes = nil
	l.Type = ChangeSync
}

// Validate reports a ledger that claims a user change without pending entries.
func (l *Ledger[F]) Validate() error {
	if l.Type == ChangeUser && len(l.Changes) == 0 {
		return fmt.Errorf("ledger marked as user change but has no pending entries")
	}
	return nil
}
