package models

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectKind identifies one of the synchronized object types
type ObjectKind string

const (
	KindCollection ObjectKind = "collection"
	KindSearch     ObjectKind = "search"
	KindItem       ObjectKind = "item"
	KindPageIndex  ObjectKind = "setting" // Per-document last page index, synced as a setting
)

// SyncKinds lists the kinds in the order a library is synchronized.
// Collections come first so items can reference them.
var SyncKinds = []ObjectKind{KindCollection, KindSearch, KindItem, KindPageIndex}

// Plural returns the REST collection name of the kind.
func (k ObjectKind) Plural() string {
	switch k {
	case KindSearch:
		return "searches"
	case KindPageIndex:
		return "settings"
	}
	return string(k) + "s"
}

// KeyParam returns the query parameter that selects objects of this kind by key.
func (k ObjectKind) KeyParam() string {
	return string(k) + "Key"
}

// ParseObjectKind accepts either the singular or the plural name.
func ParseObjectKind(s string) (ObjectKind, error) {
	for _, k := range SyncKinds {
		if s == string(k) || s == k.Plural() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown object kind %q", s)
}

// SyncState describes whether the local copy is known to match the server
type SyncState int

const (
	StateSynced   SyncState = iota // Matches the server at Version
	StateDirty                     // Needs to be fetched again
	StateOutdated                  // Known to be behind the server
)

func (s SyncState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateOutdated:
		return "outdated"
	}
	return "synced"
}

// SyncMetadata is the synchronization bookkeeping shared by every entity.
type SyncMetadata struct {
	Key           string    `json:"key"`
	Library       LibraryID `json:"library"`
	Version       int       `json:"version"`
	SyncState     SyncState `json:"sync_state"`
	LastSyncDate  time.Time `json:"last_sync_date"`
	SyncRetries   int       `json:"sync_retries"`
	Deleted       bool      `json:"deleted,omitempty"`
	SubmitBlocked bool      `json:"submit_blocked,omitempty"`
}

// Meta returns the metadata itself, so entities embedding it satisfy Object.
func (m *SyncMetadata) Meta() *SyncMetadata {
	return m
}

// MarkSynced records a successful sync at the given version.
// The version never moves backwards.
func (m *SyncMetadata) MarkSynced(version int, now time.Time) {
	if version > m.Version {
		m.Version = version
	}
	m.SyncState = StateSynced
	m.SyncRetries = 0
	m.LastSyncDate = now
}

// Object is implemented by every synchronized entity.
type Object interface {
	Kind() ObjectKind
	Meta() *SyncMetadata
	IsChanged() bool
	ChangeIDs() []uuid.UUID
	ChangeKind() ChangeType
	DeleteChanges(ids []uuid.UUID) int
	DeleteAllChanges()
	MarkAsChanged()
	Title() string
	UpdateParameters() (map[string]any, error)
}

const keyAlphabet = "23456789ABCDEFGHIJKLMNPQRSTUVWXYZ"

// KeyLength is the length of object keys.
const KeyLength = 8

// GenerateKey returns a random object key.
func GenerateKey() string {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(buf)
}

// ValidKey reports whether s is a well-formed object key.
func ValidKey(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(keyAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

var (
	_ Object = (*Item)(nil)
	_ Object = (*Collection)(nil)
	_ Object = (*Search)(nil)
	_ Object = (*PageIndex)(nil)
)
