package models

import (
	"fmt"
	"strconv"
	"strings"
)

// LibraryType distinguishes the user's own library from shared group libraries
type LibraryType int

const (
	LibraryPersonal LibraryType = iota // The user's own library
	LibraryGroup                       // A shared group library
)

// LibraryID identifies a library. Construct it with PersonalLibrary or GroupLibrary.
type LibraryID struct {
	Type    LibraryType
	GroupID int
}

// PersonalLibrary returns the ID of the user's own library.
func PersonalLibrary() LibraryID {
	return LibraryID{Type: LibraryPersonal}
}

// GroupLibrary returns the ID of the group library with the given group ID.
func GroupLibrary(groupID int) LibraryID {
	return LibraryID{Type: LibraryGroup, GroupID: groupID}
}

// IsGroup reports whether the library is a group library
func (l LibraryID) IsGroup() bool {
	return l.Type == LibraryGroup
}

// String returns the compact form used in storage keys: "u" or "g<id>".
func (l LibraryID) String() string {
	if l.Type == LibraryGroup {
		return "g" + strconv.Itoa(l.GroupID)
	}
	return "u"
}

// APIPath returns the REST path prefix of the library, e.g. "users/12" or "groups/5".
func (l LibraryID) APIPath(userID int) string {
	if l.Type == LibraryGroup {
		return fmt.Sprintf("groups/%d", l.GroupID)
	}
	return fmt.Sprintf("users/%d", userID)
}

// ParseLibraryID parses the compact form produced by String.
func ParseLibraryID(s string) (LibraryID, error) {
	if s == "u" {
		return PersonalLibrary(), nil
	}
	if rest, ok := strings.CutPrefix(s, "g"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil || id <= 0 {
			return LibraryID{}, fmt.Errorf("invalid group library %q", s)
		}
		return GroupLibrary(id), nil
	}
	return LibraryID{}, fmt.Errorf("invalid library id %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l LibraryID) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LibraryID) UnmarshalText(text []byte) error {
	parsed, err := ParseLibraryID(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Library is a locally known library and the permissions the server granted for it.
type Library struct {
	ID       LibraryID `json:"id"`
	Name     string    `json:"name"`
	ReadOnly bool      `json:"read_only,omitempty"`
}

// Versions tracks the last library version synced for each object kind.
type Versions struct {
	Collections int `json:"collections"`
	Searches    int `json:"searches"`
	Items       int `json:"items"`
	Settings    int `json:"settings"`
	Deletions   int `json:"deletions"`
	Max         int `json:"max"`
}

// For returns the stored version of the given kind.
func (v Versions) For(kind ObjectKind) int {
	switch kind {
	case KindCollection:
		return v.Collections
	case KindSearch:
		return v.Searches
	case KindItem:
		return v.Items
	case KindPageIndex:
		return v.Settings
	}
	return 0
}

// Set records the version of the given kind and raises Max when needed.
func (v *Versions) Set(kind ObjectKind, version int) {
	switch kind {
	case KindCollection:
		v.Collections = version
	case KindSearch:
		v.Searches = version
	case KindItem:
		v.Items = version
	case KindPageIndex:
		v.Settings = version
	}
	if version > v.Max {
		v.Max = version
	}
}
