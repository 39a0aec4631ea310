package models

import (
	"fmt"
	"strconv"
	"strings"
)

const settingPrefix = "lastPageIndex_"

// PageIndex is the last viewed position of a document, keyed by the
// attachment item it belongs to.
type PageIndex struct {
	SyncMetadata
	Ledger[PageIndexChanges] `json:"ledger"`

	Index string `json:"index"`
}

// NewPageIndex creates a page index for the attachment with the given key.
func NewPageIndex(lib LibraryID, itemKey, index string) *PageIndex {
	return &PageIndex{
		SyncMetadata: SyncMetadata{Key: itemKey, Library: lib},
		Index:        index,
	}
}

// Kind implements Object.
func (p *PageIndex) Kind() ObjectKind { return KindPageIndex }

// Title returns the setting key.
func (p *PageIndex) Title() string { return SettingKey(p.Library, p.Key) }

// MarkAsChanged records the current index as a local edit.
func (p *PageIndex) MarkAsChanged() {
	p.AppendChange(PageIndexChangeIndex)
	p.Deleted = false
	p.Version = 0
	p.SubmitBlocked = false
}

// SettingKey returns the remote setting name of a page index,
// e.g. "lastPageIndex_u_ABCD2345" or "lastPageIndex_g5_ABCD2345".
func SettingKey(lib LibraryID, itemKey string) string {
	return settingPrefix + lib.String() + "_" + itemKey
}

// ParseSettingKey splits a setting name produced by SettingKey.
func ParseSettingKey(name string) (LibraryID, string, error) {
	rest, ok := strings.CutPrefix(name, settingPrefix)
	if !ok {
		return LibraryID{}, "", fmt.Errorf("not a page index setting: %q", name)
	}
	libPart, key, ok := strings.Cut(rest, "_")
	if !ok || !ValidKey(key) {
		return LibraryID{}, "", fmt.Errorf("malformed page index setting: %q", name)
	}
	lib, err := ParseLibraryID(libPart)
	if err != nil {
		return LibraryID{}, "", fmt.Errorf("malformed page index setting %q: %w", name, err)
	}
	return lib, key, nil
}

// indexValue returns the index as a JSON number when it is numeric.
func (p *PageIndex) indexValue() any {
	if n, err := strconv.Atoi(p.Index); err == nil {
		return n
	}
	return p.Index
}
