package models

import (
	"strings"
	"time"
)

// Item types with special handling
const (
	ItemTypeNote       = "note"
	ItemTypeAttachment = "attachment"
	ItemTypeAnnotation = "annotation"
)

// Annotation types
const (
	AnnotationHighlight = "highlight"
	AnnotationNote      = "note"
	AnnotationImage     = "image"
	AnnotationInk       = "ink"
)

// Field keys that are folded into annotationPosition instead of being sent as-is.
const (
	FieldPageIndex = "pageIndex"
	FieldLineWidth = "lineWidth"
)

// ItemField is a single metadata field of an item
type ItemField struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Changed bool   `json:"changed,omitempty"`
}

// IsPositionField reports whether the field belongs to an annotation position
func (f ItemField) IsPositionField() bool {
	return f.Key == FieldPageIndex || f.Key == FieldLineWidth
}

// Tag is a label attached to an item. Type 1 marks automatic tags.
type Tag struct {
	Name string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

// Creator is an author, editor or other contributor of an item.
// Either Name or FirstName/LastName is set.
type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Rect is an axis-aligned rectangle in page coordinates
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Point is a single coordinate of an ink path
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Path is an ink stroke
type Path []Point

// Item is a bibliographic item, note, attachment or annotation.
type Item struct {
	SyncMetadata
	Ledger[ItemChanges] `json:"ledger"`

	ItemType       string              `json:"item_type"`
	Fields         []ItemField         `json:"fields,omitempty"`
	ParentKey      string              `json:"parent_key,omitempty"`
	CollectionKeys []string            `json:"collection_keys,omitempty"`
	Tags           []Tag               `json:"tags,omitempty"`
	Creators       []Creator           `json:"creators,omitempty"`
	Relations      map[string][]string `json:"relations,omitempty"`
	Trash          bool                `json:"trash,omitempty"`
	Rects          []Rect              `json:"rects,omitempty"`
	Paths          []Path              `json:"paths,omitempty"`
	CreatedBy      int                 `json:"created_by,omitempty"`
	LastModifiedBy int                 `json:"last_modified_by,omitempty"`
	DateAdded      time.Time           `json:"date_added"`
	DateModified   time.Time           `json:"date_modified"`
}

// NewItem creates an empty item of the given type.
func NewItem(lib LibraryID, key, itemType string) *Item {
	return &Item{
		SyncMetadata: SyncMetadata{Key: key, Library: lib},
		ItemType:     itemType,
	}
}

// Kind implements Object.
func (it *Item) Kind() ObjectKind { return KindItem }

// Field returns the value of the field with the given key, or "".
func (it *Item) Field(key string) string {
	for _, f := range it.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// SetField sets a field value and flags it as changed. It reports whether the
// stored value differs from the previous one.
func (it *Item) SetField(key, value string) bool {
	for i := range it.Fields {
		if it.Fields[i].Key == key {
			if it.Fields[i].Value == value {
				return false
			}
			it.Fields[i].Value = value
			it.Fields[i].Changed = true
			return true
		}
	}
	it.Fields = append(it.Fields, ItemField{Key: key, Value: value, Changed: true})
	return true
}

// Title returns a human readable label.
func (it *Item) Title() string {
	for _, key := range []string{"title", "annotationText", "annotationComment"} {
		if v := it.Field(key); v != "" {
			return v
		}
	}
	if note := it.Field("note"); note != "" {
		return noteTitle(note)
	}
	if name := it.Field("filename"); name != "" {
		return name
	}
	return it.Key
}

func noteTitle(html string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			if sb.Len() > 0 {
				return strings.TrimSpace(sb.String())
			}
		case !inTag:
			if r == '\n' && sb.Len() > 0 {
				return strings.TrimSpace(sb.String())
			}
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// AnnotationType returns the annotation subtype, or "" for other items.
func (it *Item) AnnotationType() string {
	if it.ItemType != ItemTypeAnnotation {
		return ""
	}
	return it.Field("annotationType")
}

// HasTag reports whether the item carries a tag with the given name.
func (it *Item) HasTag(name string) bool {
	for _, t := range it.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// RemoveTag drops every tag with the given name and reports whether any was removed.
func (it *Item) RemoveTag(name string) bool {
	kept := it.Tags[:0]
	for _, t := range it.Tags {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	removed := len(kept) != len(it.Tags)
	it.Tags = kept
	return removed
}

// RemoveCollection drops a collection membership and reports whether it was present.
func (it *Item) RemoveCollection(key string) bool {
	for i, k := range it.CollectionKeys {
		if k == key {
			it.CollectionKeys = append(it.CollectionKeys[:i], it.CollectionKeys[i+1:]...)
			return true
		}
	}
	return false
}

// CurrentChanges returns the fields that describe the item's whole state.
func (it *Item) CurrentChanges() ItemChanges {
	changes := ItemChangeType | ItemChangeFields | ItemChangeTags
	if len(it.Creators) > 0 {
		changes |= ItemChangeCreators
	}
	if len(it.CollectionKeys) > 0 {
		changes |= ItemChangeCollections
	}
	if it.ParentKey != "" {
		changes |= ItemChangeParent
	}
	if it.Trash {
		changes |= ItemChangeTrash
	}
	if len(it.Relations) > 0 {
		changes |= ItemChangeRelations
	}
	if len(it.Rects) > 0 {
		changes |= ItemChangeRects
	}
	if len(it.Paths) > 0 {
		changes |= ItemChangePaths
	}
	return changes
}

// MarkAsChanged records the whole current state as a local edit, so the next
// submit uploads the item in full. Children are marked by the caller.
func (it *Item) MarkAsChanged() {
	it.AppendChange(it.CurrentChanges())
	for i := range it.Fields {
		if it.Fields[i].Value != "" {
			it.Fields[i].Changed = true
		}
	}
	it.Deleted = false
	it.Version = 0
	it.SubmitBlocked = false
}

// RecordChange records a local edit of the given fields.
func (it *Item) RecordChange(changes ItemChanges) {
	it.AppendChange(changes)
	it.SubmitBlocked = false
}

// ClearChangedFields resets the per-field change flags once no field edit is pending.
func (it *Item) ClearChangedFields() {
	if it.PendingFields().Has(ItemChangeFields) {
		return
	}
	for i := range it.Fields {
		it.Fields[i].Changed = false
	}
}

// UserIDs returns the distinct users the item refers to.
func (it *Item) UserIDs() []int {
	var ids []int
	if it.CreatedBy != 0 {
		ids = append(ids, it.CreatedBy)
	}
	if it.LastModifiedBy != 0 && it.LastModifiedBy != it.CreatedBy {
		ids = append(ids, it.LastModifiedBy)
	}
	return ids
}
