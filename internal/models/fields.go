package models

import "strings"

// ItemChanges is the set of changed fields of an item
type ItemChanges uint16

const (
	ItemChangeType ItemChanges = 1 << iota
	ItemChangeTrash
	ItemChangeParent
	ItemChangeCollections
	ItemChangeFields
	ItemChangeTags
	ItemChangeCreators
	ItemChangeRelations
	ItemChangeRects
	ItemChangePaths
)

var itemChangeNames = []string{"type", "trash", "parent", "collections", "fields", "tags", "creators", "relations", "rects", "paths"}

// Has reports whether all bits of f are set
func (c ItemChanges) Has(f ItemChanges) bool { return c&f == f }

func (c ItemChanges) String() string { return maskString(uint16(c), itemChangeNames) }

// CollectionChanges is the set of changed fields of a collection
type CollectionChanges uint16

const (
	CollectionChangeName CollectionChanges = 1 << iota
	CollectionChangeParent
	CollectionChangeTrash
)

var collectionChangeNames = []string{"name", "parent", "trash"}

// Has reports whether all bits of f are set
func (c CollectionChanges) Has(f CollectionChanges) bool { return c&f == f }

func (c CollectionChanges) String() string { return maskString(uint16(c), collectionChangeNames) }

// SearchChanges is the set of changed fields of a saved search
type SearchChanges uint16

const (
	SearchChangeName SearchChanges = 1 << iota
	SearchChangeConditions
	SearchChangeTrash
)

var searchChangeNames = []string{"name", "conditions", "trash"}

// Has reports whether all bits of f are set
func (c SearchChanges) Has(f SearchChanges) bool { return c&f == f }

func (c SearchChanges) String() string { return maskString(uint16(c), searchChangeNames) }

// PageIndexChanges is the set of changed fields of a page index
type PageIndexChanges uint16

const (
	PageIndexChangeIndex PageIndexChanges = 1 << iota
)

// Has reports whether all bits of f are set
func (c PageIndexChanges) Has(f PageIndexChanges) bool { return c&f == f }

func (c PageIndexChanges) String() string { return maskString(uint16(c), []string{"index"}) }

func maskString(mask uint16, names []string) string {
	var parts []string
	for i, name := range names {
		if mask&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
