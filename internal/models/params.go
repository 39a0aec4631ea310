package models

import "fmt"

// UpdateParameters returns the write payload of the item: its key and
// version plus every field covered by a pending ledger entry.
func (it *Item) UpdateParameters() (map[string]any, error) {
	params := map[string]any{
		"key":     it.Key,
		"version": it.Version,
	}
	changes := it.PendingFields()

	if changes.Has(ItemChangeType) {
		params["itemType"] = it.ItemType
	}
	if changes.Has(ItemChangeTrash) {
		params["deleted"] = it.Trash
	}
	if changes.Has(ItemChangeTags) {
		tags := make([]map[string]any, 0, len(it.Tags))
		for _, t := range it.Tags {
			tag := map[string]any{"tag": t.Name}
			if t.Type != 0 {
				tag["type"] = t.Type
			}
			tags = append(tags, tag)
		}
		params["tags"] = tags
	}
	if changes.Has(ItemChangeCollections) {
		keys := make([]string, len(it.CollectionKeys))
		copy(keys, it.CollectionKeys)
		params["collections"] = keys
	}
	if changes.Has(ItemChangeRelations) {
		relations := make(map[string]any, len(it.Relations))
		for predicate, objects := range it.Relations {
			if len(objects) == 1 {
				relations[predicate] = objects[0]
			} else {
				relations[predicate] = objects
			}
		}
		params["relations"] = relations
	}
	if changes.Has(ItemChangeParent) {
		if it.ParentKey != "" {
			params["parentItem"] = it.ParentKey
		} else {
			params["parentItem"] = false
		}
	}
	if changes.Has(ItemChangeCreators) {
		creators := make([]map[string]any, 0, len(it.Creators))
		for _, c := range it.Creators {
			creator := map[string]any{"creatorType": c.CreatorType}
			if c.Name != "" {
				creator["name"] = c.Name
			} else {
				creator["firstName"] = c.FirstName
				creator["lastName"] = c.LastName
			}
			creators = append(creators, creator)
		}
		params["creators"] = creators
	}

	positionChanged := changes.Has(ItemChangeRects) || changes.Has(ItemChangePaths)
	if changes.Has(ItemChangeFields) {
		for _, f := range it.Fields {
			if !f.Changed {
				continue
			}
			if f.IsPositionField() {
				positionChanged = true
				continue
			}
			params[f.Key] = f.Value
		}
	}

	if it.ItemType == ItemTypeAnnotation && positionChanged {
		pos, err := EncodePosition(it.Position(), it.AnnotationType() == AnnotationInk)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.Key, err)
		}
		params["annotationPosition"] = pos
	}

	return params, nil
}

// UpdateParameters returns the write payload of the collection.
func (c *Collection) UpdateParameters() (map[string]any, error) {
	params := map[string]any{
		"key":     c.Key,
		"version": c.Version,
	}
	changes := c.PendingFields()

	if changes.Has(CollectionChangeName) {
		params["name"] = c.Name
	}
	if changes.Has(CollectionChangeParent) {
		if c.ParentKey != "" {
			params["parentCollection"] = c.ParentKey
		} else {
			params["parentCollection"] = false
		}
	}
	if changes.Has(CollectionChangeTrash) {
		params["deleted"] = c.Trash
	}
	return params, nil
}

// UpdateParameters returns the write payload of the search.
func (s *Search) UpdateParameters() (map[string]any, error) {
	params := map[string]any{
		"key":     s.Key,
		"version": s.Version,
	}
	changes := s.PendingFields()

	if changes.Has(SearchChangeName) {
		params["name"] = s.Name
	}
	if changes.Has(SearchChangeConditions) {
		conditions := make([]map[string]any, 0, len(s.Conditions))
		for _, c := range s.Conditions {
			conditions = append(conditions, map[string]any{
				"condition": c.Condition,
				"operator":  c.Operator,
				"value":     c.Value,
			})
		}
		params["conditions"] = conditions
	}
	if changes.Has(SearchChangeTrash) {
		params["deleted"] = s.Trash
	}
	return params, nil
}

// UpdateParameters returns the settings payload of the page index, keyed by
// its setting name.
func (p *PageIndex) UpdateParameters() (map[string]any, error) {
	if !p.PendingFields().Has(PageIndexChangeIndex) {
		return map[string]any{}, nil
	}
	return map[string]any{
		SettingKey(p.Library, p.Key): map[string]any{"value": p.indexValue()},
	}, nil
}
