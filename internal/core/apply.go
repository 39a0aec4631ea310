package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/store"
)

// Item data keys that map onto structured item state instead of fields.
var structuralItemKeys = map[string]bool{
	"key":                true,
	"version":            true,
	"itemType":           true,
	"deleted":            true,
	"parentItem":         true,
	"collections":        true,
	"tags":               true,
	"creators":           true,
	"relations":          true,
	"dateAdded":          true,
	"dateModified":       true,
	"annotationPosition": true,
}

// applyMode selects how server state is merged into a local object.
type applyMode int

const (
	// applyMerge keeps local values of fields covered by pending ledger entries.
	applyMerge applyMode = iota
	// applyRestore replaces local state and clears the ledger.
	applyRestore
)

// objectMeta is the subset of envelope metadata the engine reads.
type objectMeta struct {
	CreatedByUser      *models.User `json:"createdByUser,omitempty"`
	LastModifiedByUser *models.User `json:"lastModifiedByUser,omitempty"`
}

// decodeEnvelope parses the envelope of one served object.
func decodeEnvelope(raw []byte) (*remote.ObjectJSON, error) {
	var env remote.ObjectJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.Key == "" {
		return nil, fmt.Errorf("%w: object without key", ErrParse)
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil, fmt.Errorf("%w: object %s without data", ErrParse, env.Key)
	}
	return &env, nil
}

// applyObject merges server state into the local object for key, creating it
// when missing, and stores it as synced. key is the local key. Ledger entries
// in acked are dropped first, so their fields take the server value; nothing
// is stored when the data does not parse.
func (e *Engine) applyObject(tx *store.Tx, kind models.ObjectKind, lib models.LibraryID, key string, env *remote.ObjectJSON, mode applyMode, acked []uuid.UUID) (models.Object, error) {
	existing, err := tx.Object(kind, lib, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.DeleteChanges(acked)
	}

	var obj models.Object
	switch kind {
	case models.KindItem:
		it, _ := existing.(*models.Item)
		if it == nil {
			it = models.NewItem(lib, key, "")
		}
		if mode == applyRestore {
			it.DeleteAllChanges()
		}
		if err := applyItem(it, env.Data); err != nil {
			return nil, parseError(kind, key, err)
		}
		if err := e.applyItemUsers(tx, it, env.Meta); err != nil {
			return nil, err
		}
		obj = it
	case models.KindCollection:
		c, _ := existing.(*models.Collection)
		if c == nil {
			c = models.NewCollection(lib, key, "")
		}
		if mode == applyRestore {
			c.DeleteAllChanges()
		}
		if err := applyCollection(c, env.Data); err != nil {
			return nil, parseError(kind, key, err)
		}
		obj = c
	case models.KindSearch:
		s, _ := existing.(*models.Search)
		if s == nil {
			s = models.NewSearch(lib, key, "")
		}
		if mode == applyRestore {
			s.DeleteAllChanges()
		}
		if err := applySearch(s, env.Data); err != nil {
			return nil, parseError(kind, key, err)
		}
		obj = s
	case models.KindPageIndex:
		p, _ := existing.(*models.PageIndex)
		if p == nil {
			p = models.NewPageIndex(lib, key, "")
		}
		if mode == applyRestore {
			p.DeleteAllChanges()
		}
		if err := applyPageIndex(p, env.Data); err != nil {
			return nil, parseError(kind, key, err)
		}
		obj = p
	default:
		return nil, fmt.Errorf("unknown object kind %q", kind)
	}

	meta := obj.Meta()
	if mode == applyRestore {
		meta.Version = env.Version
		meta.Deleted = false
		meta.SubmitBlocked = false
	}
	meta.MarkSynced(env.Version, e.now())
	if it, ok := obj.(*models.Item); ok && !it.IsChanged() {
		it.ClearChangedFields()
	}

	if err := tx.PutObject(obj); err != nil {
		return nil, fmt.Errorf("store %s %s: %w", kind, key, err)
	}
	return obj, nil
}

// applyItem overwrites item state from server data, keeping pending local
// values. Item data is decoded completely before anything is modified.
func applyItem(it *models.Item, data json.RawMessage) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var itemType string
	if err := json.Unmarshal(raw["itemType"], &itemType); err != nil || itemType == "" {
		return fmt.Errorf("missing itemType")
	}

	var (
		parent      string
		trash       bool
		collections []string
		tags        []models.Tag
		creators    []models.Creator
		relations   map[string][]string
		fields      []models.ItemField
		position    *models.Position
		dateAdded   time.Time
		dateMod     time.Time
		err         error
	)

	if v, ok := raw["parentItem"]; ok {
		if parent, err = decodeParent(v); err != nil {
			return fmt.Errorf("parentItem: %w", err)
		}
	}
	if v, ok := raw["deleted"]; ok {
		if trash, err = decodeFlag(v); err != nil {
			return fmt.Errorf("deleted: %w", err)
		}
	}
	if v, ok := raw["collections"]; ok {
		if err := json.Unmarshal(v, &collections); err != nil {
			return fmt.Errorf("collections: %w", err)
		}
	}
	if v, ok := raw["tags"]; ok {
		if err := json.Unmarshal(v, &tags); err != nil {
			return fmt.Errorf("tags: %w", err)
		}
	}
	if v, ok := raw["creators"]; ok {
		if err := json.Unmarshal(v, &creators); err != nil {
			return fmt.Errorf("creators: %w", err)
		}
	}
	if v, ok := raw["relations"]; ok {
		if relations, err = decodeRelations(v); err != nil {
			return fmt.Errorf("relations: %w", err)
		}
	}
	if v, ok := raw["annotationPosition"]; ok {
		var encoded string
		if err := json.Unmarshal(v, &encoded); err != nil {
			return fmt.Errorf("annotationPosition: %w", err)
		}
		pos, err := models.DecodePosition(encoded)
		if err != nil {
			return err
		}
		position = &pos
	}
	if v, ok := raw["dateAdded"]; ok {
		if dateAdded, err = decodeTime(v); err != nil {
			return fmt.Errorf("dateAdded: %w", err)
		}
	}
	if v, ok := raw["dateModified"]; ok {
		if dateMod, err = decodeTime(v); err != nil {
			return fmt.Errorf("dateModified: %w", err)
		}
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		if !structuralItemKeys[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		value, ok := decodeFieldValue(raw[name])
		if !ok {
			continue
		}
		fields = append(fields, models.ItemField{Key: name, Value: value})
	}

	pending := it.PendingFields()
	if !pending.Has(models.ItemChangeType) {
		it.ItemType = itemType
	}
	if !pending.Has(models.ItemChangeParent) {
		it.ParentKey = parent
	}
	if !pending.Has(models.ItemChangeTrash) {
		it.Trash = trash
	}
	if !pending.Has(models.ItemChangeCollections) {
		it.CollectionKeys = collections
	}
	if !pending.Has(models.ItemChangeTags) {
		it.Tags = tags
	}
	if !pending.Has(models.ItemChangeCreators) {
		it.Creators = creators
	}
	if !pending.Has(models.ItemChangeRelations) {
		it.Relations = relations
	}
	if !pending.Has(models.ItemChangeFields) {
		it.Fields = fields
	} else {
		it.Fields = mergeFields(it.Fields, fields)
	}

	positionPending := pending.Has(models.ItemChangeRects) || pending.Has(models.ItemChangePaths) || hasChangedPositionField(it)
	if position != nil && !positionPending {
		it.SetPosition(*position)
	}
	if !dateAdded.IsZero() {
		it.DateAdded = dateAdded
	}
	if !dateMod.IsZero() {
		it.DateModified = dateMod
	}
	return nil
}

// mergeFields keeps locally changed fields and takes every other value from remote.
func mergeFields(local, remote []models.ItemField) []models.ItemField {
	var merged []models.ItemField
	changed := make(map[string]bool)
	for _, f := range local {
		if f.Changed {
			merged = append(merged, f)
			changed[f.Key] = true
		}
	}
	for _, f := range remote {
		if !changed[f.Key] {
			merged = append(merged, f)
		}
	}
	return merged
}

func hasChangedPositionField(it *models.Item) bool {
	if !it.PendingFields().Has(models.ItemChangeFields) {
		return false
	}
	for _, f := range it.Fields {
		if f.Changed && f.IsPositionField() {
			return true
		}
	}
	return false
}

// applyItemUsers records the created-by and last-modified-by users served
// with group items. Users the item stops referring to are left for the
// deletion cascade to remove.
func (e *Engine) applyItemUsers(tx *store.Tx, it *models.Item, rawMeta json.RawMessage) error {
	if len(rawMeta) == 0 {
		return nil
	}
	var meta objectMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		e.logger.Warn("ignoring malformed object meta", "key", it.Key, "error", err)
		return nil
	}
	it.CreatedBy, it.LastModifiedBy = 0, 0
	for _, u := range []*models.User{meta.CreatedByUser, meta.LastModifiedByUser} {
		if u == nil || u.ID == 0 {
			continue
		}
		if err := tx.PutUser(u); err != nil {
			return fmt.Errorf("store user %d: %w", u.ID, err)
		}
	}
	if meta.CreatedByUser != nil {
		it.CreatedBy = meta.CreatedByUser.ID
	}
	if meta.LastModifiedByUser != nil {
		it.LastModifiedBy = meta.LastModifiedByUser.ID
	}
	return nil
}

func applyCollection(c *models.Collection, data json.RawMessage) error {
	var in struct {
		Name             *string         `json:"name"`
		ParentCollection json.RawMessage `json:"parentCollection"`
		Deleted          json.RawMessage `json:"deleted"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Name == nil {
		return fmt.Errorf("missing name")
	}
	parent, err := decodeParent(in.ParentCollection)
	if err != nil {
		return fmt.Errorf("parentCollection: %w", err)
	}
	trash, err := decodeFlag(in.Deleted)
	if err != nil {
		return fmt.Errorf("deleted: %w", err)
	}

	pending := c.PendingFields()
	if !pending.Has(models.CollectionChangeName) {
		c.Name = *in.Name
	}
	if !pending.Has(models.CollectionChangeParent) {
		c.ParentKey = parent
	}
	if !pending.Has(models.CollectionChangeTrash) {
		c.Trash = trash
	}
	return nil
}

func applySearch(s *models.Search, data json.RawMessage) error {
	var in struct {
		Name       *string                  `json:"name"`
		Conditions []models.SearchCondition `json:"conditions"`
		Deleted    json.RawMessage          `json:"deleted"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Name == nil {
		return fmt.Errorf("missing name")
	}
	trash, err := decodeFlag(in.Deleted)
	if err != nil {
		return fmt.Errorf("deleted: %w", err)
	}

	pending := s.PendingFields()
	if !pending.Has(models.SearchChangeName) {
		s.Name = *in.Name
	}
	if !pending.Has(models.SearchChangeConditions) {
		s.Conditions = in.Conditions
	}
	if !pending.Has(models.SearchChangeTrash) {
		s.Trash = trash
	}
	return nil
}

func applyPageIndex(p *models.PageIndex, data json.RawMessage) error {
	var in struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	value, ok := decodeFieldValue(in.Value)
	if !ok {
		return fmt.Errorf("missing value")
	}
	if !p.PendingFields().Has(models.PageIndexChangeIndex) {
		p.Index = value
	}
	return nil
}

// decodeParent accepts a key, false, null or an absent value.
func decodeParent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", nil
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", err
	}
	if key != "" && !models.ValidKey(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return key, nil
}

// decodeFlag accepts booleans and 0/1.
func decodeFlag(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return false, fmt.Errorf("not a flag: %s", raw)
	}
	return n != 0, nil
}

// decodeRelations accepts a single URI or a list of URIs per predicate.
func decodeRelations(raw json.RawMessage) (map[string][]string, error) {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(in))
	for predicate, v := range in {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out[predicate] = []string{one}
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return nil, fmt.Errorf("predicate %s: %w", predicate, err)
		}
		out[predicate] = many
	}
	return out, nil
}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// decodeFieldValue returns strings as-is and numbers in their JSON form.
// Other JSON values are not item fields.
func decodeFieldValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// encodeEnvelope builds the snapshot JSON of an object whose data was
// produced locally, such as a settings entry written by this client.
func encodeEnvelope(key string, version int, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(remote.ObjectJSON{Key: key, Version: version, Data: raw})
}
