package metastore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/kilupskalvis/libsync/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `
-- Hosted libraries and their version counter
CREATE TABLE IF NOT EXISTS libraries (
	path TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Current state of every object
CREATE TABLE IF NOT EXISTS objects (
	library TEXT NOT NULL,
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	version INTEGER NOT NULL,
	data JSON NOT NULL,
	PRIMARY KEY (library, kind, key)
);

-- Tombstones of deleted objects
CREATE TABLE IF NOT EXISTS deletions (
	library TEXT NOT NULL,
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (library, kind, key)
);

CREATE INDEX IF NOT EXISTS idx_objects_version ON objects(library, kind, version);
CREATE INDEX IF NOT EXISTS idx_deletions_version ON deletions(library, version);
`

// SQLiteStore implements MetaStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}
	// Writes check and bump the library version; one connection serializes them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func libraryVersion(ctx context.Context, q querier, path string) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, "SELECT version FROM libraries WHERE path = ?", path).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("library %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read library version: %w", err)
	}
	return version, nil
}

// CreateLibrary registers a new library at version 0.
func (s *SQLiteStore) CreateLibrary(ctx context.Context, path, name string) error {
	if _, err := libraryVersion(ctx, s.db, path); err == nil {
		return fmt.Errorf("library %s: %w", path, ErrConflict)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO libraries (path, name) VALUES (?, ?)", path, name); err != nil {
		return fmt.Errorf("insert library: %w", err)
	}
	return nil
}

// DeleteLibrary removes a library with all of its objects and tombstones.
func (s *SQLiteStore) DeleteLibrary(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM libraries WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("library %s: %w", path, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE library = ?", path); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM deletions WHERE library = ?", path); err != nil {
		return fmt.Errorf("delete tombstones: %w", err)
	}
	return tx.Commit()
}

// ListLibraries returns all libraries sorted by path.
func (s *SQLiteStore) ListLibraries(ctx context.Context) ([]LibraryInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, name, version FROM libraries ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var libs []LibraryInfo
	for rows.Next() {
		var lib LibraryInfo
		if err := rows.Scan(&lib.Path, &lib.Name, &lib.Version); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// LibraryVersion returns the current version of a library.
func (s *SQLiteStore) LibraryVersion(ctx context.Context, path string) (int, error) {
	return libraryVersion(ctx, s.db, path)
}

// Versions returns key -> version of objects modified after since.
func (s *SQLiteStore) Versions(ctx context.Context, path, kind string, since int) (map[string]int, int, error) {
	current, err := libraryVersion(ctx, s.db, path)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, version FROM objects WHERE library = ? AND kind = ? AND version > ?",
		path, kind, since)
	if err != nil {
		return nil, 0, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int)
	for rows.Next() {
		var key string
		var version int
		if err := rows.Scan(&key, &version); err != nil {
			return nil, 0, fmt.Errorf("scan version: %w", err)
		}
		versions[key] = version
	}
	return versions, current, rows.Err()
}

// Objects returns the stored objects for keys, in request order. Unknown
// keys are skipped.
func (s *SQLiteStore) Objects(ctx context.Context, path, kind string, keys []string) ([]StoredObject, int, error) {
	current, err := libraryVersion(ctx, s.db, path)
	if err != nil {
		return nil, 0, err
	}
	if len(keys) == 0 {
		return nil, current, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := []any{path, kind}
	for _, k := range keys {
		args = append(args, k)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, version, data FROM objects WHERE library = ? AND kind = ? AND key IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string]StoredObject, len(keys))
	for rows.Next() {
		var obj StoredObject
		var data string
		if err := rows.Scan(&obj.Key, &obj.Version, &data); err != nil {
			return nil, 0, fmt.Errorf("scan object: %w", err)
		}
		obj.Data = json.RawMessage(data)
		byKey[obj.Key] = obj
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	objects := make([]StoredObject, 0, len(byKey))
	for _, k := range keys {
		if obj, ok := byKey[k]; ok {
			objects = append(objects, obj)
		}
	}
	return objects, current, nil
}

// Deleted returns kind -> keys deleted after since. Every kind is present.
func (s *SQLiteStore) Deleted(ctx context.Context, path string, since int) (map[string][]string, int, error) {
	current, err := libraryVersion(ctx, s.db, path)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, key FROM deletions WHERE library = ? AND version > ? ORDER BY kind, key",
		path, since)
	if err != nil {
		return nil, 0, fmt.Errorf("query deletions: %w", err)
	}
	defer rows.Close()

	deleted := map[string][]string{
		KindCollections: {},
		KindSearches:    {},
		KindItems:       {},
		KindSettings:    {},
	}
	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, 0, fmt.Errorf("scan deletion: %w", err)
		}
		deleted[kind] = append(deleted[kind], key)
	}
	return deleted, current, rows.Err()
}

// checkVersion loads the library version and enforces since.
func checkVersion(ctx context.Context, tx *sql.Tx, path string, since int) (int, error) {
	current, err := libraryVersion(ctx, tx, path)
	if err != nil {
		return 0, err
	}
	if since >= 0 && current > since {
		return current, fmt.Errorf("library %s is at version %d, not %d: %w", path, current, since, ErrPreconditionFailed)
	}
	return current, nil
}

// WriteObjects creates or updates objects. Incoming fields are merged over
// the stored data; "false" for parentItem or parentCollection removes the
// parent. All successful writes of one call share the new library version.
func (s *SQLiteStore) WriteObjects(ctx context.Context, path, kind string, since int, objects []map[string]json.RawMessage) ([]WriteResult, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := checkVersion(ctx, tx, path, since)
	if err != nil {
		return nil, current, err
	}
	newVersion := current + 1

	results := make([]WriteResult, len(objects))
	wrote := false
	for i, obj := range objects {
		res, err := writeObject(ctx, tx, path, kind, newVersion, obj)
		if err != nil {
			return nil, current, err
		}
		results[i] = res
		if res.Status == WriteSuccessful {
			wrote = true
		}
	}

	if !wrote {
		return results, current, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, "UPDATE libraries SET version = ? WHERE path = ?", newVersion, path); err != nil {
		return nil, current, fmt.Errorf("bump library version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, current, fmt.Errorf("commit write: %w", err)
	}
	return results, newVersion, nil
}

func failed(key string, code int, msg string) WriteResult {
	return WriteResult{Status: WriteFailed, Key: key, Code: code, Message: msg}
}

func writeObject(ctx context.Context, tx *sql.Tx, path, kind string, newVersion int, obj map[string]json.RawMessage) (WriteResult, error) {
	var key string
	if raw, ok := obj["key"]; ok {
		if err := json.Unmarshal(raw, &key); err != nil || !models.ValidKey(key) {
			return failed(key, 400, "invalid object key"), nil
		}
	} else {
		key = models.GenerateKey()
	}

	var version int
	if raw, ok := obj["version"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			return failed(key, 400, "invalid object version"), nil
		}
	}

	existing, err := loadObject(ctx, tx, path, kind, key)
	if err != nil {
		return WriteResult{}, err
	}
	if version > 0 {
		if existing == nil {
			return failed(key, 404, "object not found"), nil
		}
		if existing.Version != version {
			return failed(key, 412, fmt.Sprintf("object has been modified since version %d", version)), nil
		}
	}

	merged := make(map[string]json.RawMessage)
	if existing != nil {
		if err := json.Unmarshal(existing.Data, &merged); err != nil {
			return WriteResult{}, fmt.Errorf("decode stored %s %s: %w", kind, key, err)
		}
	}
	for field, value := range obj {
		if field == "key" || field == "version" {
			continue
		}
		if (field == "parentItem" || field == "parentCollection") && string(bytes.TrimSpace(value)) == "false" {
			delete(merged, field)
			continue
		}
		merged[field] = value
	}

	if existing == nil {
		switch kind {
		case KindItems:
			if _, ok := merged["itemType"]; !ok {
				return failed(key, 400, "itemType property not provided"), nil
			}
		case KindCollections, KindSearches:
			if _, ok := merged["name"]; !ok {
				return failed(key, 400, "name property not provided"), nil
			}
		}
	}

	if raw, ok := merged["annotationPosition"]; ok {
		var pos string
		if err := json.Unmarshal(raw, &pos); err != nil {
			return failed(key, 400, "annotationPosition must be a string"), nil
		}
		if len(pos) > models.MaxPositionLength {
			return failed(key, 413, fmt.Sprintf("annotationPosition must be at most %d characters", models.MaxPositionLength)), nil
		}
	}

	if existing != nil {
		same, err := sameData(existing.Data, merged)
		if err != nil {
			return WriteResult{}, err
		}
		if same {
			return WriteResult{Status: WriteUnchanged, Key: key}, nil
		}
	}

	merged["key"], _ = json.Marshal(key)
	merged["version"], _ = json.Marshal(newVersion)
	data, err := json.Marshal(merged)
	if err != nil {
		return WriteResult{}, fmt.Errorf("encode %s %s: %w", kind, key, err)
	}

	if err := upsertObject(ctx, tx, path, kind, key, newVersion, data); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{
		Status: WriteSuccessful,
		Key:    key,
		Object: &StoredObject{Key: key, Version: newVersion, Data: data},
	}, nil
}

func loadObject(ctx context.Context, q querier, path, kind, key string) (*StoredObject, error) {
	obj := &StoredObject{Key: key}
	var data string
	err := q.QueryRowContext(ctx,
		"SELECT version, data FROM objects WHERE library = ? AND kind = ? AND key = ?",
		path, kind, key).Scan(&obj.Version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, key, err)
	}
	obj.Data = json.RawMessage(data)
	return obj, nil
}

func upsertObject(ctx context.Context, tx *sql.Tx, path, kind, key string, version int, data []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO objects (library, kind, key, version, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(library, kind, key) DO UPDATE SET version = excluded.version, data = excluded.data`,
		path, kind, key, version, string(data))
	if err != nil {
		return fmt.Errorf("store %s %s: %w", kind, key, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM deletions WHERE library = ? AND kind = ? AND key = ?",
		path, kind, key); err != nil {
		return fmt.Errorf("clear tombstone of %s %s: %w", kind, key, err)
	}
	return nil
}

// sameData compares stored data with merged fields, ignoring key and version.
func sameData(stored json.RawMessage, merged map[string]json.RawMessage) (bool, error) {
	var a map[string]any
	if err := json.Unmarshal(stored, &a); err != nil {
		return false, fmt.Errorf("decode stored data: %w", err)
	}
	delete(a, "key")
	delete(a, "version")

	b := make(map[string]any, len(merged))
	for field, raw := range merged {
		if field == "key" || field == "version" {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, fmt.Errorf("decode field %s: %w", field, err)
		}
		b[field] = v
	}
	return reflect.DeepEqual(a, b), nil
}

// WriteSettings stores settings entries, each as {"value": ...}.
func (s *SQLiteStore) WriteSettings(ctx context.Context, path string, since int, settings map[string]json.RawMessage) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := checkVersion(ctx, tx, path, since)
	if err != nil {
		return current, err
	}
	newVersion := current + 1

	wrote := false
	for name, raw := range settings {
		var entry struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Value == nil {
			return current, fmt.Errorf("setting %s: value required: %w", name, ErrInvalid)
		}
		data, err := json.Marshal(map[string]json.RawMessage{"value": entry.Value})
		if err != nil {
			return current, fmt.Errorf("encode setting %s: %w", name, err)
		}

		existing, err := loadObject(ctx, tx, path, KindSettings, name)
		if err != nil {
			return current, err
		}
		if existing != nil {
			same, err := sameData(existing.Data, map[string]json.RawMessage{"value": entry.Value})
			if err != nil {
				return current, err
			}
			if same {
				continue
			}
		}
		if err := upsertObject(ctx, tx, path, KindSettings, name, newVersion, data); err != nil {
			return current, err
		}
		wrote = true
	}

	if !wrote {
		return current, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, "UPDATE libraries SET version = ? WHERE path = ?", newVersion, path); err != nil {
		return current, fmt.Errorf("bump library version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("commit settings: %w", err)
	}
	return newVersion, nil
}

// DeleteObjects removes objects and records tombstones at the new version.
// Unknown keys are ignored.
func (s *SQLiteStore) DeleteObjects(ctx context.Context, path, kind string, since int, keys []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := checkVersion(ctx, tx, path, since)
	if err != nil {
		return current, err
	}
	newVersion := current + 1

	wrote := false
	for _, key := range keys {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM objects WHERE library = ? AND kind = ? AND key = ?",
			path, kind, key)
		if err != nil {
			return current, fmt.Errorf("delete %s %s: %w", kind, key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deletions (library, kind, key, version) VALUES (?, ?, ?, ?)
			 ON CONFLICT(library, kind, key) DO UPDATE SET version = excluded.version`,
			path, kind, key, newVersion); err != nil {
			return current, fmt.Errorf("record tombstone of %s %s: %w", kind, key, err)
		}
		wrote = true
	}

	if !wrote {
		return current, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, "UPDATE libraries SET version = ? WHERE path = ?", newVersion, path); err != nil {
		return current, fmt.Errorf("bump library version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("commit deletions: %w", err)
	}
	return newVersion, nil
}
