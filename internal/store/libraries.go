package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kilupskalvis/libsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// kv keys for client credentials.
const (
	kvAPIToken = "remote.token"
	kvUserID   = "remote.user_id"
)

// AddLibrary stores a new library. Returns an error if it is already known.
func (s *Store) AddLibrary(lib *models.Library) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLibraries)
		if bucket == nil {
			return fmt.Errorf("libraries bucket not found")
		}

		key := []byte(lib.ID.String())
		if bucket.Get(key) != nil {
			return fmt.Errorf("library '%s' already exists", lib.ID)
		}

		data, err := json.Marshal(lib)
		if err != nil {
			return fmt.Errorf("marshal library: %w", err)
		}

		return bucket.Put(key, data)
	})
}

// GetLibrary retrieves a library. Returns (nil, nil) if not found.
func (s *Store) GetLibrary(id models.LibraryID) (*models.Library, error) {
	var lib *models.Library
	err := s.View(func(tx *Tx) error {
		var err error
		lib, err = tx.Library(id)
		return err
	})
	return lib, err
}

// Library retrieves a library within a transaction. Returns (nil, nil) if not found.
func (tx *Tx) Library(id models.LibraryID) (*models.Library, error) {
	b, err := tx.bucket(bucketLibraries)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Library](b, []byte(id.String()))
}

// PutLibrary creates or replaces a library record.
func (tx *Tx) PutLibrary(lib *models.Library) error {
	b, err := tx.bucket(bucketLibraries)
	if err != nil {
		return err
	}
	return putJSON(b, []byte(lib.ID.String()), lib)
}

// ListLibraries returns all libraries, the personal library first.
func (s *Store) ListLibraries() ([]*models.Library, error) {
	var libs []*models.Library

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLibraries)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var lib models.Library
			if err := json.Unmarshal(v, &lib); err != nil {
				return fmt.Errorf("unmarshal library: %w", err)
			}
			libs = append(libs, &lib)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	sort.Slice(libs, func(i, j int) bool {
		a, b := libs[i].ID, libs[j].ID
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.GroupID < b.GroupID
	})

	return libs, nil
}

// RemoveLibrary deletes a library record together with all of its local
// objects, indexes and versions.
func (s *Store) RemoveLibrary(id models.LibraryID) error {
	return s.Update(func(tx *Tx) error {
		b, err := tx.bucket(bucketLibraries)
		if err != nil {
			return err
		}
		if b.Get([]byte(id.String())) == nil {
			return fmt.Errorf("library '%s' does not exist", id)
		}
		if err := b.Delete([]byte(id.String())); err != nil {
			return fmt.Errorf("delete library: %w", err)
		}
		return tx.DeleteLibraryData(id)
	})
}

// DeleteLibraryData removes every object of the library and its bookkeeping.
// Users left without referrers are removed as well.
func (tx *Tx) DeleteLibraryData(id models.LibraryID) error {
	var userIDs []int
	err := tx.ForEachItem(id, func(it *models.Item) error {
		userIDs = append(userIDs, it.UserIDs()...)
		return tx.DeleteItem(id, it.Key)
	})
	if err != nil {
		return fmt.Errorf("delete items: %w", err)
	}

	for _, name := range [][]byte{bucketCollections, bucketSearches, bucketPageIndices, bucketItemChildren, bucketCollectionItem, bucketSubcollections} {
		b, err := tx.bucket(name)
		if err != nil {
			return err
		}
		if err := deletePrefix(b, libraryPrefix(id)); err != nil {
			return err
		}
	}

	versions, err := tx.bucket(bucketVersions)
	if err != nil {
		return err
	}
	if err := versions.Delete([]byte(id.String())); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}

	for _, uid := range userIDs {
		if _, err := tx.DeleteUserIfOrphaned(uid); err != nil {
			return err
		}
	}
	return nil
}

// Versions returns the synced versions of a library. Unknown libraries
// return zero versions.
func (tx *Tx) Versions(id models.LibraryID) (models.Versions, error) {
	b, err := tx.bucket(bucketVersions)
	if err != nil {
		return models.Versions{}, err
	}
	v, err := getJSON[models.Versions](b, []byte(id.String()))
	if err != nil || v == nil {
		return models.Versions{}, err
	}
	return *v, nil
}

// PutVersions stores the synced versions of a library.
func (tx *Tx) PutVersions(id models.LibraryID, v models.Versions) error {
	b, err := tx.bucket(bucketVersions)
	if err != nil {
		return err
	}
	return putJSON(b, []byte(id.String()), v)
}

// GetVersions is a read-only shortcut for Tx.Versions.
func (s *Store) GetVersions(id models.LibraryID) (models.Versions, error) {
	var v models.Versions
	err := s.View(func(tx *Tx) error {
		var err error
		v, err = tx.Versions(id)
		return err
	})
	return v, err
}

// SetAPIToken stores the API token used for the sync server.
func (s *Store) SetAPIToken(token string) error {
	return s.SetValue(kvAPIToken, token)
}

// GetAPIToken retrieves the stored API token. Returns ("", nil) if none is stored.
func (s *Store) GetAPIToken() (string, error) {
	return s.GetValue(kvAPIToken)
}

// SetUserID stores the ID of the user owning the personal library.
func (s *Store) SetUserID(id string) error {
	return s.SetValue(kvUserID, id)
}

// GetUserID returns the stored user ID. Returns ("", nil) if none is stored.
func (s *Store) GetUserID() (string, error) {
	return s.GetValue(kvUserID)
}
