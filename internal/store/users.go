package store

import (
	"strconv"

	"github.com/kilupskalvis/libsync/internal/models"
)

func userKey(id int) []byte {
	return []byte(strconv.Itoa(id))
}

// User returns a user. Returns (nil, nil) if not found.
func (tx *Tx) User(id int) (*models.User, error) {
	b, err := tx.bucket(bucketUsers)
	if err != nil {
		return nil, err
	}
	return getJSON[models.User](b, userKey(id))
}

// PutUser creates or replaces a user.
func (tx *Tx) PutUser(u *models.User) error {
	b, err := tx.bucket(bucketUsers)
	if err != nil {
		return err
	}
	return putJSON(b, userKey(u.ID), u)
}

// DeleteUser removes a user.
func (tx *Tx) DeleteUser(id int) error {
	b, err := tx.bucket(bucketUsers)
	if err != nil {
		return err
	}
	return b.Delete(userKey(id))
}

// UserReferrerCount returns the number of distinct items, across all
// libraries, that refer to the user.
func (tx *Tx) UserReferrerCount(id int) (int, error) {
	b, err := tx.bucket(bucketUserRefs)
	if err != nil {
		return 0, err
	}
	return len(indexMembers(b, []byte(strconv.Itoa(id)+":"))), nil
}

// DeleteUserIfOrphaned removes the user when no item refers to it any more
// and reports whether it was removed.
func (tx *Tx) DeleteUserIfOrphaned(id int) (bool, error) {
	count, err := tx.UserReferrerCount(id)
	if err != nil || count > 0 {
		return false, err
	}
	existing, err := tx.User(id)
	if err != nil || existing == nil {
		return false, err
	}
	return true, tx.DeleteUser(id)
}
