package cache

import (
	"fmt"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
)

// ErrKeyExists is wrapped by the StorageError returned from Add when the
// primary key is already present.
var ErrKeyExists = errors.New("key already exists")

// ErrNotInitialized is wrapped when an operation runs after Close.
var ErrNotInitialized = errors.New("cache is closed")

// isQuotaExceeded reports whether err is SQLite refusing to grow the file,
// either because max_page_count was reached or the disk is full.
func isQuotaExceeded(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_FULL
	}
	return false
}

// storageError converts a failure inside the store into the StorageError
// kind so driver errors never cross the package boundary unclassified.
func storageError(op string, collection models.CollectionName, err error) error {
	if err == nil {
		return nil
	}
	msg := op
	if collection != "" {
		msg = fmt.Sprintf("%s %s", op, collection)
	}
	if isQuotaExceeded(err) {
		return apperrors.Wrap(apperrors.ErrStorageQuotaExceeded, msg+": storage quota exceeded", err)
	}
	return apperrors.Wrap(apperrors.ErrStorage, msg, err)
}

func invalidCollection(name models.CollectionName) error {
	return apperrors.Newf(apperrors.ErrInvalid, "unknown collection %q", name)
}

func validationError(collection models.CollectionName, err error) error {
	return apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("invalid %s record", collection), err)
}
