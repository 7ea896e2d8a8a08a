package cache

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kimhsiao/shule/backend/internal/db"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
)

func databaseSize(conn *db.DB) (int64, error) {
	var pageCount, pageSize int64
	if err := conn.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, errors.Wrap(err, "read page_count")
	}
	if err := conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, errors.Wrap(err, "read page_size")
	}
	return pageCount * pageSize, nil
}

// StorageEstimate reports consumed vs. available local storage. Usage is
// the database size. Quota is the configured cap, or else the usage plus
// the space left on the filesystem. Whatever cannot be determined is
// reported as zero.
func (s *Store) StorageEstimate(ctx context.Context) models.StorageEstimate {
	conn, err := s.ready(ctx)
	if err != nil {
		logging.Warn("Storage estimate unavailable", map[string]interface{}{"error": err.Error()})
		return models.StorageEstimate{}
	}
	usage, err := databaseSize(conn)
	if err != nil {
		logging.Warn("Storage estimate unavailable", map[string]interface{}{"error": err.Error()})
		return models.StorageEstimate{}
	}

	quota := s.opts.QuotaBytes
	if quota <= 0 {
		if avail, ok := filesystemAvailable(s.Path()); ok {
			quota = usage + avail
		}
	}
	return models.NewStorageEstimate(usage, quota)
}
