// Package db provides repository operations for the local store's
// bookkeeping tables: the sync queue, the conflict log and the local
// timetable.
package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/kimhsiao/shule/backend/internal/models"
)

// Repository provides typed access to the local bookkeeping tables.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.X()}
}

// =====================================================
// SyncQueueItem Operations
// =====================================================

const queueColumns = `id, operation, collection, record_key, payload, created_at, synced,
	synced_at, retry_count, next_retry_at, last_error`

// CreateQueueItem appends an item to the sync queue.
func (r *Repository) CreateQueueItem(ctx context.Context, item *models.SyncQueueItem) error {
	if len(item.Payload) == 0 {
		item.Payload = []byte("null")
	}
	query := `INSERT INTO sync_queue (` + queueColumns + `)
	VALUES (:id, :operation, :collection, :record_key, :payload, :created_at, :synced,
		:synced_at, :retry_count, :next_retry_at, :last_error)`
	_, err := r.db.NamedExecContext(ctx, query, item)
	return errors.Wrap(err, "insert sync_queue")
}

// GetQueueItem retrieves a queue item by ID. Returns nil if absent.
func (r *Repository) GetQueueItem(ctx context.Context, id string) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := r.db.GetContext(ctx, &item, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get sync_queue item")
	}
	return &item, nil
}

// ListUnsyncedQueueItems returns unsynced items oldest first. limit <= 0
// means no limit.
func (r *Repository) ListUnsyncedQueueItems(ctx context.Context, limit int) ([]*models.SyncQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE synced = 0 ORDER BY created_at, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var items []*models.SyncQueueItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, errors.Wrap(err, "list unsynced sync_queue")
	}
	return items, nil
}

// ListUnsyncedForRecord returns unsynced items touching one record.
func (r *Repository) ListUnsyncedForRecord(ctx context.Context, collection, key string) ([]*models.SyncQueueItem, error) {
	var items []*models.SyncQueueItem
	err := r.db.SelectContext(ctx, &items,
		`SELECT `+queueColumns+` FROM sync_queue
		 WHERE synced = 0 AND collection = ? AND record_key = ?
		 ORDER BY created_at, id`, collection, key)
	if err != nil {
		return nil, errors.Wrap(err, "list sync_queue for record")
	}
	return items, nil
}

// MarkQueueItemSynced flags an item as applied remotely.
func (r *Repository) MarkQueueItemSynced(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET synced = 1, synced_at = ?, last_error = '' WHERE id = ?`,
		at.UnixMilli(), id)
	if err != nil {
		return errors.Wrap(err, "mark sync_queue synced")
	}
	return expectOneRow(res, "sync_queue", id)
}

// MarkQueueItemFailed records a failed replay attempt.
func (r *Repository) MarkQueueItemFailed(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = ?, next_retry_at = ?, last_error = ? WHERE id = ? AND synced = 0`,
		retryCount, nextRetryAt.UnixMilli(), lastErr, id)
	if err != nil {
		return errors.Wrap(err, "mark sync_queue failed")
	}
	return expectOneRow(res, "sync_queue", id)
}

// ResetQueueRetries clears backoff on every unsynced item so the next
// pass retries them immediately.
func (r *Repository) ResetQueueRetries(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET next_retry_at = 0 WHERE synced = 0 AND next_retry_at > 0`)
	if err != nil {
		return 0, errors.Wrap(err, "reset sync_queue retries")
	}
	return res.RowsAffected()
}

// PurgeSyncedQueueItems deletes synced items applied before cutoff.
func (r *Repository) PurgeSyncedQueueItems(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE synced = 1 AND synced_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "purge sync_queue")
	}
	return res.RowsAffected()
}

// QueueStats summarizes the queue.
func (r *Repository) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	var stats models.QueueStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN synced = 0 AND retry_count > 0 THEN 1 ELSE 0 END), 0) AS failing,
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0) AS synced,
			COUNT(*) AS total,
			COALESCE(MIN(CASE WHEN synced = 0 THEN created_at END), 0) AS oldest
		FROM sync_queue`)
	if err != nil {
		return nil, errors.Wrap(err, "sync_queue stats")
	}
	return &stats, nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO conflict_log (id, collection, record_key, queue_item_id, local_timestamp,
			remote_timestamp, resolution, detected_at)
		VALUES (:id, :collection, :record_key, :queue_item_id, :local_timestamp,
			:remote_timestamp, :resolution, :detected_at)`, log)
	return errors.Wrap(err, "insert conflict_log")
}

// ListConflictLogs returns the most recent conflicts first.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*models.ConflictLog
	err := r.db.SelectContext(ctx, &logs,
		`SELECT * FROM conflict_log ORDER BY detected_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list conflict_log")
	}
	return logs, nil
}

// =====================================================
// TimetableEntry Operations
// =====================================================

const timetableColumns = `id, teacher_id, section_id, subject_id, academic_year, term, day_of_week,
	start_time, end_time, kind, room, label, created_at, updated_at`

const insertTimetableEntry = `INSERT INTO timetable_entries (` + timetableColumns + `)
	VALUES (:id, :teacher_id, :section_id, :subject_id, :academic_year, :term, :day_of_week,
		:start_time, :end_time, :kind, :room, :label, :created_at, :updated_at)`

// ListTimetableEntries returns entries matching filter ordered by day and
// start time.
func (r *Repository) ListTimetableEntries(ctx context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.AcademicYear != 0 {
		where = append(where, "academic_year = ?")
		args = append(args, f.AcademicYear)
	}
	if f.Term != 0 {
		where = append(where, "term = ?")
		args = append(args, f.Term)
	}
	if f.DayOfWeek != 0 {
		where = append(where, "day_of_week = ?")
		args = append(args, f.DayOfWeek)
	}
	if f.SectionID != "" {
		where = append(where, "section_id = ?")
		args = append(args, f.SectionID)
	}
	if f.TeacherID != "" {
		where = append(where, "teacher_id = ?")
		args = append(args, f.TeacherID)
	}

	query := `SELECT ` + timetableColumns + ` FROM timetable_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY day_of_week, start_time, section_id, id`

	var entries []*models.TimetableEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, errors.Wrap(err, "list timetable_entries")
	}
	return entries, nil
}

// GetTimetableEntry retrieves an entry by ID. Returns nil if absent.
func (r *Repository) GetTimetableEntry(ctx context.Context, id string) (*models.TimetableEntry, error) {
	var e models.TimetableEntry
	err := r.db.GetContext(ctx, &e, `SELECT `+timetableColumns+` FROM timetable_entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get timetable entry")
	}
	return &e, nil
}

// CreateTimetableEntry inserts one entry.
func (r *Repository) CreateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error {
	stampEntry(e, true)
	_, err := r.db.NamedExecContext(ctx, insertTimetableEntry, e)
	return errors.Wrap(err, "insert timetable entry")
}

// CreateTimetableEntries inserts entries in one transaction. Either all
// rows are written or none.
func (r *Repository) CreateTimetableEntries(ctx context.Context, entries []*models.TimetableEntry) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin timetable batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertTimetableEntry)
	if err != nil {
		return 0, errors.Wrap(err, "prepare timetable batch")
	}
	defer stmt.Close()

	for _, e := range entries {
		stampEntry(e, true)
		if _, err := stmt.ExecContext(ctx, e); err != nil {
			return 0, errors.Wrapf(err, "insert timetable entry %s", e.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit timetable batch")
	}
	return len(entries), nil
}

// UpdateTimetableEntry overwrites every mutable column of an entry.
func (r *Repository) UpdateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error {
	stampEntry(e, false)
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE timetable_entries SET teacher_id = :teacher_id, section_id = :section_id,
			subject_id = :subject_id, academic_year = :academic_year, term = :term,
			day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time,
			kind = :kind, room = :room, label = :label, updated_at = :updated_at
		WHERE id = :id`, e)
	if err != nil {
		return errors.Wrap(err, "update timetable entry")
	}
	return expectOneRow(res, "timetable_entries", e.ID)
}

// DeleteTimetableEntry removes an entry. Deleting a missing entry is not
// an error.
func (r *Repository) DeleteTimetableEntry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM timetable_entries WHERE id = ?`, id)
	return errors.Wrap(err, "delete timetable entry")
}

func stampEntry(e *models.TimetableEntry, create bool) {
	now := time.Now().UnixMilli()
	if create && e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

// ErrNoRows is returned by updates that matched nothing.
var ErrNoRows = errors.New("no rows affected")

func expectOneRow(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s rows affected", table)
	}
	if n == 0 {
		return errors.Wrapf(ErrNoRows, "%s %s", table, id)
	}
	return nil
}
