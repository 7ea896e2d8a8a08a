// Package cache implements the offline cache: durable, indexed local
// storage of the school's record collections, usable without network
// connectivity.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/shule/backend/internal/db"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/telemetry"
)

// Options configures a Store.
type Options struct {
	DataDir  string
	FileName string
	// QuotaBytes caps the database file size. Zero means no cap beyond
	// the filesystem.
	QuotaBytes int64
	Metrics    *telemetry.Recorder
}

// Store is the offline cache. All methods are safe for concurrent use and
// lazily initialize the underlying database.
type Store struct {
	opts  Options
	group singleflight.Group

	mu   sync.RWMutex
	conn *db.DB

	// beforeWrite, when set, runs before each record of a write is
	// persisted. Tests use it to inject failures mid-batch.
	beforeWrite func(i int, r models.Record) error
}

// New creates a Store. Nothing is opened until the first operation or an
// explicit Initialize.
func New(opts Options) *Store {
	if opts.FileName == "" {
		opts.FileName = "shule.db"
	}
	return &Store{opts: opts}
}

// Initialize opens (creating if absent) the local database and applies
// schema migrations, which create any missing collections and indices.
// It is idempotent, and concurrent callers share one initialization in
// flight. A failed attempt is not cached; the next call retries.
func (s *Store) Initialize(ctx context.Context) error {
	if s.handle() != nil {
		return nil
	}

	ch := s.group.DoChan("init", func() (interface{}, error) {
		if s.handle() != nil {
			return nil, nil
		}
		conn, err := s.open()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return storageError("initialize", "", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return storageError("initialize", "", res.Err)
		}
		return nil
	}
}

func (s *Store) open() (*db.DB, error) {
	conn, err := db.Open(s.opts.DataDir, s.opts.FileName)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate local store")
	}
	if s.opts.QuotaBytes > 0 {
		if err := applyQuota(conn, s.opts.QuotaBytes); err != nil {
			conn.Close()
			return nil, err
		}
	}

	usage, _ := databaseSize(conn)
	logging.Info("Offline cache ready", map[string]interface{}{
		"path":  s.Path(),
		"usage": humanize.Bytes(uint64(usage)),
		"quota": humanize.Bytes(uint64(s.opts.QuotaBytes)),
	})
	return conn, nil
}

// applyQuota limits the file to the page budget implied by quota. SQLite
// never lowers the limit below the current size.
func applyQuota(conn *db.DB, quota int64) error {
	var pageSize int64
	if err := conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return errors.Wrap(err, "read page_size")
	}
	pages := quota / pageSize
	if pages < 1 {
		pages = 1
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA max_page_count = %d", pages)); err != nil {
		return errors.Wrap(err, "set max_page_count")
	}
	return nil
}

func (s *Store) handle() *db.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// ready returns the open database, initializing on first use.
func (s *Store) ready(ctx context.Context) (*db.DB, error) {
	if h := s.handle(); h != nil {
		return h, nil
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	if h := s.handle(); h != nil {
		return h, nil
	}
	return nil, storageError("open", "", ErrNotInitialized)
}

// DB returns the underlying database so bookkeeping repositories can share
// the same file. It is nil before Initialize.
func (s *Store) DB() *db.DB {
	return s.handle()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return filepath.Join(s.opts.DataDir, s.opts.FileName)
}

// Close releases the database. A later operation re-initializes it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return storageError("close", "", err)
}

// =====================================================
// Write Operations
// =====================================================

// tableSpec returns the table and index columns for a collection.
func tableSpec(name models.CollectionName) (string, []string, error) {
	indexes, err := models.IndexesFor(name)
	if err != nil {
		return "", nil, invalidCollection(name)
	}
	return string(name), indexes, nil
}

func upsertSQL(table string, indexes []string, replace bool) string {
	cols := append([]string{"id", "data"}, indexes...)
	cols = append(cols, "updated_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO ", table, strings.Join(cols, ", "), placeholders)
	if !replace {
		return q + "NOTHING"
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return q + "UPDATE SET " + strings.Join(sets, ", ")
}

// rowArgs marshals a record into the column values of upsertSQL.
func rowArgs(r models.Record, indexes []string, now int64) ([]interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	values := r.IndexValues()
	args := make([]interface{}, 0, len(indexes)+3)
	args = append(args, r.Key(), string(data))
	for _, idx := range indexes {
		args = append(args, values[idx])
	}
	return append(args, now), nil
}

// checkRecord validates a record against its target collection.
func checkRecord(collection models.CollectionName, r models.Record) error {
	if r == nil {
		return apperrors.Newf(apperrors.ErrInvalid, "nil %s record", collection)
	}
	if r.Collection() != collection {
		return apperrors.Newf(apperrors.ErrInvalid, "%s record cannot be stored in %s", r.Collection(), collection)
	}
	if err := models.Validate(r); err != nil {
		return validationError(collection, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, op string, r models.Record, replace bool) error {
	if r == nil {
		return apperrors.New(apperrors.ErrInvalid, "nil record")
	}
	collection := r.Collection()
	table, indexes, err := tableSpec(collection)
	if err != nil {
		return err
	}
	if err := checkRecord(collection, r); err != nil {
		return err
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if s.beforeWrite != nil {
		if err := s.beforeWrite(0, r); err != nil {
			return s.failWrite(ctx, op, collection, err)
		}
	}

	args, err := rowArgs(r, indexes, time.Now().UnixMilli())
	if err != nil {
		return s.failWrite(ctx, op, collection, err)
	}
	res, err := conn.ExecContext(ctx, upsertSQL(table, indexes, replace), args...)
	if err != nil {
		return s.failWrite(ctx, op, collection, err)
	}
	if !replace {
		if n, _ := res.RowsAffected(); n == 0 {
			return storageError(op, collection, errors.Wrapf(ErrKeyExists, "key %q", r.Key()))
		}
	}
	return nil
}

func (s *Store) failWrite(ctx context.Context, op string, collection models.CollectionName, err error) error {
	serr := storageError(op, collection, err)
	s.opts.Metrics.CacheWriteError(ctx, string(collection), string(apperrors.CodeOf(serr)))
	logging.Warn("Cache write failed", map[string]interface{}{
		"op":         op,
		"collection": string(collection),
		"error":      err.Error(),
	})
	return serr
}

// Add inserts a record, failing if its key already exists in the
// collection.
func (s *Store) Add(ctx context.Context, r models.Record) error {
	return s.write(ctx, "add", r, false)
}

// Put inserts or replaces a record by primary key.
func (s *Store) Put(ctx context.Context, r models.Record) error {
	return s.write(ctx, "put", r, true)
}

// BulkPut replaces many records in one transaction. It is all-or-nothing:
// every record is validated before any write, and if any write fails the
// transaction is rolled back and no record from the batch is stored.
func (s *Store) BulkPut(ctx context.Context, collection models.CollectionName, records []models.Record) error {
	table, indexes, err := tableSpec(collection)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := checkRecord(collection, r); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return s.failWrite(ctx, "bulkPut", collection, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL(table, indexes, true))
	if err != nil {
		return s.failWrite(ctx, "bulkPut", collection, err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i, r := range records {
		if s.beforeWrite != nil {
			if err := s.beforeWrite(i, r); err != nil {
				return s.failWrite(ctx, "bulkPut", collection, errors.Wrapf(err, "record %d (%s)", i, r.Key()))
			}
		}
		args, err := rowArgs(r, indexes, now)
		if err != nil {
			return s.failWrite(ctx, "bulkPut", collection, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return s.failWrite(ctx, "bulkPut", collection, errors.Wrapf(err, "record %d (%s)", i, r.Key()))
		}
	}

	if err := tx.Commit(); err != nil {
		return s.failWrite(ctx, "bulkPut", collection, err)
	}
	logging.Debug("Bulk put committed", map[string]interface{}{
		"collection": string(collection),
		"records":    len(records),
	})
	return nil
}

// Delete removes one record. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, collection models.CollectionName, key string) error {
	table, _, err := tableSpec(collection)
	if err != nil {
		return err
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), key)
	return storageError("delete", collection, err)
}

// Clear removes every record in a collection.
func (s *Store) Clear(ctx context.Context, collection models.CollectionName) error {
	table, _, err := tableSpec(collection)
	if err != nil {
		return err
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
	return storageError("clear", collection, err)
}

// =====================================================
// Read Operations
// =====================================================

// Get returns the record with key, or nil if it is not cached.
func (s *Store) Get(ctx context.Context, collection models.CollectionName, key string) (models.Record, error) {
	table, _, err := tableSpec(collection)
	if err != nil {
		return nil, err
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var data string
	err = conn.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", table), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get", collection, err)
	}
	return decode(collection, data)
}

// GetAll returns every record in a collection ordered by key. A missing or
// empty collection yields an empty slice.
func (s *Store) GetAll(ctx context.Context, collection models.CollectionName) ([]models.Record, error) {
	table, _, err := tableSpec(collection)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, "getAll", collection, fmt.Sprintf("SELECT data FROM %s ORDER BY id", table))
}

// GetByIndex returns the records whose secondary index equals value.
func (s *Store) GetByIndex(ctx context.Context, collection models.CollectionName, index, value string) ([]models.Record, error) {
	table, _, err := tableSpec(collection)
	if err != nil {
		return nil, err
	}
	if !models.HasIndex(collection, index) {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "collection %s has no index %q", collection, index)
	}
	// index is whitelisted above, so it is safe to interpolate
	return s.query(ctx, "getByIndex", collection,
		fmt.Sprintf("SELECT data FROM %s WHERE %s = ? ORDER BY id", table, index), value)
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection models.CollectionName) (int, error) {
	table, _, err := tableSpec(collection)
	if err != nil {
		return 0, err
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, storageError("count", collection, err)
	}
	return n, nil
}

// Keys returns every key in a collection.
func (s *Store) Keys(ctx context.Context, collection models.CollectionName) ([]string, error) {
	table, _, err := tableSpec(collection)
	if err != nil {
		return nil, err
	}
	conn, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	if err := conn.X().SelectContext(ctx, &keys, fmt.Sprintf("SELECT id FROM %s ORDER BY id", table)); err != nil {
		return nil, storageError("keys", collection, err)
	}
	return keys, nil
}

func (s *Store) query(ctx context.Context, op string, collection models.CollectionName, query string, args ...interface{}) ([]models.Record, error) {
	conn, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	var rows []string
	if err := conn.X().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageError(op, collection, err)
	}
	out := make([]models.Record, 0, len(rows))
	for _, data := range rows {
		r, err := decode(collection, data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decode(collection models.CollectionName, data string) (models.Record, error) {
	r, err := models.NewRecord(collection)
	if err != nil {
		return nil, invalidCollection(collection)
	}
	if err := json.Unmarshal([]byte(data), r); err != nil {
		return nil, storageError("decode", collection, err)
	}
	return r, nil
}
