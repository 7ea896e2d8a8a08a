// Package pgstore reaches the remote store over a direct Postgres
// connection instead of its REST API. It exposes the same operations as
// remote.Client and remote.TimetableStore.
package pgstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kimhsiao/shule/backend/internal/remote"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var filterOps = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"lt":  "<",
	"lte": "<=",
	"gt":  ">",
	"gte": ">=",
}

// Store is a Postgres-backed remote store.
type Store struct {
	db *gorm.DB
}

// Open connects to the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Select returns every row of collection matching filters as JSON objects,
// ordered by id.
func (s *Store) Select(ctx context.Context, collection string, filters ...remote.Filter) ([]json.RawMessage, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Table(collection)
	for _, f := range filters {
		op, ok := filterOps[f.Op]
		if !ok {
			return nil, errors.Errorf("unsupported filter operator %q", f.Op)
		}
		if err := checkIdent(f.Column); err != nil {
			return nil, err
		}
		tx = tx.Where(fmt.Sprintf("%s %s ?", f.Column, op), f.Value)
	}

	var rows []map[string]interface{}
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "select %s", collection)
	}

	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s row", collection)
		}
		out = append(out, b)
	}
	return out, nil
}

// Insert adds one object or an array of objects in a single statement.
func (s *Store) Insert(ctx context.Context, collection string, record json.RawMessage) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	rows, err := decodeRows(record)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return errors.Wrapf(s.db.WithContext(ctx).Table(collection).Create(&rows).Error, "insert %s", collection)
}

// Upsert inserts record or overwrites the columns it carries on the row with
// the same id.
func (s *Store) Upsert(ctx context.Context, collection string, record json.RawMessage) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	row, err := decodeRow(record)
	if err != nil {
		return err
	}
	cols, err := updateColumns(row)
	if err != nil {
		return err
	}

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: len(cols) == 0}
	if len(cols) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(cols)
	}
	err = s.db.WithContext(ctx).Table(collection).Clauses(onConflict).Create(row).Error
	return errors.Wrapf(err, "upsert %s", collection)
}

// Update patches the row with the given id.
func (s *Store) Update(ctx context.Context, collection, key string, patch json.RawMessage) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	row, err := decodeRow(patch)
	if err != nil {
		return err
	}
	delete(row, "id")
	if _, err := updateColumns(row); err != nil {
		return err
	}
	if len(row) == 0 {
		return nil
	}
	err = s.db.WithContext(ctx).Table(collection).Where("id = ?", key).Updates(row).Error
	return errors.Wrapf(err, "update %s", collection)
}

// Delete removes the row with the given id. A missing row is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Exec(fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, collection), key).Error
	return errors.Wrapf(err, "delete %s", collection)
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return errors.Errorf("invalid identifier %q", name)
	}
	return nil
}

func decodeRow(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]interface{}
	if err := dec.Decode(&row); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	if row == nil {
		return nil, errors.New("record must be a JSON object")
	}
	return row, nil
}

func decodeRows(raw json.RawMessage) ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var rows []map[string]interface{}
		if err := dec.Decode(&rows); err != nil {
			return nil, errors.Wrap(err, "decode records")
		}
		return rows, nil
	}
	row, err := decodeRow(trimmed)
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{row}, nil
}

// updateColumns returns the sorted non-key columns of row, rejecting any
// name that is not a plain identifier.
func updateColumns(row map[string]interface{}) ([]string, error) {
	cols := make([]string, 0, len(row))
	for col := range row {
		if err := checkIdent(col); err != nil {
			return nil, err
		}
		if col != "id" {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	return cols, nil
}
