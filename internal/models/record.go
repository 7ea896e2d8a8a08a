// Package models provides data model definitions for the Shule backend.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CollectionName identifies one cached collection.
type CollectionName string

const (
	CollectionLearners           CollectionName = "learners"
	CollectionGrades             CollectionName = "grades"
	CollectionStreams            CollectionName = "streams"
	CollectionTeachers           CollectionName = "teachers"
	CollectionFeePayments        CollectionName = "fee_payments"
	CollectionFeeBalances        CollectionName = "fee_balances"
	CollectionPerformanceRecords CollectionName = "performance_records"
	CollectionAlumni             CollectionName = "alumni"
)

// Record is implemented by every cached entity type.
type Record interface {
	// Collection names the collection the record belongs to.
	Collection() CollectionName
	// Key returns the primary key, unique within the collection.
	Key() string
	// IndexValues returns the secondary index values keyed by index name.
	// Every index declared for the collection must be present; an empty
	// string means the record has no value for that index.
	IndexValues() map[string]string
}

type collectionInfo struct {
	indexes []string
	newFn   func() Record
}

var registry = map[CollectionName]collectionInfo{
	CollectionLearners: {
		indexes: []string{"admission_number", "grade_id", "stream_id"},
		newFn:   func() Record { return &Learner{} },
	},
	CollectionGrades: {
		indexes: []string{"level"},
		newFn:   func() Record { return &Grade{} },
	},
	CollectionStreams: {
		indexes: []string{"grade_id"},
		newFn:   func() Record { return &Stream{} },
	},
	CollectionTeachers: {
		indexes: []string{"staff_number"},
		newFn:   func() Record { return &Teacher{} },
	},
	CollectionFeePayments: {
		indexes: []string{"learner_id", "payment_date"},
		newFn:   func() Record { return &FeePayment{} },
	},
	CollectionFeeBalances: {
		indexes: []string{"learner_id"},
		newFn:   func() Record { return &FeeBalance{} },
	},
	CollectionPerformanceRecords: {
		indexes: []string{"learner_id", "grade_id"},
		newFn:   func() Record { return &PerformanceRecord{} },
	},
	CollectionAlumni: {
		indexes: []string{"graduation_year"},
		newFn:   func() Record { return &AlumniRecord{} },
	},
}

// Collections returns every cached collection in a stable order.
func Collections() []CollectionName {
	names := make([]CollectionName, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// IsCollection reports whether name is a known cached collection.
func IsCollection(name CollectionName) bool {
	_, ok := registry[name]
	return ok
}

// IndexesFor returns the secondary index names of a collection.
func IndexesFor(name CollectionName) ([]string, error) {
	info, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	out := make([]string, len(info.indexes))
	copy(out, info.indexes)
	return out, nil
}

// HasIndex reports whether the collection declares the named index.
func HasIndex(name CollectionName, index string) bool {
	info, ok := registry[name]
	if !ok {
		return false
	}
	for _, idx := range info.indexes {
		if idx == index {
			return true
		}
	}
	return false
}

// NewRecord returns a zero value of the collection's record type.
func NewRecord(name CollectionName) (Record, error) {
	info, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return info.newFn(), nil
}

// DecodeRecord unmarshals raw JSON into the collection's record type and
// validates it.
func DecodeRecord(name CollectionName, raw []byte) (Record, error) {
	rec, err := NewRecord(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", name, err)
	}
	if err := Validate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
