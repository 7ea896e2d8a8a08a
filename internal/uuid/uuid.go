// Package uuid provides record and queue identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// New generates a random UUID v4 for records and clients.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered UUID v7. Queue items use it so that
// ids sort in creation order when timestamps collide.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsID reports whether s is a UUID of any version in its canonical
// hyphenated form.
func IsID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
