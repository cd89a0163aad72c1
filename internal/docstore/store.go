// Package docstore is a versioned document store abstraction. Every document
// carries a version that increases by one per successful write, which is the
// only serialization mechanism the services rely on.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned by Create when the id is already taken.
	ErrDuplicate = errors.New("document already exists")
)

// Document is a stored JSON document with its version.
type Document struct {
	ID        string
	Version   int64
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter matches documents whose top-level string field equals Value.
type Filter struct {
	Field string
	Value string
}

// Marker is a document written together with an increment. Its id makes the
// increment happen at most once.
type Marker struct {
	Collection string
	ID         string
	Data       []byte
}

// Query selects documents of one collection.
type Query struct {
	Where  []Filter
	Limit  int
	Newest bool // order by creation time descending
}

// Store is the persistence contract shared by the Postgres, SQLite and
// in-memory implementations.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Create inserts a document at version 0. A taken id returns ErrDuplicate.
	Create(ctx context.Context, collection, id string, data []byte) error
	// ConditionalUpdate replaces the document only if its version equals
	// expectedVersion, writing expectedVersion+1. It returns the number of
	// rows updated (0 or 1).
	ConditionalUpdate(ctx context.Context, collection, id string, expectedVersion int64, data []byte) (int64, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Increment atomically adds delta to a numeric top-level field, creating
	// the document when missing.
	Increment(ctx context.Context, collection, id, field string, delta int64) error
	// IncrementOnce creates marker and applies Increment in one atomic step.
	// A marker id already present returns ErrDuplicate and leaves the field
	// unchanged; any other failure writes neither.
	IncrementOnce(ctx context.Context, collection, id, field string, delta int64, marker Marker) error
	Ping(ctx context.Context) error
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateField rejects field names that are not plain identifiers.
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("invalid field name %q", field)
	}
	return nil
}

// ValidateQuery checks every filter field of q.
func ValidateQuery(q Query) error {
	for _, f := range q.Where {
		if err := ValidateField(f.Field); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}
