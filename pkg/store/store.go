// Package store defines the durable record store the bridge uses as its
// transport. Requests, responses and dispatch markers are separate
// kinds of record, each addressed by request id. Implementations must
// make every mutation individually atomic: a reader never observes a
// half-written record.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects the channel a record lives in.
type Kind string

const (
	Requests   Kind = "requests"
	Responses  Kind = "responses"
	Dispatched Kind = "dispatched"
)

// Kinds lists every record kind.
var Kinds = []Kind{Requests, Responses, Dispatched}

func (k Kind) Valid() bool {
	switch k {
	case Requests, Responses, Dispatched:
		return true
	}
	return false
}

var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
)

// Entry describes a stored record without its body.
type Entry struct {
	Key     string
	ModTime time.Time
}

// Store is a durable key/record store partitioned by Kind.
type Store interface {
	// Create atomically writes a new record. It returns ErrExists if
	// the key is already present; the existing record is untouched.
	Create(ctx context.Context, kind Kind, key string, record []byte) error

	// Put atomically writes a record, replacing any existing one.
	Put(ctx context.Context, kind Kind, key string, record []byte) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, kind Kind, key string) ([]byte, error)

	// Delete removes a record. Deleting a missing record is not an
	// error.
	Delete(ctx context.Context, kind Kind, key string) error

	// List returns every record of kind ordered by modification time,
	// then key.
	List(ctx context.Context, kind Kind) ([]Entry, error)

	Close() error
}

// CheckKey validates kind and key before an operation touches storage.
func CheckKey(kind Kind, key string) error {
	if !kind.Valid() {
		return fmt.Errorf("store: invalid kind %q", kind)
	}
	if key == "" {
		return errors.New("store: key is required")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") || strings.HasPrefix(key, ".") {
		return fmt.Errorf("store: invalid key %q", key)
	}
	return nil
}
