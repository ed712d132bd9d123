// Package store persists payment mandates, captures and settlement
// transactions. Every mandate write is a compare-and-swap on the mandate's
// version so that concurrent writers across processes cannot both apply a
// transition read from the same state.
package store

import (
	"errors"
	"time"
)

var (
	// ErrConflict means the stored version no longer matches the version the
	// caller read. The write was not applied.
	ErrConflict = errors.New("stale write: record was modified concurrently")
	// ErrDuplicate is returned when creating a record whose id already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrOwnerMismatch is returned when an upsert targets an id already
	// stored for another account or mode. The stored record is left as is.
	ErrOwnerMismatch = errors.New("record id belongs to another account")
)

// ListOptions bounds a mandate listing by creation time. Both ends are
// optional; From is inclusive and To is exclusive.
type ListOptions struct {
	From *time.Time
	To   *time.Time
}

func (o ListOptions) contains(t time.Time) bool {
	if o.From != nil && t.Before(*o.From) {
		return false
	}
	if o.To != nil && !t.Before(*o.To) {
		return false
	}
	return true
}
