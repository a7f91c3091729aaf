// Package store holds the gorm-backed persistence for articles, publish
// tasks, remote accounts and runtime settings.
package store

import (
	"errors"
)

var (
	// ErrNotFound is returned when a lookup by primary key misses.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a status update would break the
	// article or task state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateURL is returned when an article with the same source URL
	// already exists.
	ErrDuplicateURL = errors.New("duplicate source url")
)
