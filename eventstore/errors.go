package eventstore

import "errors"

// Common event store errors
var (
	// ErrNotFound is returned when the requested event does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrDuplicateKey is returned for generic uniqueness violations.
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrConcurrencyConflict is returned when another writer already stored
	// an event at the same (subject, sequence). The caller must reload the
	// aggregate and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict: another version of this aggregate was already stored, reload and try again")
)
