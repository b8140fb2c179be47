package storage

import "errors"

// Storage error constants
var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the store collaborator is down. The
	// enrichment coordinator treats this as degraded operation (provider-only,
	// no caching), never as a fatal pipeline failure.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrDatabaseClosed is returned when using a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")
)
