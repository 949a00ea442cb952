package sqlutil

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrUniqueViolation marks a storage-level unique constraint hit.
	// Fake stores return it directly; Postgres surfaces SQLSTATE 23505.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrTxConflict marks a retryable serialization conflict or deadlock.
	// The engine never retries internally; the caller re-runs the whole
	// unit of work.
	ErrTxConflict = errors.New("transaction conflict")
)

const (
	pgUniqueViolation     = "23505"
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint
// violation, either the sentinel or a Postgres 23505.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

// IsSerializationFailure reports whether err is a retryable
// serialization failure or deadlock.
func IsSerializationFailure(err error) bool {
	if errors.Is(err, ErrTxConflict) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return code == pgSerializationFailed || code == pgDeadlockDetected
}
