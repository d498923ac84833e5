package repository

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Failure kinds carried by PersistenceError.
var (
	// ErrUniqueEmail is the kind of a PersistenceError caused by the
	// users.email uniqueness constraint.
	ErrUniqueEmail = errors.New("email already exists")

	// ErrUnknownField is the kind of a PersistenceError caused by a patch
	// entry that does not map to an updatable column.
	ErrUnknownField = errors.New("unknown user field")
)

// PersistenceError is the single coarse error returned by the repository.
// Driver detail is logged where the failure happens and is not carried here.
type PersistenceError struct {
	// Op names the failing repository operation.
	Op string
	// Message is the caller-facing description.
	Message string
	// Kind is nil for generic failures, or one of the kinds above.
	Kind error
}

func (e *PersistenceError) Error() string {
	return e.Message
}

func (e *PersistenceError) Unwrap() error {
	return e.Kind
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

func classify(err error) error {
	switch {
	case isUniqueViolation(err):
		return ErrUniqueEmail
	case errors.Is(err, ErrUnknownField):
		return ErrUnknownField
	default:
		return nil
	}
}
