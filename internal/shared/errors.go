package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Base errors shared across domain packages. Typed domain errors unwrap to one
// of these so transport code can map them without importing every package.
var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input; nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates a workflow action attempted from the wrong status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientStock indicates an issue exceeding the current balance.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates a lock or serialization failure. The whole document
	// operation is safe to retry; it was never partially applied.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrConsistency indicates a ledger/balance mismatch after posting. Fatal,
	// never silently corrected.
	ErrConsistency = errors.New("ledger consistency violation")
)

// StateError reports a workflow action attempted from the wrong status. It
// identifies the current and the required state for the caller.
type StateError struct {
	Entity   string
	Current  string
	Required string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is %s, action requires %s", e.Entity, e.Current, e.Required)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsSerializationFailure reports whether err is a serialization or deadlock error.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WrapConflict converts retryable database failures into ErrConflict so callers
// can retry the whole document operation. Other errors pass through unchanged.
func WrapConflict(err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) || IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
