package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestStateErrorUnwrapsToInvalidState(t *testing.T) {
	err := &StateError{Entity: "purchase requisition", Current: "pending_approval", Required: "approved"}
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, "purchase requisition is pending_approval, action requires approved", err.Error())
}

func TestWrapConflictClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	serialization := &pgconn.PgError{Code: "40001"}
	deadlock := &pgconn.PgError{Code: "40P01"}

	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsUniqueViolation(serialization))
	require.True(t, IsSerializationFailure(serialization))
	require.True(t, IsSerializationFailure(deadlock))

	require.ErrorIs(t, WrapConflict(unique), ErrConflict)
	require.ErrorIs(t, WrapConflict(serialization), ErrConflict)
	require.ErrorIs(t, WrapConflict(fmt.Errorf("begin tx: %w", deadlock)), ErrConflict)
}

func TestWrapConflictPassthrough(t *testing.T) {
	require.NoError(t, WrapConflict(nil))

	plain := errors.New("column does not exist")
	require.Equal(t, plain, WrapConflict(plain))

	// Domain errors keep their identity so handlers map them correctly.
	wrapped := fmt.Errorf("issue item 42: %w", ErrInsufficientStock)
	require.ErrorIs(t, WrapConflict(wrapped), ErrInsufficientStock)
}
