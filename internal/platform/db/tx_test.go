package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	serialization := fmt.Errorf("insert movement: %w", &pgconn.PgError{Code: "40001"})
	deadlock := &pgconn.PgError{Code: "40P01"}
	unique := fmt.Errorf("insert product: %w", &pgconn.PgError{Code: "23505"})

	require.True(t, IsRetryable(serialization))
	require.True(t, IsRetryable(deadlock))
	require.False(t, IsRetryable(unique))
	require.False(t, IsRetryable(errors.New("connection reset")))
	require.False(t, IsRetryable(nil))

	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsUniqueViolation(serialization))
}
