package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockOrderIsDirectionIndependent(t *testing.T) {
	a := AggregateKey{TenantID: "t1", ProductID: "p1", LocationID: "loc-a"}
	b := AggregateKey{TenantID: "t1", ProductID: "p1", LocationID: "loc-b"}

	require.Equal(t, LockOrder(a, b), LockOrder(b, a))
	require.Equal(t, []AggregateKey{a, b}, LockOrder(b, a))
}

func TestLockOrderDeduplicates(t *testing.T) {
	a := AggregateKey{TenantID: "t1", ProductID: "p1", LocationID: "loc-a"}
	require.Len(t, LockOrder(a, a, a), 1)
}

func TestIsBusiness(t *testing.T) {
	require.True(t, IsBusiness(ErrInsufficientStock))
	require.True(t, IsBusiness(ErrIdempotencyConflict))
	require.False(t, IsBusiness(nil))
}
