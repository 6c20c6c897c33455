package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/batchcore/errors"
	dbtest "github.com/finledger/batchcore/internal/testing"
)

func TestLeaseAcquireAndRelease(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, leases.Acquire("BJ_1", "runner-a", time.Minute, now))

	lease, err := leases.Get("BJ_1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "runner-a", lease.Holder)
	assert.Equal(t, now.Add(time.Minute), lease.ExpiresAt.UTC())

	require.NoError(t, leases.Release("BJ_1", "runner-a"))

	lease, err = leases.Get("BJ_1")
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestLeaseAcquireConflict(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, leases.Acquire("BJ_1", "runner-a", time.Minute, now))

	err := leases.Acquire("BJ_1", "runner-b", time.Minute, now.Add(time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobAlreadyRunning))
}

func TestLeaseAcquireConflictAcrossSubSecondBoundary(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)

	// Lease expires at 12:00:00.5; a whole-second acquire at 12:00:00.0 must
	// still see it as live. Timestamps are compared as strings in SQL, so a
	// trimmed "…00Z" sorting after "…00.5Z" would hand the lease to a second
	// holder half a second early.
	acquired := time.Date(2026, 8, 1, 11, 59, 30, 500_000_000, time.UTC)
	require.NoError(t, leases.Acquire("BJ_1", "runner-a", 30*time.Second, acquired))

	err := leases.Acquire("BJ_1", "runner-b", 30*time.Second,
		time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobAlreadyRunning))

	lease, err := leases.Get("BJ_1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "runner-a", lease.Holder)

	// Once the fractional expiry has actually passed, takeover succeeds.
	require.NoError(t, leases.Acquire("BJ_1", "runner-b", 30*time.Second,
		time.Date(2026, 8, 1, 12, 0, 0, 600_000_000, time.UTC)))
}

func TestLeaseAcquireAfterExpiry(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, leases.Acquire("BJ_1", "runner-a", time.Minute, now))

	// A crashed runner's lease simply expires; the next runner takes over.
	err := leases.Acquire("BJ_1", "runner-b", time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)

	lease, err := leases.Get("BJ_1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "runner-b", lease.Holder)
}

func TestLeaseExtendHeartbeat(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, leases.Acquire("BJ_1", "runner-a", time.Minute, now))
	require.NoError(t, leases.Extend("BJ_1", "runner-a", time.Minute, now.Add(30*time.Second)))

	lease, err := leases.Get("BJ_1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, now.Add(90*time.Second), lease.ExpiresAt.UTC())
}

func TestLeaseExtendAfterTakeover(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, leases.Acquire("BJ_1", "runner-a", time.Minute, now))
	require.NoError(t, leases.Acquire("BJ_1", "runner-b", time.Minute, now.Add(2*time.Minute)))

	err := leases.Extend("BJ_1", "runner-a", time.Minute, now.Add(2*time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobAlreadyRunning))
}

func TestLeaseReleaseByOldHolderIsNoOp(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	leases := NewLeaseStore(conn)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, leases.Acquire("BJ_1", "runner-a", time.Minute, now))
	require.NoError(t, leases.Acquire("BJ_1", "runner-b", time.Minute, now.Add(2*time.Minute)))

	require.NoError(t, leases.Release("BJ_1", "runner-a"))

	lease, err := leases.Get("BJ_1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "runner-b", lease.Holder)
}
