package sqlitestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func TestObservational_GetOrCreateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	cfg := memorycore.DefaultObservationalMemoryConfig()

	rec1, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	rec2, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	assert.Equal(t, rec1.ID, rec2.ID)
	assert.Equal(t, "resource:resource-1", rec1.LookupKey)
}

func TestObservational_SaveRoundTripsState(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	cfg := memorycore.DefaultObservationalMemoryConfig()

	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeThread, "thread-1", "", cfg)
	require.NoError(t, err)

	rec.ActiveObservations = "the user asked about X"
	rec.IsObserving = true
	rec.GenerationCount = 3
	rec.ObservedMessageIDs = map[string]struct{}{"m1": {}, "m2": {}}

	require.NoError(t, s.SaveObservationalMemory(ctx, rec))

	row := s.db.QueryRowContext(ctx, obsSelectByID, rec.ID)
	got, err := scanObservationalMemory(row)
	require.NoError(t, err)
	assert.Equal(t, "the user asked about X", got.ActiveObservations)
	assert.True(t, got.IsObserving)
	assert.Equal(t, 3, got.GenerationCount)
	assert.Len(t, got.ObservedMessageIDs, 2)
}

func TestObservational_AcquireLease_SucceedsWhenUnheld(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	opID, err := s.AcquireLease(ctx, rec.ID, "owner-a", now, 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, opID)
}

func TestObservational_AcquireLease_ConflictsWithLiveOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.AcquireLease(ctx, rec.ID, "owner-a", now, 30*time.Second)
	require.NoError(t, err)

	_, err = s.AcquireLease(ctx, rec.ID, "owner-b", now, 30*time.Second)
	require.ErrorIs(t, err, memorycore.ErrConflict)
}

func TestObservational_AcquireLease_SucceedsAfterExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.AcquireLease(ctx, rec.ID, "owner-a", now, time.Second)
	require.NoError(t, err)

	later := now.Add(2 * time.Second)
	opID, err := s.AcquireLease(ctx, rec.ID, "owner-b", later, 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, opID)
}

func TestObservational_AcquireLease_SameOwnerIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.AcquireLease(ctx, rec.ID, "owner-a", now, 30*time.Second)
	require.NoError(t, err)
	_, err = s.AcquireLease(ctx, rec.ID, "owner-a", now.Add(time.Second), 30*time.Second)
	require.NoError(t, err)
}

func TestObservational_HeartbeatLease(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	opID, err := s.AcquireLease(ctx, rec.ID, "owner-a", now, 30*time.Second)
	require.NoError(t, err)

	ok, err := s.HeartbeatLease(ctx, rec.ID, "owner-a", opID, now.Add(time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HeartbeatLease(ctx, rec.ID, "owner-a", "wrong-op", now.Add(time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObservational_ReleaseLease(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	opID, err := s.AcquireLease(ctx, rec.ID, "owner-a", now, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseLease(ctx, rec.ID, "owner-a", opID))

	// released: a new owner can acquire immediately.
	_, err = s.AcquireLease(ctx, rec.ID, "owner-b", now, 30*time.Second)
	require.NoError(t, err)
}

func TestObservational_SweepStaleLease(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	rec, err := s.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", memorycore.DefaultObservationalMemoryConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.AcquireLease(ctx, rec.ID, "owner-a", now, time.Second)
	require.NoError(t, err)

	later := now.Add(5 * time.Second)
	require.NoError(t, s.SweepStaleLease(ctx, rec.ID, later))

	row := s.db.QueryRowContext(ctx, obsSelectByID, rec.ID)
	got, err := scanObservationalMemory(row)
	require.NoError(t, err)
	assert.False(t, got.Lease.Held())
}
