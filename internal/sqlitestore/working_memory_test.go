package sqlitestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func TestWorkingMemory_UpsertCreatesThenUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	rec, changed, err := s.UpsertWorkingMemory(ctx, "resource-1", memorycore.ScopeResource, "v1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "v1", rec.Content)

	rec2, changed, err := s.UpsertWorkingMemory(ctx, "resource-1", memorycore.ScopeResource, "v2")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "v2", rec2.Content)
	assert.Equal(t, rec.ID, rec2.ID)
}

func TestWorkingMemory_UpsertSameContentIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	_, _, err := s.UpsertWorkingMemory(ctx, "resource-1", memorycore.ScopeResource, "same")
	require.NoError(t, err)

	_, changed, err := s.UpsertWorkingMemory(ctx, "resource-1", memorycore.ScopeResource, "same")
	require.NoError(t, err)
	assert.False(t, changed, "identical content must not count as a change")
}

func TestWorkingMemory_GetMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetWorkingMemory(t.Context(), "resource-1", memorycore.ScopeResource)
	require.ErrorIs(t, err, memorycore.ErrNotFound)
}

func TestWorkingMemory_ListByScope(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	_, _, err := s.UpsertWorkingMemory(ctx, "resource-1", memorycore.ScopeResource, "a")
	require.NoError(t, err)
	_, _, err = s.UpsertWorkingMemory(ctx, "resource-2", memorycore.ScopeResource, "b")
	require.NoError(t, err)
	_, _, err = s.UpsertWorkingMemory(ctx, "thread-1", memorycore.ScopeThread, "c")
	require.NoError(t, err)

	list, err := s.ListWorkingMemory(ctx, memorycore.ScopeResource)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWorkingMemory_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	_, _, err := s.UpsertWorkingMemory(ctx, "resource-1", memorycore.ScopeResource, "a")
	require.NoError(t, err)

	require.NoError(t, s.DeleteWorkingMemory(ctx, "resource-1", memorycore.ScopeResource))

	_, err = s.GetWorkingMemory(ctx, "resource-1", memorycore.ScopeResource)
	require.ErrorIs(t, err, memorycore.ErrNotFound)
}
