package memorycore_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-memory/internal/memorycore"
	"github.com/normanking/cortex-memory/internal/sqlitestore"
)

func newTestWorkingMemoryManager(t *testing.T) *memorycore.WorkingMemoryManager {
	t.Helper()
	store, err := sqlitestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return memorycore.NewWorkingMemoryManager(store, zerolog.Nop())
}

func TestWorkingMemoryManager_UpsertThenGet(t *testing.T) {
	wm := newTestWorkingMemoryManager(t)
	ctx := t.Context()

	rec, err := wm.Upsert(ctx, "resource-1", memorycore.ScopeResource, "# notes\nsome content")
	require.NoError(t, err)
	assert.Equal(t, "# notes\nsome content", rec.Content)

	got, err := wm.Get(ctx, "resource-1", memorycore.ScopeResource)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
}

func TestWorkingMemoryManager_GetMissingReturnsErrNotFound(t *testing.T) {
	wm := newTestWorkingMemoryManager(t)
	_, err := wm.Get(t.Context(), "nonexistent", memorycore.ScopeResource)
	require.Error(t, err)
	assert.ErrorIs(t, err, memorycore.ErrNotFound)
}

func TestWorkingMemoryManager_List(t *testing.T) {
	wm := newTestWorkingMemoryManager(t)
	ctx := t.Context()

	_, err := wm.Upsert(ctx, "resource-1", memorycore.ScopeResource, "one")
	require.NoError(t, err)
	_, err = wm.Upsert(ctx, "resource-2", memorycore.ScopeResource, "two")
	require.NoError(t, err)

	recs, err := wm.List(ctx, memorycore.ScopeResource)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestWorkingMemoryManager_Delete(t *testing.T) {
	wm := newTestWorkingMemoryManager(t)
	ctx := t.Context()

	_, err := wm.Upsert(ctx, "resource-1", memorycore.ScopeResource, "gone soon")
	require.NoError(t, err)

	require.NoError(t, wm.Delete(ctx, "resource-1", memorycore.ScopeResource))

	_, err = wm.Get(ctx, "resource-1", memorycore.ScopeResource)
	assert.ErrorIs(t, err, memorycore.ErrNotFound)
}
