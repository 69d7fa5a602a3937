package memorycore_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-memory/internal/memorycore"
	"github.com/normanking/cortex-memory/internal/sqlitestore"
)

func newTestContextAssembler(t *testing.T) (*memorycore.ContextAssembler, *sqlitestore.Store) {
	t.Helper()
	store, err := sqlitestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	a := memorycore.NewContextAssembler(store, memorycore.DefaultTokenCounter{}, zerolog.Nop())
	return a, store
}

func appendN(t *testing.T, store *sqlitestore.Store, threadID, resourceID string, contents ...string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := store.CreateThread(t.Context(), &memorycore.Thread{ID: threadID, ResourceID: resourceID, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	for i, c := range contents {
		_, err := store.AppendMessage(t.Context(), &memorycore.Message{
			ID:           threadID + "-" + string(rune('a'+i)),
			ThreadID:     threadID,
			ResourceID:   resourceID,
			Role:         memorycore.RoleUser,
			RawContent:   c,
			SearchText:   c,
			CreatedAt:    time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
			MessageIndex: i,
		})
		require.NoError(t, err)
	}
}

func TestContextAssembler_Recall_WidensAroundSearchHit(t *testing.T) {
	a, store := newTestContextAssembler(t)
	ctx := t.Context()
	appendN(t, store, "thread-1", "resource-1", "intro message", "the quick brown fox jumps over the lazy dog", "closing message")

	msgs, err := a.Recall(ctx, memorycore.RecallQuery{
		Query:        "fox",
		ThreadID:     "thread-1",
		Scope:        memorycore.ScopeThread,
		MessageRange: 1,
	})
	require.NoError(t, err)
	// the hit at index 1 plus its +/-1 neighbors: all three messages.
	assert.Len(t, msgs, 3)
}

func TestContextAssembler_Recall_FallsBackToRecentOnNoHits(t *testing.T) {
	a, store := newTestContextAssembler(t)
	ctx := t.Context()
	appendN(t, store, "thread-1", "resource-1", "alpha", "beta", "gamma")

	msgs, err := a.Recall(ctx, memorycore.RecallQuery{
		Query:    "nonexistent-term-xyz",
		ThreadID: "thread-1",
		Scope:    memorycore.ScopeThread,
	})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestContextAssembler_BuildStack_OrdersLevelsAndSkipsEmpty(t *testing.T) {
	a, store := newTestContextAssembler(t)
	ctx := t.Context()
	appendN(t, store, "thread-1", "resource-1", "hello", "world")

	cfg := memorycore.DefaultObservationalMemoryConfig()
	blocks, err := a.BuildStack(ctx, "thread-1", "resource-1", nil, cfg)
	require.NoError(t, err)

	// no reflections and no ObservationalMemory record supplied: only
	// recent-messages and on-demand should appear.
	require.Len(t, blocks, 2)
	assert.Equal(t, memorycore.LevelRecentMessages, blocks[0].Level)
	assert.Equal(t, memorycore.LevelOnDemand, blocks[1].Level)
}

func TestContextAssembler_BuildStack_IncludesReflectionsAndObservations(t *testing.T) {
	a, store := newTestContextAssembler(t)
	ctx := t.Context()

	now := time.Now().UTC()
	_, err := store.CreateThread(ctx, &memorycore.Thread{ID: "thread-1", ResourceID: "resource-1", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	_, err = store.CreateReflection(ctx, &memorycore.Reflection{ID: "refl-1", ThreadID: "thread-1", Content: "condensed history", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	rec := &memorycore.ObservationalMemory{ActiveObservations: "line one\nline two\nline three"}
	cfg := memorycore.DefaultObservationalMemoryConfig()

	blocks, err := a.BuildStack(ctx, "thread-1", "resource-1", rec, cfg)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, memorycore.LevelReflections, blocks[0].Level)
	assert.Contains(t, blocks[0].Content, "condensed history")
	assert.Equal(t, memorycore.LevelRecentObservations, blocks[1].Level)
	assert.Equal(t, memorycore.LevelOnDemand, blocks[2].Level)
}

func TestContextBlock_FormatIncludesLevelMarker(t *testing.T) {
	b := memorycore.ContextBlock{Level: memorycore.LevelReflections, Name: "reflections", Content: "x"}
	formatted := b.Format()
	assert.Contains(t, formatted, "LEVEL 1: reflections")
	assert.Contains(t, formatted, "x")
}

func TestFormatForAgentInput_OrdersSystemWorkingMemoryRecentThenUser(t *testing.T) {
	recent := []*memorycore.Message{
		{Role: memorycore.RoleUser, RawContent: "hi"},
		{Role: memorycore.RoleTool, RawContent: "tool output"},
		{Role: memorycore.RoleAssistant, RawContent: "hello back"},
	}
	out := memorycore.FormatForAgentInput(nil, "working mem content", "system prompt", "final question", recent)

	require.Len(t, out, 5)
	assert.Equal(t, memorycore.RoleSystem, out[0].Role)
	assert.Equal(t, "system prompt", out[0].RawContent)
	assert.Contains(t, out[1].RawContent, "working mem content")
	assert.Equal(t, memorycore.RoleUser, out[2].Role)
	assert.Equal(t, "hi", out[2].RawContent)
	assert.Equal(t, "hello back", out[3].RawContent, "tool messages are excluded from the recent window")
	assert.Equal(t, "final question", out[4].RawContent)
}

func TestFormatForAgentInput_OmitsWorkingMemoryBlockWhenEmpty(t *testing.T) {
	out := memorycore.FormatForAgentInput(nil, "", "system prompt", "question", nil)
	require.Len(t, out, 2)
	assert.Equal(t, memorycore.RoleSystem, out[0].Role)
	assert.Equal(t, memorycore.RoleUser, out[1].Role)
}

func TestFormatForAgentInput_CapsRecentAtFive(t *testing.T) {
	recent := make([]*memorycore.Message, 0, 7)
	for i := 0; i < 7; i++ {
		recent = append(recent, &memorycore.Message{Role: memorycore.RoleUser, RawContent: string(rune('a' + i))})
	}
	out := memorycore.FormatForAgentInput(nil, "", "sys", "q", recent)
	// system + 5 capped + user = 7
	require.Len(t, out, 7)
	assert.Equal(t, "c", out[1].RawContent, "only the last five recent messages are kept")
}
