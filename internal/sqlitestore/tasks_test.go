package sqlitestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func mustCreateTask(t *testing.T, s *Store, id, title string) *memorycore.Task {
	t.Helper()
	now := time.Now().UTC()
	task, err := s.CreateTask(t.Context(), &memorycore.Task{
		ID:        id,
		Title:     title,
		Status:    memorycore.TaskOpen,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return task
}

func TestTasks_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	mustCreateTask(t, s, "task-1", "write docs")

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "write docs", got.Title)
	assert.Equal(t, memorycore.TaskOpen, got.Status)
}

func TestTasks_GetMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTask(t.Context(), "nope")
	require.ErrorIs(t, err, memorycore.ErrNotFound)
}

func TestTasks_UpdateCloseFields(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	task := mustCreateTask(t, s, "task-1", "ship feature")

	closedAt := time.Now().UTC()
	task.Status = memorycore.TaskClosed
	task.CloseReason = memorycore.CloseCompleted
	task.Summary = "shipped"
	task.ClosedAt = &closedAt
	task.UpdatedAt = closedAt

	updated, err := s.UpdateTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, memorycore.TaskClosed, updated.Status)
	assert.Equal(t, memorycore.CloseCompleted, updated.CloseReason)
	assert.Equal(t, "shipped", updated.Summary)
	require.NotNil(t, updated.ClosedAt)
}

func TestTasks_UpdateMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UpdateTask(t.Context(), &memorycore.Task{ID: "nope"})
	require.ErrorIs(t, err, memorycore.ErrNotFound)
}

func TestTasks_ListTasksFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	mustCreateTask(t, s, "task-1", "open task")
	task2 := mustCreateTask(t, s, "task-2", "closed task")
	task2.Status = memorycore.TaskClosed
	task2.CloseReason = memorycore.CloseCompleted
	task2.Summary = "done"
	_, err := s.UpdateTask(ctx, task2)
	require.NoError(t, err)

	open, err := s.ListTasks(ctx, memorycore.TaskOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "task-1", open[0].ID)

	all, err := s.ListTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTasks_DependenciesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	mustCreateTask(t, s, "task-a", "a")
	mustCreateTask(t, s, "task-b", "b")

	dep := memorycore.TaskDependency{TaskID: "task-b", DependsOnID: "task-a", Type: memorycore.DependencyBlocks, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AddDependency(ctx, dep))

	deps, err := s.ListDependencies(ctx, "task-b")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "task-a", deps[0].DependsOnID)

	all, err := s.ListAllDependencies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.RemoveDependency(ctx, "task-b", "task-a", memorycore.DependencyBlocks))
	deps, err = s.ListDependencies(ctx, "task-b")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestTasks_AddDependencyIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	mustCreateTask(t, s, "task-a", "a")
	mustCreateTask(t, s, "task-b", "b")

	dep := memorycore.TaskDependency{TaskID: "task-b", DependsOnID: "task-a", Type: memorycore.DependencyBlocks, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AddDependency(ctx, dep))
	require.NoError(t, s.AddDependency(ctx, dep))

	deps, err := s.ListDependencies(ctx, "task-b")
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}

func TestTasks_SearchTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	mustCreateTask(t, s, "task-1", "refactor the billing pipeline")
	mustCreateTask(t, s, "task-2", "write release notes")

	hits, err := s.SearchTasks(ctx, "billing", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "task-1", hits[0].ID)
}

func TestTasks_LinkMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	mustCreateTask(t, s, "task-1", "a")
	msg := mustAppendMessage(t, s, "thread-1", "resource-1", "content", 0)

	err := s.LinkMessage(ctx, memorycore.TaskMessage{
		TaskID:    "task-1",
		MessageID: msg.ID,
		Relation:  memorycore.RelationOutput,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	// linking twice must not fail (INSERT OR IGNORE on the composite key)
	err = s.LinkMessage(ctx, memorycore.TaskMessage{
		TaskID:    "task-1",
		MessageID: msg.ID,
		Relation:  memorycore.RelationOutput,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}
