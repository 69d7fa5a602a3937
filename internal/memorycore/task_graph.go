package memorycore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskUpdatedPublisher publishes the spec's best-effort "task-updated"
// event. Failures are swallowed by TaskGraph; implementations should log
// rather than return an error that would otherwise propagate to callers.
type TaskUpdatedPublisher interface {
	PublishTaskUpdated(sessionID string, tasks []*Task)
}

// noopPublisher is used when TaskGraph is constructed without a bus.
type noopPublisher struct{}

func (noopPublisher) PublishTaskUpdated(string, []*Task) {}

// TaskGraph owns Task, TaskDependency, and TaskMessage rows: creation,
// status transitions, dependency-DAG maintenance, and ready-set
// computation. Grounded on internal/planning/tasks/manager.go's Manager.
type TaskGraph struct {
	store     Store
	publisher TaskUpdatedPublisher
	clock     interface{ Now() time.Time }
	log       zerolog.Logger
}

// NewTaskGraph constructs a TaskGraph. publisher may be nil, in which
// case task-updated events are dropped.
func NewTaskGraph(store Store, publisher TaskUpdatedPublisher, clk interface{ Now() time.Time }, log zerolog.Logger) *TaskGraph {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &TaskGraph{store: store, publisher: publisher, clock: clk, log: log.With().Str("component", "task_graph").Logger()}
}

// CreateTaskInput is the caller-supplied subset of a Task for Create.
type CreateTaskInput struct {
	Title       string
	Description string
	Priority    int
	Type        string
	Assignee    string
	SessionID   string
	Metadata    TaskMetadata
}

// Create inserts a new open Task and publishes task-updated when
// SessionID is set.
func (tg *TaskGraph) Create(ctx context.Context, in CreateTaskInput) (*Task, error) {
	now := tg.clock.Now()
	task := &Task{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		Status:      TaskOpen,
		Priority:    in.Priority,
		Type:        in.Type,
		Assignee:    in.Assignee,
		SessionID:   in.SessionID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    in.Metadata,
	}

	stored, err := tg.store.CreateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	tg.publishForSession(ctx, stored.SessionID)
	return stored, nil
}

// UpdatePatch is a partial update to a Task; nil fields are left unchanged.
type UpdatePatch struct {
	Title       *string
	Description *string
	Priority    *int
	Assignee    *string
	Metadata    *TaskMetadata
}

// Update applies patch to the task and publishes task-updated.
func (tg *TaskGraph) Update(ctx context.Context, id string, patch UpdatePatch) (*Task, error) {
	task, err := tg.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	if patch.Metadata != nil {
		task.Metadata = *patch.Metadata
	}
	task.UpdatedAt = tg.clock.Now()

	stored, err := tg.store.UpdateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	tg.publishForSession(ctx, stored.SessionID)
	return stored, nil
}

// Claim attempts to move task id to in_progress and binds it as the
// thread's active task. Refuses a closed or blocked task. Claiming an
// already-claimed task is idempotent for the same session (L-2) but
// fails across sessions if the thread already holds a different active
// task.
func (tg *TaskGraph) Claim(ctx context.Context, id, threadID, sessionID string) (*Task, error) {
	task, err := tg.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task.Status == TaskClosed {
		return nil, fmt.Errorf("claim task %s: %w", id, ErrPreconditionFailed)
	}

	readiness, err := tg.Readiness(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("compute readiness: %w", err)
	}
	if readiness == ReadinessBlocked {
		return nil, fmt.Errorf("claim task %s: blocked: %w", id, ErrPreconditionFailed)
	}

	if task.Status == TaskInProgress && task.SessionID != sessionID && threadID != "" {
		if thread, err := tg.store.GetThread(ctx, threadID); err == nil {
			if active := thread.Metadata.ActiveTaskID; active != nil && *active != "" && *active != id {
				return nil, fmt.Errorf("claim task %s: thread %s holds active task %s: %w", id, threadID, *active, ErrPreconditionFailed)
			}
		}
	}

	if task.Status == TaskInProgress && task.SessionID == sessionID {
		// idempotent re-claim (L-2): still (re)bind the thread pointer.
	} else {
		task.Status = TaskInProgress
		task.SessionID = sessionID
	}
	task.UpdatedAt = tg.clock.Now()

	stored, err := tg.store.UpdateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if threadID != "" {
		taskID := stored.ID
		if _, err := tg.store.UpdateThreadMetadata(ctx, threadID, ThreadMetadata{ActiveTaskID: &taskID}); err != nil {
			return nil, fmt.Errorf("bind active task to thread: %w", err)
		}
	}

	tg.publishForSession(ctx, stored.SessionID)
	return stored, nil
}

// Close closes a task, requiring both reason and a non-empty summary, and
// clears activeTaskId from every thread currently pointing at it (INV-7).
func (tg *TaskGraph) Close(ctx context.Context, id string, reason CloseReason, summary string) (*Task, error) {
	if reason == "" || summary == "" {
		return nil, fmt.Errorf("close task %s: reason and summary required: %w", id, ErrPreconditionFailed)
	}

	task, err := tg.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	now := tg.clock.Now()
	task.Status = TaskClosed
	task.CloseReason = reason
	task.Summary = summary
	task.ClosedAt = &now
	task.UpdatedAt = now

	stored, err := tg.store.UpdateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if _, err := tg.store.ClearActiveTaskFor(ctx, id); err != nil {
		return nil, fmt.Errorf("clear active task pointers: %w", err)
	}

	tg.publishForSession(ctx, stored.SessionID)
	return stored, nil
}

// AddDependency adds a task -> depends_on edge; refuses if it would
// introduce a cycle (INV-6).
func (tg *TaskGraph) AddDependency(ctx context.Context, taskID, dependsOnID string, typ DependencyType) error {
	if typ == "" {
		typ = DependencyBlocks
	}

	g, err := tg.loadGraph(ctx)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if err := g.addEdge(taskID, dependsOnID); err != nil {
		return fmt.Errorf("add dependency: %w: %w", err, ErrPreconditionFailed)
	}

	if err := tg.store.AddDependency(ctx, TaskDependency{
		TaskID:      taskID,
		DependsOnID: dependsOnID,
		Type:        typ,
		CreatedAt:   tg.clock.Now(),
	}); err != nil {
		return fmt.Errorf("persist dependency: %w", err)
	}
	return nil
}

// RemoveDependency removes a task -> depends_on edge.
func (tg *TaskGraph) RemoveDependency(ctx context.Context, taskID, dependsOnID string, typ DependencyType) error {
	if typ == "" {
		typ = DependencyBlocks
	}
	return tg.store.RemoveDependency(ctx, taskID, dependsOnID, typ)
}

// Readiness is the computed ready/blocked state of a task.
type Readiness string

const (
	ReadinessReady   Readiness = "ready"
	ReadinessBlocked Readiness = "blocked"
)

// Readiness reports whether every "blocks" predecessor of id is closed.
func (tg *TaskGraph) Readiness(ctx context.Context, id string) (Readiness, error) {
	deps, err := tg.store.ListDependencies(ctx, id)
	if err != nil {
		return "", fmt.Errorf("list dependencies: %w", err)
	}
	for _, d := range deps {
		if d.Type != DependencyBlocks {
			continue
		}
		pred, err := tg.store.GetTask(ctx, d.DependsOnID)
		if err != nil {
			return "", fmt.Errorf("get predecessor %s: %w", d.DependsOnID, err)
		}
		if pred.Status != TaskClosed {
			return ReadinessBlocked, nil
		}
	}
	return ReadinessReady, nil
}

// ReadySet returns every open task whose every "blocks" predecessor is
// closed, in O(|V|+|E|).
func (tg *TaskGraph) ReadySet(ctx context.Context) ([]*Task, error) {
	open, err := tg.store.ListTasks(ctx, TaskOpen)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}

	deps, err := tg.store.ListAllDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}

	blocked := make(map[string]bool)
	closedCache := make(map[string]bool)
	for _, d := range deps {
		if d.Type != DependencyBlocks {
			continue
		}
		closed, ok := closedCache[d.DependsOnID]
		if !ok {
			pred, err := tg.store.GetTask(ctx, d.DependsOnID)
			if err != nil {
				continue
			}
			closed = pred.Status == TaskClosed
			closedCache[d.DependsOnID] = closed
		}
		if !closed {
			blocked[d.TaskID] = true
		}
	}

	ready := make([]*Task, 0, len(open))
	for _, t := range open {
		if !blocked[t.ID] {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// ExecutionOrder returns a total dependency-first order over every task
// via Kahn's algorithm (supplemented from the teacher's GetExecutionOrder).
func (tg *TaskGraph) ExecutionOrder(ctx context.Context) ([]string, error) {
	g, err := tg.loadGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	tasks, err := tg.store.ListTasks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range tasks {
		g.addNode(t.ID)
	}
	order, err := g.topologicalSort()
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}
	return order, nil
}

// SuggestNext picks the highest-priority ready task (supplemented from
// the teacher's SuggestNext), for operator tooling rather than the core
// engine.
func (tg *TaskGraph) SuggestNext(ctx context.Context) (*Task, error) {
	ready, err := tg.ReadySet(ctx)
	if err != nil {
		return nil, err
	}
	var best *Task
	for _, t := range ready {
		if best == nil || t.Priority > best.Priority {
			best = t
		}
	}
	return best, nil
}

// Search runs full-text search over task titles/descriptions.
func (tg *TaskGraph) Search(ctx context.Context, query string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 10
	}
	return tg.store.SearchTasks(ctx, query, limit)
}

func (tg *TaskGraph) loadGraph(ctx context.Context) (*dependencyGraph, error) {
	deps, err := tg.store.ListAllDependencies(ctx)
	if err != nil {
		return nil, err
	}
	g := newDependencyGraph()
	for _, d := range deps {
		g.addNode(d.TaskID)
		g.addNode(d.DependsOnID)
		g.edges[d.TaskID] = append(g.edges[d.TaskID], d.DependsOnID)
	}
	return g, nil
}

func (tg *TaskGraph) publishForSession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	tasks, err := tg.store.ListTasks(ctx, "")
	if err != nil {
		tg.log.Debug().Err(err).Msg("list tasks for task-updated event")
		return
	}
	var forSession []*Task
	for _, t := range tasks {
		if t.SessionID == sessionID {
			forSession = append(forSession, t)
		}
	}
	tg.publisher.PublishTaskUpdated(sessionID, forSession)
}
