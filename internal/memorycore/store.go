package memorycore

import (
	"context"
	"time"
)

// SearchHit pairs a Message with the BM25-plus-recency rank MessageLog's
// search produced for it.
type SearchHit struct {
	Message    *Message
	MatchScore float64
	FinalRank  float64
}

// Store is the persistence and full-text-search collaborator. It fails
// with ErrStorage for transient backing-store failures and ErrConflict
// when a conditional update's precondition no longer holds. All mutating
// calls return the persisted row. Implementations must tokenize the
// full-text index code-identifier-friendly (e.g. preserve "refresh_tokens"
// as one token) and store timestamps with millisecond precision.
type Store interface {
	MessageStore
	ThreadStore
	TaskStore
	WorkingMemoryStore
	ObservationalMemoryStore
	ReflectionStore

	// Close releases the underlying connection.
	Close() error
}

// ThreadStore owns Thread rows.
type ThreadStore interface {
	CreateThread(ctx context.Context, t *Thread) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	UpdateThreadMetadata(ctx context.Context, id string, meta ThreadMetadata) (*Thread, error)
	// ClearActiveTaskFor clears ActiveTaskID from every thread metadata
	// blob currently pointing at taskID. Returns the number of threads
	// touched.
	ClearActiveTaskFor(ctx context.Context, taskID string) (int, error)
	// DeleteThread cascades to messages, task links, observational
	// records, and reflections.
	DeleteThread(ctx context.Context, id string) error
}

// MessageStore owns Message rows and the search_text full-text index.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *Message) (*Message, error)
	ListMessages(ctx context.Context, threadID, resourceID string, limit int) ([]*Message, error)
	CountMessages(ctx context.Context, threadID string) (int, error)
	DeleteMessage(ctx context.Context, id string) error
	SearchMessages(ctx context.Context, query string, limit int, threadID string) ([]SearchHit, error)
	// MarkMessagesObserved records that the observation engine folded
	// these message ids into an observation; used for compaction-level
	// bookkeeping only, distinct from ObservationalMemory.ObservedMessageIDs
	// (which the engine tracks itself).
	MarkMessagesObserved(ctx context.Context, ids []string, observationSummary string) error
}

// TaskStore owns Task, TaskDependency, and TaskMessage rows.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) (*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) (*Task, error)
	// ListTasks returns tasks with the given status, or every task when
	// status is the empty string.
	ListTasks(ctx context.Context, status TaskStatus) ([]*Task, error)
	AddDependency(ctx context.Context, d TaskDependency) error
	RemoveDependency(ctx context.Context, taskID, dependsOnID string, typ DependencyType) error
	ListDependencies(ctx context.Context, taskID string) ([]TaskDependency, error)
	ListAllDependencies(ctx context.Context) ([]TaskDependency, error)
	LinkMessage(ctx context.Context, tm TaskMessage) error
	SearchTasks(ctx context.Context, query string, limit int) ([]*Task, error)
}

// WorkingMemoryStore owns WorkingMemory rows.
type WorkingMemoryStore interface {
	UpsertWorkingMemory(ctx context.Context, resourceID string, scope MemoryScope, content string) (*WorkingMemory, bool, error)
	GetWorkingMemory(ctx context.Context, resourceID string, scope MemoryScope) (*WorkingMemory, error)
	ListWorkingMemory(ctx context.Context, scope MemoryScope) ([]*WorkingMemory, error)
	DeleteWorkingMemory(ctx context.Context, resourceID string, scope MemoryScope) error
}

// ObservationalMemoryStore owns ObservationalMemory rows, including the
// lease fields, via conditional updates on (owner, operation).
type ObservationalMemoryStore interface {
	GetOrCreateObservationalMemory(ctx context.Context, scope MemoryScope, threadID, resourceID string, cfg ObservationalMemoryConfig) (*ObservationalMemory, error)
	SaveObservationalMemory(ctx context.Context, rec *ObservationalMemory) error

	// AcquireLease succeeds iff no current owner, the current lease is
	// expired, or the owner matches; it sets (owner, expires_at, operation_id).
	// Returns ErrConflict if held by a different, unexpired owner.
	AcquireLease(ctx context.Context, recordID, ownerID string, now time.Time, ttl time.Duration) (operationID string, err error)
	// HeartbeatLease atomically extends expiry, conditional on the exact
	// (owner, operationID). Returns false if displaced.
	HeartbeatLease(ctx context.Context, recordID, ownerID, operationID string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease atomically clears all four lease fields, conditional
	// on the triple.
	ReleaseLease(ctx context.Context, recordID, ownerID, operationID string) error
	// SweepStaleLease clears an expired lease with no conditional owner
	// check (used by the stale-flag sweep once the caller has already
	// established no local in-flight op is registered).
	SweepStaleLease(ctx context.Context, recordID string, now time.Time) error
}

// ReflectionStore owns Reflection rows.
type ReflectionStore interface {
	CreateReflection(ctx context.Context, r *Reflection) (*Reflection, error)
	ListReflections(ctx context.Context, threadID, resourceID string, limit int) ([]*Reflection, error)
}
