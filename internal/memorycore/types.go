// Package memorycore implements the conversational memory engine: an
// append-only message and task store, a threshold-driven observation
// pipeline, a reflection layer, and a context assembler. It is the core
// subsystem of the Cortex runtime; the surrounding TUI, tool execution,
// and agent-spawning layers are out of scope here.
package memorycore

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one conversational turn, owned exclusively by MessageLog.
// Rows are never mutated after insert except for the post-hoc compaction
// fields (CompactionLevel, Summary) set by the observation pipeline.
type Message struct {
	ID             string
	ThreadID       string
	ResourceID     string
	Role           Role
	RawContent     string
	SearchText     string
	InjectionText  string
	TaskID         string
	CreatedAt      time.Time
	MessageIndex   int
	TokenCount     int
	CompactionLevel int
	Summary        string
}

// ThreadMetadata is the tagged structure backing Thread.Metadata, per the
// guidance against free-form runtime maps: the one well-known field
// (ActiveTaskID) is a real struct field, and everything else travels in
// Extra for forward compatibility.
type ThreadMetadata struct {
	ActiveTaskID *string        `json:"activeTaskId,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Thread is a container for messages with mutable metadata. Invariant: at
// most one active task per thread at a time (ThreadMetadata.ActiveTaskID).
type Thread struct {
	ID         string
	ResourceID string
	Title      string
	Metadata   ThreadMetadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskClosed     TaskStatus = "closed"
)

// CloseReason explains why a Task was closed.
type CloseReason string

const (
	CloseCompleted CloseReason = "completed"
	CloseWontfix   CloseReason = "wontfix"
	CloseDuplicate CloseReason = "duplicate"
)

// TaskMetadata is the tagged structure backing Task.Metadata.
type TaskMetadata struct {
	Extra map[string]any `json:"extra,omitempty"`
}

// Task tracks a unit of work with dependency edges to other tasks.
// Invariants: closing requires both CloseReason and a non-empty Summary;
// a task may be claimed only if not closed and has no open blocking
// dependency; claiming an already-claimed task is idempotent for the same
// session but fails across sessions when the thread already holds a
// different active task.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	Priority    int
	Type        string
	Assignee    string
	SessionID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	CloseReason CloseReason
	Summary     string
	Metadata    TaskMetadata
}

// DependencyType is the relation kind of a TaskDependency edge.
type DependencyType string

// DependencyBlocks is the only dependency type the ready-set computation
// honors; other types are recorded but do not gate readiness.
const DependencyBlocks DependencyType = "blocks"

// TaskDependency is a directed edge task -> depends_on. The dependency
// graph must remain acyclic; a task is ready iff every "blocks"
// predecessor is closed.
type TaskDependency struct {
	TaskID      string
	DependsOnID string
	Type        DependencyType
	CreatedAt   time.Time
}

// TaskMessageRelation is the kind of link between a Task and a Message.
type TaskMessageRelation string

const (
	RelationOutput    TaskMessageRelation = "output"
	RelationReference TaskMessageRelation = "reference"
)

// TaskMessage links a Task and a Message. Created on an explicit link, or
// implicitly when a message is appended while the thread has an active
// task in the same session.
type TaskMessage struct {
	TaskID    string
	MessageID string
	Relation  TaskMessageRelation
	CreatedAt time.Time
}

// MemoryScope is the binding key kind for WorkingMemory and
// ObservationalMemory: either a single conversation (thread) or shared
// across threads for one resource (resource).
type MemoryScope string

const (
	ScopeThread   MemoryScope = "thread"
	ScopeResource MemoryScope = "resource"
)

// WorkingMemory is a scoped markdown blob. Unique on (ResourceID, Scope);
// upsert overwrites Content.
type WorkingMemory struct {
	ID         string
	ResourceID string
	Scope      MemoryScope
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Lease is the DB-stored mutual-exclusion token guarding observation and
// reflection for one ObservationalMemory record.
type Lease struct {
	OwnerID         string
	ExpiresAt       time.Time
	OperationID     string
	LastHeartbeatAt time.Time
}

// Held reports whether the lease currently has a non-empty owner, without
// regard to expiry (callers compare ExpiresAt against a Clock themselves).
func (l Lease) Held() bool {
	return l.OwnerID != ""
}

// BufferedObservationChunk is produced by the async observation path and
// awaits promotion into ActiveObservations.
type BufferedObservationChunk struct {
	Content       string
	MessageIDs    []string
	MessageTokens int
	CreatedAt     time.Time
}

// ObservationalMemoryConfig configures thresholds for one scope. Defaults
// match the spec's literal numbers.
type ObservationalMemoryConfig struct {
	ObservationThreshold  int     `mapstructure:"observation_threshold" yaml:"observation_threshold"`
	ReflectionThreshold   int     `mapstructure:"reflection_threshold" yaml:"reflection_threshold"`
	BufferTokens          int     `mapstructure:"buffer_tokens" yaml:"buffer_tokens"`
	BufferActivation      float64 `mapstructure:"buffer_activation" yaml:"buffer_activation"`
	BlockAfter            int     `mapstructure:"block_after" yaml:"block_after"`
	Scope                 MemoryScope `mapstructure:"scope" yaml:"scope"`
	LastMessages          int     `mapstructure:"last_messages" yaml:"last_messages"`
	MaxRecentObservations int     `mapstructure:"max_recent_observations" yaml:"max_recent_observations"`
}

// DefaultObservationalMemoryConfig returns the spec's literal defaults.
func DefaultObservationalMemoryConfig() ObservationalMemoryConfig {
	return ObservationalMemoryConfig{
		ObservationThreshold:  30_000,
		ReflectionThreshold:   40_000,
		BufferTokens:          6_000,
		BufferActivation:      0.8,
		BlockAfter:            7_200,
		Scope:                 ScopeResource,
		LastMessages:          10,
		MaxRecentObservations: 50,
	}
}

// ObservationalMemory is the per-scope state machine driving the
// observation and reflection pipeline. Unique on LookupKey.
type ObservationalMemory struct {
	ID         string
	ThreadID   string
	ResourceID string
	Scope      MemoryScope
	LookupKey  string

	Config ObservationalMemoryConfig

	ActiveObservations       string
	BufferedObservationChunks []BufferedObservationChunk
	ObservedMessageIDs       map[string]struct{}

	IsObserving           bool
	IsReflecting          bool
	IsBufferingObservation bool
	IsBufferingReflection bool

	Lease Lease

	LastBufferedAtTokens *int
	LastBufferedAtTime   *time.Time
	LastObservedAt       *time.Time
	GenerationCount      int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LookupKeyFor builds the canonical lookup key for a scope: "thread:<id>"
// or "resource:<id>".
func LookupKeyFor(scope MemoryScope, threadID, resourceID string) string {
	if scope == ScopeThread {
		return "thread:" + threadID
	}
	return "resource:" + resourceID
}

// Reflection is an immutable snapshot of a condensation of
// ActiveObservations, produced by ReflectionEngine.reflect. Cascade
// deleted when the parent thread is deleted.
type Reflection struct {
	ID              string
	ThreadID        string
	ResourceID      string
	Content         string
	MergedFrom      []string
	OriginType      string
	GenerationCount int
	TokenCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
