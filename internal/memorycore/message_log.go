package memorycore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AppendInput is the caller-supplied subset of a Message for MessageLog.Append.
type AppendInput struct {
	ThreadID    string
	ResourceID  string
	Role        Role
	RawContent  string
	SearchText  string
	InjectionText string
	TaskID      string
	SessionID   string
}

// MessageLog is the append-only conversation log: it owns Message and
// Thread rows, computes the strictly-increasing MessageIndex, and
// auto-links a new message to a thread's active task when the calling
// session matches. Grounded on observational_store_sqlite.go's
// StoreMessage/GetMessages and the teacher's thread-metadata convention.
type MessageLog struct {
	store Store
	log   zerolog.Logger
}

// NewMessageLog constructs a MessageLog over store.
func NewMessageLog(store Store, log zerolog.Logger) *MessageLog {
	return &MessageLog{store: store, log: log.With().Str("component", "message_log").Logger()}
}

// Append stores a new message, computing MessageIndex and resolving
// auto-link to the thread's active task per the spec's session-match rule.
func (ml *MessageLog) Append(ctx context.Context, in AppendInput) (*Message, error) {
	count, err := ml.store.CountMessages(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	taskID := in.TaskID
	if taskID == "" {
		resolved, err := ml.resolveAutoLink(ctx, in.ThreadID, in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("resolve auto-link: %w", err)
		}
		taskID = resolved
	}

	raw := in.RawContent
	searchText := in.SearchText
	if searchText == "" {
		searchText = raw
	}
	injectionText := in.InjectionText
	if injectionText == "" {
		injectionText = raw
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	msg := &Message{
		ID:            id.String(),
		ThreadID:      in.ThreadID,
		ResourceID:    in.ResourceID,
		Role:          in.Role,
		RawContent:    raw,
		SearchText:    searchText,
		InjectionText: injectionText,
		TaskID:        taskID,
		CreatedAt:     time.Now(),
		MessageIndex:  count,
	}

	stored, err := ml.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if taskID != "" {
		if err := ml.store.LinkMessage(ctx, TaskMessage{
			TaskID:    taskID,
			MessageID: stored.ID,
			Relation:  RelationOutput,
			CreatedAt: stored.CreatedAt,
		}); err != nil {
			ml.log.Warn().Err(err).Str("task_id", taskID).Msg("link message to active task")
		}
	}

	return stored, nil
}

// resolveAutoLink implements: if the thread has an activeTaskId and
// either no sessionID was supplied, or the active task's SessionID equals
// the supplied sessionID, return that task id; otherwise return "".
func (ml *MessageLog) resolveAutoLink(ctx context.Context, threadID, sessionID string) (string, error) {
	if threadID == "" {
		return "", nil
	}
	thread, err := ml.store.GetThread(ctx, threadID)
	if err != nil {
		return "", nil //nolint:nilerr // unknown thread: nothing to auto-link to
	}
	if thread.Metadata.ActiveTaskID == nil || *thread.Metadata.ActiveTaskID == "" {
		return "", nil
	}
	activeTaskID := *thread.Metadata.ActiveTaskID

	if sessionID == "" {
		return activeTaskID, nil
	}

	task, err := ml.store.GetTask(ctx, activeTaskID)
	if err != nil {
		return "", nil //nolint:nilerr // active task vanished: nothing to auto-link to
	}
	if task.SessionID == sessionID {
		return activeTaskID, nil
	}
	return "", nil
}

// List returns messages for a thread or resource, ordered by MessageIndex
// ascending, up to limit (default 100).
func (ml *MessageLog) List(ctx context.Context, threadID, resourceID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	return ml.store.ListMessages(ctx, threadID, resourceID, limit)
}

// Count returns the number of messages in a thread.
func (ml *MessageLog) Count(ctx context.Context, threadID string) (int, error) {
	return ml.store.CountMessages(ctx, threadID)
}

// Delete removes a message by id.
func (ml *MessageLog) Delete(ctx context.Context, id string) error {
	return ml.store.DeleteMessage(ctx, id)
}

// recencyPenalty is the R coefficient in final_rank = bm25(fts) - created_at*R,
// tie-breaking toward newer messages.
const recencyPenalty = 1e-7

// Search ranks messages by final_rank = bm25(fts) - created_at*1e-7
// (ascending; bm25 is itself ascending-is-better in SQLite FTS5 semantics).
// Invalid FTS syntax is expected to surface as an empty result from the
// Store, not an error.
func (ml *MessageLog) Search(ctx context.Context, query string, limit int, threadID string) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	hits, err := ml.store.SearchMessages(ctx, query, limit, threadID)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return hits, nil
}
