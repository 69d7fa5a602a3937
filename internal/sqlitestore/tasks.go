package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

const taskColumns = `id, title, description, status, priority, type, assignee, session_id,
	created_at, updated_at, closed_at, close_reason, summary, metadata`

func (s *Store) CreateTask(ctx context.Context, t *memorycore.Task) (*memorycore.Task, error) {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode task metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Priority, t.Type, t.Assignee, t.SessionID,
		nowMilli(t.CreatedAt), nowMilli(t.UpdatedAt), nullableMilli(t.ClosedAt), string(t.CloseReason), t.Summary, meta)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w: %w", err, memorycore.ErrStorage)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*memorycore.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*memorycore.Task, error) {
	var t memorycore.Task
	var status, closeReason, meta string
	var createdAt, updatedAt int64
	var closedAt sql.NullInt64
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Priority, &t.Type, &t.Assignee,
		&t.SessionID, &createdAt, &updatedAt, &closedAt, &closeReason, &t.Summary, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task: %w", memorycore.ErrNotFound)
		}
		return nil, fmt.Errorf("scan task: %w: %w", err, memorycore.ErrStorage)
	}
	t.Status = memorycore.TaskStatus(status)
	t.CloseReason = memorycore.CloseReason(closeReason)
	t.CreatedAt = fromMilli(createdAt)
	t.UpdatedAt = fromMilli(updatedAt)
	if closedAt.Valid {
		ts := fromMilli(closedAt.Int64)
		t.ClosedAt = &ts
	}
	decoded, err := decodeJSON[memorycore.TaskMetadata](meta)
	if err != nil {
		return nil, fmt.Errorf("decode task metadata: %w", err)
	}
	t.Metadata = decoded
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *memorycore.Task) (*memorycore.Task, error) {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode task metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title=?, description=?, status=?, priority=?, type=?, assignee=?,
			session_id=?, updated_at=?, closed_at=?, close_reason=?, summary=?, metadata=?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Status), t.Priority, t.Type, t.Assignee, t.SessionID,
		nowMilli(t.UpdatedAt), nullableMilli(t.ClosedAt), string(t.CloseReason), t.Summary, meta, t.ID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w: %w", err, memorycore.ErrStorage)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("task %s: %w", t.ID, memorycore.ErrNotFound)
	}
	return s.GetTask(ctx, t.ID)
}

func (s *Store) ListTasks(ctx context.Context, status memorycore.TaskStatus) ([]*memorycore.Task, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()

	var out []*memorycore.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AddDependency(ctx context.Context, d memorycore.TaskDependency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id, type, created_at)
		VALUES (?, ?, ?, ?)`, d.TaskID, d.DependsOnID, string(d.Type), nowMilli(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("add dependency: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

func (s *Store) RemoveDependency(ctx context.Context, taskID, dependsOnID string, typ memorycore.DependencyType) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ? AND type = ?`,
		taskID, dependsOnID, string(typ))
	if err != nil {
		return fmt.Errorf("remove dependency: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

func (s *Store) ListDependencies(ctx context.Context, taskID string) ([]memorycore.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id, type, created_at FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func (s *Store) ListAllDependencies(ctx context.Context) ([]memorycore.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, depends_on_id, type, created_at FROM task_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("list all dependencies: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func scanDependencies(rows *sql.Rows) ([]memorycore.TaskDependency, error) {
	var out []memorycore.TaskDependency
	for rows.Next() {
		var d memorycore.TaskDependency
		var typ string
		var createdAt int64
		if err := rows.Scan(&d.TaskID, &d.DependsOnID, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dependency: %w: %w", err, memorycore.ErrStorage)
		}
		d.Type = memorycore.DependencyType(typ)
		d.CreatedAt = fromMilli(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) LinkMessage(ctx context.Context, tm memorycore.TaskMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_messages (task_id, message_id, relation_type, created_at)
		VALUES (?, ?, ?, ?)`, tm.TaskID, tm.MessageID, string(tm.Relation), nowMilli(tm.CreatedAt))
	if err != nil {
		return fmt.Errorf("link message: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

func (s *Store) SearchTasks(ctx context.Context, query string, limit int) ([]*memorycore.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	q := ftsQuery(query)
	if q == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("t", taskColumns)+`
		FROM tasks t
		JOIN tasks_fts ON t.rowid = tasks_fts.rowid
		WHERE tasks_fts MATCH ?
		ORDER BY bm25(tasks_fts)
		LIMIT ?`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()

	var out []*memorycore.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
