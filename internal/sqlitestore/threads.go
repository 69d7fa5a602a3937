package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func (s *Store) CreateThread(ctx context.Context, t *memorycore.Thread) (*memorycore.Thread, error) {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode thread metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, resource_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ResourceID, t.Title, meta, nowMilli(t.CreatedAt), nowMilli(t.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w: %w", err, memorycore.ErrStorage)
	}
	return t, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (*memorycore.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, title, metadata, created_at, updated_at
		FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

func scanThread(row *sql.Row) (*memorycore.Thread, error) {
	var t memorycore.Thread
	var meta string
	var createdAt, updatedAt int64
	if err := row.Scan(&t.ID, &t.ResourceID, &t.Title, &meta, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread: %w", memorycore.ErrNotFound)
		}
		return nil, fmt.Errorf("scan thread: %w: %w", err, memorycore.ErrStorage)
	}
	decoded, err := decodeJSON[memorycore.ThreadMetadata](meta)
	if err != nil {
		return nil, fmt.Errorf("decode thread metadata: %w", err)
	}
	t.Metadata = decoded
	t.CreatedAt = fromMilli(createdAt)
	t.UpdatedAt = fromMilli(updatedAt)
	return &t, nil
}

func (s *Store) UpdateThreadMetadata(ctx context.Context, id string, meta memorycore.ThreadMetadata) (*memorycore.Thread, error) {
	encoded, err := encodeJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("encode thread metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE threads SET metadata = ?, updated_at = ? WHERE id = ?`,
		encoded, nowMilli(nowUTC()), id)
	if err != nil {
		return nil, fmt.Errorf("update thread metadata: %w: %w", err, memorycore.ErrStorage)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("thread %s: %w", id, memorycore.ErrNotFound)
	}
	return s.GetThread(ctx, id)
}

func (s *Store) ClearActiveTaskFor(ctx context.Context, taskID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, metadata FROM threads`)
	if err != nil {
		return 0, fmt.Errorf("list threads: %w: %w", err, memorycore.ErrStorage)
	}
	type update struct {
		id   string
		meta memorycore.ThreadMetadata
	}
	var touched []update
	for rows.Next() {
		var id, meta string
		if err := rows.Scan(&id, &meta); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan thread: %w: %w", err, memorycore.ErrStorage)
		}
		decoded, err := decodeJSON[memorycore.ThreadMetadata](meta)
		if err != nil {
			continue
		}
		if decoded.ActiveTaskID != nil && *decoded.ActiveTaskID == taskID {
			decoded.ActiveTaskID = nil
			touched = append(touched, update{id: id, meta: decoded})
		}
	}
	rows.Close()

	for _, u := range touched {
		encoded, err := encodeJSON(u.meta)
		if err != nil {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE threads SET metadata = ?, updated_at = ? WHERE id = ?`,
			encoded, nowMilli(nowUTC()), u.id); err != nil {
			return len(touched), fmt.Errorf("clear active task pointer on thread %s: %w: %w", u.id, err, memorycore.ErrStorage)
		}
	}
	return len(touched), nil
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reflections WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("cascade delete reflections: %w: %w", err, memorycore.ErrStorage)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM observational_memory WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("cascade delete observational memory: %w: %w", err, memorycore.ErrStorage)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete thread: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}
