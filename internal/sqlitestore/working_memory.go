package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func contentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// UpsertWorkingMemory satisfies L-1 (idempotent upsert): it compares a
// blake2b content hash before writing, so calling twice with identical
// content leaves the row (and its updated_at) untouched on the second
// call, and reports back whether a change actually occurred.
func (s *Store) UpsertWorkingMemory(ctx context.Context, resourceID string, scope memorycore.MemoryScope, content string) (*memorycore.WorkingMemory, bool, error) {
	hash := contentHash(content)

	existing, err := s.GetWorkingMemory(ctx, resourceID, scope)
	if err != nil && !errors.Is(err, memorycore.ErrNotFound) {
		return nil, false, err
	}

	now := nowUTC()
	if existing != nil {
		if contentHash(existing.Content) == hash {
			return existing, false, nil
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE working_memory SET content = ?, content_hash = ?, updated_at = ?
			WHERE resource_id = ? AND scope = ?`,
			content, hash, nowMilli(now), resourceID, string(scope))
		if err != nil {
			return nil, false, fmt.Errorf("update working memory: %w: %w", err, memorycore.ErrStorage)
		}
		existing.Content = content
		existing.UpdatedAt = now
		return existing, true, nil
	}

	rec := &memorycore.WorkingMemory{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		Scope:      scope,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO working_memory (id, resource_id, scope, content, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ResourceID, string(rec.Scope), rec.Content, hash, nowMilli(now), nowMilli(now))
	if err != nil {
		return nil, false, fmt.Errorf("insert working memory: %w: %w", err, memorycore.ErrStorage)
	}
	return rec, true, nil
}

func (s *Store) GetWorkingMemory(ctx context.Context, resourceID string, scope memorycore.MemoryScope) (*memorycore.WorkingMemory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, scope, content, created_at, updated_at
		FROM working_memory WHERE resource_id = ? AND scope = ?`, resourceID, string(scope))
	return scanWorkingMemory(row)
}

func scanWorkingMemory(row *sql.Row) (*memorycore.WorkingMemory, error) {
	var wm memorycore.WorkingMemory
	var scope string
	var createdAt, updatedAt int64
	if err := row.Scan(&wm.ID, &wm.ResourceID, &scope, &wm.Content, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("working memory: %w", memorycore.ErrNotFound)
		}
		return nil, fmt.Errorf("scan working memory: %w: %w", err, memorycore.ErrStorage)
	}
	wm.Scope = memorycore.MemoryScope(scope)
	wm.CreatedAt = fromMilli(createdAt)
	wm.UpdatedAt = fromMilli(updatedAt)
	return &wm, nil
}

func (s *Store) ListWorkingMemory(ctx context.Context, scope memorycore.MemoryScope) ([]*memorycore.WorkingMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, scope, content, created_at, updated_at
		FROM working_memory WHERE scope = ?`, string(scope))
	if err != nil {
		return nil, fmt.Errorf("list working memory: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()

	var out []*memorycore.WorkingMemory
	for rows.Next() {
		var wm memorycore.WorkingMemory
		var sc string
		var createdAt, updatedAt int64
		if err := rows.Scan(&wm.ID, &wm.ResourceID, &sc, &wm.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan working memory: %w: %w", err, memorycore.ErrStorage)
		}
		wm.Scope = memorycore.MemoryScope(sc)
		wm.CreatedAt = fromMilli(createdAt)
		wm.UpdatedAt = fromMilli(updatedAt)
		out = append(out, &wm)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWorkingMemory(ctx context.Context, resourceID string, scope memorycore.MemoryScope) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM working_memory WHERE resource_id = ? AND scope = ?`,
		resourceID, string(scope)); err != nil {
		return fmt.Errorf("delete working memory: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}
