package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func (s *Store) CreateReflection(ctx context.Context, r *memorycore.Reflection) (*memorycore.Reflection, error) {
	merged, err := encodeJSON(r.MergedFrom)
	if err != nil {
		return nil, fmt.Errorf("encode merged_from: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reflections (id, thread_id, resource_id, content, merged_from, origin_type,
			generation_count, token_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, r.ResourceID, r.Content, merged, r.OriginType,
		r.GenerationCount, r.TokenCount, nowMilli(r.CreatedAt), nowMilli(r.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert reflection: %w: %w", err, memorycore.ErrStorage)
	}
	return r, nil
}

func (s *Store) ListReflections(ctx context.Context, threadID, resourceID string, limit int) ([]*memorycore.Reflection, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows *sql.Rows
	var err error
	if threadID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, thread_id, resource_id, content, merged_from, origin_type,
				generation_count, token_count, created_at, updated_at
			FROM reflections WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?`, threadID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, thread_id, resource_id, content, merged_from, origin_type,
				generation_count, token_count, created_at, updated_at
			FROM reflections WHERE resource_id = ? ORDER BY created_at DESC LIMIT ?`, resourceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()

	var out []*memorycore.Reflection
	for rows.Next() {
		var r memorycore.Reflection
		var merged string
		var createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.ResourceID, &r.Content, &merged, &r.OriginType,
			&r.GenerationCount, &r.TokenCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan reflection: %w: %w", err, memorycore.ErrStorage)
		}
		decoded, err := decodeJSON[[]string](merged)
		if err != nil {
			return nil, fmt.Errorf("decode merged_from: %w", err)
		}
		r.MergedFrom = decoded
		r.CreatedAt = fromMilli(createdAt)
		r.UpdatedAt = fromMilli(updatedAt)
		out = append(out, &r)
	}
	// newest-first from the query; BuildStack wants oldest-first for the
	// "\n\n---\n\n" join to read chronologically.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
