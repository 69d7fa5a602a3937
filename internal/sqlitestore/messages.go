package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func (s *Store) AppendMessage(ctx context.Context, m *memorycore.Message) (*memorycore.Message, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, thread_id, resource_id, role, raw_content, search_text, injection_text,
			task_id, summary, compaction_level, created_at, message_index, token_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.ResourceID, string(m.Role), m.RawContent, m.SearchText, m.InjectionText,
		m.TaskID, m.Summary, m.CompactionLevel, nowMilli(m.CreatedAt), m.MessageIndex, m.TokenCount)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w: %w", err, memorycore.ErrStorage)
	}
	return m, nil
}

func scanMessageRow(row interface {
	Scan(dest ...any) error
}) (*memorycore.Message, error) {
	var m memorycore.Message
	var role string
	var createdAt int64
	if err := row.Scan(&m.ID, &m.ThreadID, &m.ResourceID, &role, &m.RawContent, &m.SearchText,
		&m.InjectionText, &m.TaskID, &m.Summary, &m.CompactionLevel, &createdAt, &m.MessageIndex, &m.TokenCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", memorycore.ErrNotFound)
		}
		return nil, fmt.Errorf("scan message: %w: %w", err, memorycore.ErrStorage)
	}
	m.Role = memorycore.Role(role)
	m.CreatedAt = fromMilli(createdAt)
	return &m, nil
}

const messageColumns = `id, thread_id, resource_id, role, raw_content, search_text,
	injection_text, task_id, summary, compaction_level, created_at, message_index, token_count`

func (s *Store) ListMessages(ctx context.Context, threadID, resourceID string, limit int) ([]*memorycore.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows *sql.Rows
	var err error
	switch {
	case threadID != "":
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
			WHERE thread_id = ? ORDER BY message_index DESC LIMIT ?`, threadID, limit)
	default:
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
			WHERE resource_id = ? ORDER BY created_at DESC LIMIT ?`, resourceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()

	var out []*memorycore.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	// the query returns newest-first; reverse so callers get the most
	// recent `limit` messages in chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, threadID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w: %w", err, memorycore.ErrStorage)
	}
	return n, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

// SearchMessages runs a BM25 query against the messages_fts external-
// content table, the pattern grounded on
// internal/memory/observational_store_sqlite.go's om_messages_fts join.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int, threadID string) ([]memorycore.SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	q := ftsQuery(query)
	if q == "" {
		return nil, nil
	}

	args := []any{q}
	sqlStr := `
		SELECT ` + prefixColumns("m", messageColumns) + `, bm25(messages_fts) AS score,
			bm25(messages_fts) - m.created_at * 1e-7 AS final_rank
		FROM messages m
		JOIN messages_fts ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?`
	if threadID != "" {
		sqlStr += ` AND m.thread_id = ?`
		args = append(args, threadID)
	}
	sqlStr += ` ORDER BY final_rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w: %w", err, memorycore.ErrStorage)
	}
	defer rows.Close()

	var hits []memorycore.SearchHit
	for rows.Next() {
		var m memorycore.Message
		var role string
		var createdAt int64
		var score, finalRank float64
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.ResourceID, &role, &m.RawContent, &m.SearchText,
			&m.InjectionText, &m.TaskID, &m.Summary, &m.CompactionLevel, &createdAt, &m.MessageIndex, &m.TokenCount, &score, &finalRank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w: %w", err, memorycore.ErrStorage)
		}
		m.Role = memorycore.Role(role)
		m.CreatedAt = fromMilli(createdAt)
		hits = append(hits, memorycore.SearchHit{Message: &m, MatchScore: -score, FinalRank: -finalRank})
	}
	return hits, rows.Err()
}

func (s *Store) MarkMessagesObserved(ctx context.Context, ids []string, observationSummary string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, observationSummary)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	q := fmt.Sprintf(`UPDATE messages SET summary = ?, compaction_level = compaction_level + 1 WHERE id IN (%s)`,
		strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark messages observed: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

// ftsQuery guards against FTS5 syntax errors from raw user queries by
// quoting the entire input as a single phrase token.
func ftsQuery(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(trimmed, `"`, `""`) + `"`
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
