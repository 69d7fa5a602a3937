// Package metrics provides SQLite-based aggregation of memory-engine bus
// events (observation/reflection lifecycle, task updates), subscribed
// through a Collector and queryable for operator-facing summaries such as
// `memoryctl`'s per-command stats line.
package metrics

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/normanking/cortex-memory/internal/bus"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// EventMetric records one completed bus.Event for durable aggregation.
type EventMetric struct {
	ID              int64        `json:"id"`
	EventType       bus.EventType `json:"event_type"`
	ScopeKey        string       `json:"scope_key"` // "thread:<id>" or "resource:<id>"
	LatencyMs       int64        `json:"latency_ms"`
	GenerationCount int          `json:"generation_count"`
	Success         bool         `json:"success"`
	ErrorMsg        string       `json:"error_msg,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// DailyStats contains aggregated metrics for a single day.
type DailyStats struct {
	Date            string  `json:"date"` // YYYY-MM-DD
	TotalEvents     int64   `json:"total_events"`
	SuccessfulCount int64   `json:"successful_count"`
	FailedCount     int64   `json:"failed_count"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

// EventTypeStats contains per-event-type metrics over a window.
type EventTypeStats struct {
	EventType    bus.EventType `json:"event_type"`
	Count        int64        `json:"count"`
	SuccessRate  float64      `json:"success_rate"`
	AvgLatencyMs float64      `json:"avg_latency_ms"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store provides SQLite-backed metrics storage, backed by the same
// database connection as the engine's own sqlitestore.Store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// In-memory counters for high-frequency summary queries.
	eventCount     int64
	successCount   int64
	totalLatencyMs int64
}

// NewStore creates a new metrics store using the provided database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize metrics schema: %w", err)
	}

	return s, nil
}

// initSchema creates the metrics tables if they don't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metrics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		generation_count INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_msg TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_events_created_at ON metrics_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_metrics_events_type ON metrics_events(event_type);

	CREATE TABLE IF NOT EXISTS metrics_daily (
		date TEXT PRIMARY KEY,
		total_events INTEGER DEFAULT 0,
		successful_count INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		total_latency_ms INTEGER DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ═══════════════════════════════════════════════════════════════════════════════
// RECORDING METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// RecordEvent records one completed lifecycle event (observation,
// reflection, or task update) for durable aggregation.
func (s *Store) RecordEvent(metric *EventMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO metrics_events (event_type, scope_key, latency_ms, generation_count, success, error_msg)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(metric.EventType), metric.ScopeKey, metric.LatencyMs,
		metric.GenerationCount, metric.Success, metric.ErrorMsg)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	s.eventCount++
	if metric.Success {
		s.successCount++
	}
	s.totalLatencyMs += metric.LatencyMs

	return s.updateDailyStats(metric)
}

// updateDailyStats updates the daily aggregates.
func (s *Store) updateDailyStats(metric *EventMetric) error {
	date := time.Now().Format("2006-01-02")

	_, err := s.db.Exec(`
		INSERT INTO metrics_daily (date, total_events, successful_count, failed_count, total_latency_ms)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_events = total_events + 1,
			successful_count = successful_count + ?,
			failed_count = failed_count + ?,
			total_latency_ms = total_latency_ms + ?,
			updated_at = CURRENT_TIMESTAMP
	`,
		date, boolToInt(metric.Success), boolToInt(!metric.Success), metric.LatencyMs,
		boolToInt(metric.Success), boolToInt(!metric.Success), metric.LatencyMs,
	)

	return err
}

// ═══════════════════════════════════════════════════════════════════════════════
// QUERY METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// GetDailyStats returns stats for the specified date (YYYY-MM-DD).
func (s *Store) GetDailyStats(date string) (*DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DailyStats{Date: date}

	var totalLatency int64
	err := s.db.QueryRow(`
		SELECT total_events, successful_count, failed_count, total_latency_ms
		FROM metrics_daily WHERE date = ?
	`, date).Scan(&stats.TotalEvents, &stats.SuccessfulCount, &stats.FailedCount, &totalLatency)

	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}

	if stats.TotalEvents > 0 {
		stats.AvgLatencyMs = float64(totalLatency) / float64(stats.TotalEvents)
	}

	return stats, nil
}

// GetTodayStats returns stats for today.
func (s *Store) GetTodayStats() (*DailyStats, error) {
	return s.GetDailyStats(time.Now().Format("2006-01-02"))
}

// GetEventTypeStats returns per-event-type statistics for the last N days.
func (s *Store) GetEventTypeStats(days int) ([]EventTypeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:04:05")

	rows, err := s.db.Query(`
		SELECT event_type,
		       COUNT(*) as event_count,
		       SUM(CASE WHEN success THEN 1 ELSE 0 END) * 100.0 / COUNT(*) as success_rate,
		       AVG(latency_ms) as avg_latency
		FROM metrics_events
		WHERE created_at >= ?
		GROUP BY event_type
		ORDER BY event_count DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []EventTypeStats
	for rows.Next() {
		var eventType string
		var st EventTypeStats
		if err := rows.Scan(&eventType, &st.Count, &st.SuccessRate, &st.AvgLatencyMs); err != nil {
			return nil, err
		}
		st.EventType = bus.EventType(eventType)
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// GetRecentEvents returns the most recent N recorded events.
func (s *Store) GetRecentEvents(limit int) ([]EventMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, event_type, scope_key, latency_ms, generation_count, success, error_msg, created_at
		FROM metrics_events
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []EventMetric
	for rows.Next() {
		var m EventMetric
		var eventType string
		var errorMsg sql.NullString
		if err := rows.Scan(&m.ID, &eventType, &m.ScopeKey, &m.LatencyMs,
			&m.GenerationCount, &m.Success, &errorMsg, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.EventType = bus.EventType(eventType)
		if errorMsg.Valid {
			m.ErrorMsg = errorMsg.String
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════════
// SUMMARY METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// Summary is a quick in-memory snapshot of current metrics, cheap enough to
// print after every memoryctl command.
type Summary struct {
	TotalEvents  int64   `json:"total_events"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// GetSummary returns a quick summary of current metrics.
func (s *Store) GetSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avgLatency, successRate float64
	if s.eventCount > 0 {
		avgLatency = float64(s.totalLatencyMs) / float64(s.eventCount)
		successRate = float64(s.successCount) / float64(s.eventCount) * 100
	}

	return Summary{
		TotalEvents:  s.eventCount,
		SuccessRate:  successRate,
		AvgLatencyMs: avgLatency,
	}
}

// Reset clears in-memory counters (for testing).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCount = 0
	s.successCount = 0
	s.totalLatencyMs = 0
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
