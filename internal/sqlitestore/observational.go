package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/cortex-memory/internal/memorycore"
)

func (s *Store) GetOrCreateObservationalMemory(ctx context.Context, scope memorycore.MemoryScope, threadID, resourceID string, cfg memorycore.ObservationalMemoryConfig) (*memorycore.ObservationalMemory, error) {
	key := memorycore.LookupKeyFor(scope, threadID, resourceID)

	row := s.db.QueryRowContext(ctx, obsSelectByLookupKey, key)
	rec, err := scanObservationalMemory(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, memorycore.ErrNotFound) {
		return nil, err
	}

	now := nowUTC()
	rec = &memorycore.ObservationalMemory{
		ID:                 uuid.New().String(),
		ThreadID:           threadID,
		ResourceID:         resourceID,
		Scope:              scope,
		LookupKey:          key,
		Config:             cfg,
		ObservedMessageIDs: make(map[string]struct{}),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.insertObservationalMemory(ctx, rec); err != nil {
		// another writer may have raced us to create the same lookup_key;
		// re-fetch rather than fail.
		row := s.db.QueryRowContext(ctx, obsSelectByLookupKey, key)
		if rec2, err2 := scanObservationalMemory(row); err2 == nil {
			return rec2, nil
		}
		return nil, fmt.Errorf("create observational memory: %w: %w", err, memorycore.ErrStorage)
	}
	return rec, nil
}

const obsColumns = `id, thread_id, resource_id, scope, lookup_key, config, active_observations,
	buffered_observation_chunks, observed_message_ids, is_observing, is_reflecting,
	is_buffering_observation, is_buffering_reflection, lock_owner_id, lock_expires_at,
	lock_operation_id, last_heartbeat_at, last_buffered_at_tokens, last_buffered_at_time,
	last_observed_at, generation_count, created_at, updated_at`

const obsSelectByLookupKey = `SELECT ` + obsColumns + ` FROM observational_memory WHERE lookup_key = ?`
const obsSelectByID = `SELECT ` + obsColumns + ` FROM observational_memory WHERE id = ?`

func (s *Store) insertObservationalMemory(ctx context.Context, rec *memorycore.ObservationalMemory) error {
	cfg, err := encodeJSON(rec.Config)
	if err != nil {
		return err
	}
	chunks, err := encodeJSON(rec.BufferedObservationChunks)
	if err != nil {
		return err
	}
	ids, err := encodeJSON(observedIDsList(rec.ObservedMessageIDs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO observational_memory (`+obsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, rec.ResourceID, string(rec.Scope), rec.LookupKey, cfg, rec.ActiveObservations,
		chunks, ids, boolInt(rec.IsObserving), boolInt(rec.IsReflecting), boolInt(rec.IsBufferingObservation),
		boolInt(rec.IsBufferingReflection), rec.Lease.OwnerID, nullableMilliTime(rec.Lease.ExpiresAt), rec.Lease.OperationID,
		nullableMilliTime(rec.Lease.LastHeartbeatAt), rec.LastBufferedAtTokens, nullableMilli(rec.LastBufferedAtTime),
		nullableMilli(rec.LastObservedAt), rec.GenerationCount, nowMilli(rec.CreatedAt), nowMilli(rec.UpdatedAt))
	return err
}

func scanObservationalMemory(row *sql.Row) (*memorycore.ObservationalMemory, error) {
	var rec memorycore.ObservationalMemory
	var scope, cfg, chunks, ids string
	var isObserving, isReflecting, isBufferingObs, isBufferingRefl int
	var lockOwner, lockOpID string
	var lockExpiresAt, lastHeartbeatAt int64
	var lastBufferedAtTokens sql.NullInt64
	var lastBufferedAtTime, lastObservedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&rec.ID, &rec.ThreadID, &rec.ResourceID, &scope, &rec.LookupKey, &cfg, &rec.ActiveObservations,
		&chunks, &ids, &isObserving, &isReflecting, &isBufferingObs, &isBufferingRefl,
		&lockOwner, &lockExpiresAt, &lockOpID, &lastHeartbeatAt, &lastBufferedAtTokens, &lastBufferedAtTime,
		&lastObservedAt, &rec.GenerationCount, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("observational memory: %w", memorycore.ErrNotFound)
		}
		return nil, fmt.Errorf("scan observational memory: %w: %w", err, memorycore.ErrStorage)
	}

	rec.Scope = memorycore.MemoryScope(scope)
	decodedCfg, err := decodeJSON[memorycore.ObservationalMemoryConfig](cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	rec.Config = decodedCfg

	decodedChunks, err := decodeJSON[[]memorycore.BufferedObservationChunk](chunks)
	if err != nil {
		return nil, fmt.Errorf("decode buffered chunks: %w", err)
	}
	rec.BufferedObservationChunks = decodedChunks

	decodedIDs, err := decodeJSON[[]string](ids)
	if err != nil {
		return nil, fmt.Errorf("decode observed ids: %w", err)
	}
	rec.ObservedMessageIDs = make(map[string]struct{}, len(decodedIDs))
	for _, id := range decodedIDs {
		rec.ObservedMessageIDs[id] = struct{}{}
	}

	rec.IsObserving = isObserving != 0
	rec.IsReflecting = isReflecting != 0
	rec.IsBufferingObservation = isBufferingObs != 0
	rec.IsBufferingReflection = isBufferingRefl != 0

	rec.Lease = memorycore.Lease{
		OwnerID:         lockOwner,
		ExpiresAt:       fromMilli(lockExpiresAt),
		OperationID:     lockOpID,
		LastHeartbeatAt: fromMilli(lastHeartbeatAt),
	}

	if lastBufferedAtTokens.Valid {
		v := int(lastBufferedAtTokens.Int64)
		rec.LastBufferedAtTokens = &v
	}
	if lastBufferedAtTime.Valid {
		t := fromMilli(lastBufferedAtTime.Int64)
		rec.LastBufferedAtTime = &t
	}
	if lastObservedAt.Valid {
		t := fromMilli(lastObservedAt.Int64)
		rec.LastObservedAt = &t
	}
	rec.CreatedAt = fromMilli(createdAt)
	rec.UpdatedAt = fromMilli(updatedAt)
	return &rec, nil
}

func (s *Store) SaveObservationalMemory(ctx context.Context, rec *memorycore.ObservationalMemory) error {
	cfg, err := encodeJSON(rec.Config)
	if err != nil {
		return err
	}
	chunks, err := encodeJSON(rec.BufferedObservationChunks)
	if err != nil {
		return err
	}
	ids, err := encodeJSON(observedIDsList(rec.ObservedMessageIDs))
	if err != nil {
		return err
	}
	rec.UpdatedAt = nowUTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE observational_memory SET
			config = ?, active_observations = ?, buffered_observation_chunks = ?, observed_message_ids = ?,
			is_observing = ?, is_reflecting = ?, is_buffering_observation = ?, is_buffering_reflection = ?,
			lock_owner_id = ?, lock_expires_at = ?, lock_operation_id = ?, last_heartbeat_at = ?,
			last_buffered_at_tokens = ?, last_buffered_at_time = ?, last_observed_at = ?,
			generation_count = ?, updated_at = ?
		WHERE id = ?`,
		cfg, rec.ActiveObservations, chunks, ids,
		boolInt(rec.IsObserving), boolInt(rec.IsReflecting), boolInt(rec.IsBufferingObservation), boolInt(rec.IsBufferingReflection),
		rec.Lease.OwnerID, nullableMilliTime(rec.Lease.ExpiresAt), rec.Lease.OperationID, nullableMilliTime(rec.Lease.LastHeartbeatAt),
		rec.LastBufferedAtTokens, nullableMilli(rec.LastBufferedAtTime), nullableMilli(rec.LastObservedAt),
		rec.GenerationCount, nowMilli(rec.UpdatedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("save observational memory: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

// AcquireLease implements the lease protocol's single conditional UPDATE
// (§4.5): succeeds iff no owner, an expired owner, or the same owner.
func (s *Store) AcquireLease(ctx context.Context, recordID, ownerID string, now time.Time, ttl time.Duration) (string, error) {
	opID := uuid.New().String()
	expiresAt := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		UPDATE observational_memory
		SET lock_owner_id = ?, lock_expires_at = ?, lock_operation_id = ?, last_heartbeat_at = ?
		WHERE id = ? AND (lock_owner_id = '' OR lock_expires_at < ? OR lock_owner_id = ?)`,
		ownerID, nowMilli(expiresAt), opID, nowMilli(now), recordID, nowMilli(now), ownerID)
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w: %w", err, memorycore.ErrStorage)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return "", fmt.Errorf("lease held by another owner: %w", memorycore.ErrConflict)
	}
	return opID, nil
}

// HeartbeatLease extends expiry conditional on the exact (owner, operation).
func (s *Store) HeartbeatLease(ctx context.Context, recordID, ownerID, operationID string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE observational_memory
		SET lock_expires_at = ?, last_heartbeat_at = ?
		WHERE id = ? AND lock_owner_id = ? AND lock_operation_id = ?`,
		nowMilli(now.Add(ttl)), nowMilli(now), recordID, ownerID, operationID)
	if err != nil {
		return false, fmt.Errorf("heartbeat lease: %w: %w", err, memorycore.ErrStorage)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseLease clears all four lease fields conditional on the triple.
func (s *Store) ReleaseLease(ctx context.Context, recordID, ownerID, operationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE observational_memory
		SET lock_owner_id = '', lock_expires_at = 0, lock_operation_id = '', last_heartbeat_at = 0
		WHERE id = ? AND lock_owner_id = ? AND lock_operation_id = ?`,
		recordID, ownerID, operationID)
	if err != nil {
		return fmt.Errorf("release lease: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

// SweepStaleLease clears an expired lease unconditionally of owner, used
// once the caller has already established no local in-flight op exists.
func (s *Store) SweepStaleLease(ctx context.Context, recordID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE observational_memory
		SET lock_owner_id = '', lock_expires_at = 0, lock_operation_id = '', last_heartbeat_at = 0
		WHERE id = ? AND lock_expires_at < ?`,
		recordID, nowMilli(now))
	if err != nil {
		return fmt.Errorf("sweep stale lease: %w: %w", err, memorycore.ErrStorage)
	}
	return nil
}

func observedIDsList(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableMilliTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
