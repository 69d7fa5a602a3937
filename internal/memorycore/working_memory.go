package memorycore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// WorkingMemoryManager owns WorkingMemory rows: a scoped markdown blob
// with upsert semantics. Grounded loosely on core_store.go's
// CoreMemoryStore, generalized from per-fact rows to a single blob per
// (resourceID, scope) as the spec requires.
type WorkingMemoryManager struct {
	store WorkingMemoryStore
	log   zerolog.Logger
}

// NewWorkingMemoryManager constructs a WorkingMemoryManager over store.
func NewWorkingMemoryManager(store WorkingMemoryStore, log zerolog.Logger) *WorkingMemoryManager {
	return &WorkingMemoryManager{store: store, log: log.With().Str("component", "working_memory").Logger()}
}

// Upsert ensures exactly one WorkingMemory record for (resourceID, scope),
// overwriting content. Satisfies L-1: calling twice with identical
// content is a no-op on the second call (the Store's conditional update
// compares a content hash before touching the row).
func (wm *WorkingMemoryManager) Upsert(ctx context.Context, resourceID string, scope MemoryScope, content string) (*WorkingMemory, error) {
	rec, _, err := wm.store.UpsertWorkingMemory(ctx, resourceID, scope, content)
	if err != nil {
		return nil, fmt.Errorf("upsert working memory: %w", err)
	}
	return rec, nil
}

// Get fetches the WorkingMemory record for (resourceID, scope).
func (wm *WorkingMemoryManager) Get(ctx context.Context, resourceID string, scope MemoryScope) (*WorkingMemory, error) {
	rec, err := wm.store.GetWorkingMemory(ctx, resourceID, scope)
	if err != nil {
		return nil, fmt.Errorf("get working memory: %w", err)
	}
	return rec, nil
}

// List returns every WorkingMemory record in a scope.
func (wm *WorkingMemoryManager) List(ctx context.Context, scope MemoryScope) ([]*WorkingMemory, error) {
	recs, err := wm.store.ListWorkingMemory(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list working memory: %w", err)
	}
	return recs, nil
}

// Delete removes the WorkingMemory record for (resourceID, scope).
func (wm *WorkingMemoryManager) Delete(ctx context.Context, resourceID string, scope MemoryScope) error {
	if err := wm.store.DeleteWorkingMemory(ctx, resourceID, scope); err != nil {
		return fmt.Errorf("delete working memory: %w", err)
	}
	return nil
}
