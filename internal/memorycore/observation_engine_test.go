package memorycore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-memory/internal/clock"
	"github.com/normanking/cortex-memory/internal/memorycore"
	"github.com/normanking/cortex-memory/internal/sqlitestore"
)

// countingObserver returns a fixed summary and records every call.
type countingObserver struct {
	calls int
}

func (o *countingObserver) Observe(_ context.Context, _ string, unobserved []*memorycore.Message) (string, error) {
	o.calls++
	return fmt.Sprintf("observed %d messages (call %d)", len(unobserved), o.calls), nil
}

func newTestObservationEngine(t *testing.T) (*memorycore.ObservationEngine, *sqlitestore.Store) {
	t.Helper()
	store, err := sqlitestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine := memorycore.NewObservationEngine(store, memorycore.DefaultTokenCounter{}, clock.Real{}, "test-owner", zerolog.Nop())
	return engine, store
}

func smallConfig() memorycore.ObservationalMemoryConfig {
	cfg := memorycore.DefaultObservationalMemoryConfig()
	cfg.ObservationThreshold = 20
	cfg.ReflectionThreshold = 1_000_000 // keep reflection out of scope for these tests
	cfg.BufferTokens = 1_000_000        // keep the async buffer path out of scope
	return cfg
}

func TestObservationEngine_StepTriggersSynchronousObservation(t *testing.T) {
	engine, store := newTestObservationEngine(t)
	ctx := t.Context()

	cfg := smallConfig()
	_, err := store.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	obs := &countingObserver{}
	msgs := []*memorycore.Message{
		{ID: "m1", RawContent: "this message is long enough to cross the tiny test threshold easily, with extra padding content added"},
	}

	result, err := engine.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   msgs,
		StepNumber: 1,
		Observer:   obs,
	})
	require.NoError(t, err)
	assert.True(t, result.DidObserve)
	assert.Equal(t, 1, obs.calls)
	assert.NotEmpty(t, result.Record.ActiveObservations)
	assert.Empty(t, result.Messages, "the observed message must be filtered out of the remaining set")
}

func TestObservationEngine_StepSkipsObservationOnFirstStep(t *testing.T) {
	engine, store := newTestObservationEngine(t)
	ctx := t.Context()

	cfg := smallConfig()
	_, err := store.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	obs := &countingObserver{}
	msgs := []*memorycore.Message{
		{ID: "m1", RawContent: "this message is long enough to cross the tiny test threshold easily, with extra padding content added"},
	}

	// StepNumber 0 never triggers the synchronous path (only buffer
	// activation and async buffering run at step 0).
	result, err := engine.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   msgs,
		StepNumber: 0,
		Observer:   obs,
	})
	require.NoError(t, err)
	assert.False(t, result.DidObserve)
	assert.Equal(t, 0, obs.calls)
}

func TestObservationEngine_ReadOnlyNeverObserves(t *testing.T) {
	engine, store := newTestObservationEngine(t)
	ctx := t.Context()

	cfg := smallConfig()
	_, err := store.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	obs := &countingObserver{}
	msgs := []*memorycore.Message{
		{ID: "m1", RawContent: "this message is long enough to cross the tiny test threshold easily, with extra padding content added"},
	}

	result, err := engine.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   msgs,
		StepNumber: 1,
		ReadOnly:   true,
		Observer:   obs,
	})
	require.NoError(t, err)
	assert.False(t, result.DidObserve)
	assert.Equal(t, 0, obs.calls)
}

func TestObservationEngine_ObservedMessagesAreNotReObserved(t *testing.T) {
	engine, store := newTestObservationEngine(t)
	ctx := t.Context()

	cfg := smallConfig()
	_, err := store.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	obs := &countingObserver{}
	msg := &memorycore.Message{ID: "m1", RawContent: "this message is long enough to cross the tiny test threshold easily, with extra padding content added"}

	_, err = engine.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   []*memorycore.Message{msg},
		StepNumber: 1,
		Observer:   obs,
	})
	require.NoError(t, err)
	require.Equal(t, 1, obs.calls)

	// Re-running Step with the same already-observed message and no new
	// ones must not call Observe again.
	result, err := engine.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   []*memorycore.Message{msg},
		StepNumber: 2,
		Observer:   obs,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, obs.calls, "already-observed message must not be re-observed")
	assert.False(t, result.DidObserve)
}

func TestObservationEngine_ConcurrentStepsDoNotDoubleObserve(t *testing.T) {
	store, err := sqlitestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := smallConfig()
	ctx := t.Context()
	_, err = store.GetOrCreateObservationalMemory(ctx, memorycore.ScopeResource, "", "resource-1", cfg)
	require.NoError(t, err)

	msg := &memorycore.Message{ID: "m1", RawContent: "this message is long enough to cross the tiny test threshold easily, with extra padding content added"}

	// Two engine instances with different owner ids step over the same
	// message one after the other; each acquires and releases the lease,
	// and only the first observes the message. This exercises the lease
	// acquire/release path rather than asserting exclusivity timing.
	engineA := memorycore.NewObservationEngine(store, memorycore.DefaultTokenCounter{}, clock.Real{}, "owner-a", zerolog.Nop())
	obsA := &countingObserver{}

	_, err = engineA.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   []*memorycore.Message{msg},
		StepNumber: 1,
		Observer:   obsA,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, obsA.calls)

	engineB := memorycore.NewObservationEngine(store, memorycore.DefaultTokenCounter{}, clock.Real{}, "owner-b", zerolog.Nop())
	obsB := &countingObserver{}

	_, err = engineB.Step(ctx, memorycore.StepInput{
		ResourceID: "resource-1",
		Scope:      memorycore.ScopeResource,
		Messages:   []*memorycore.Message{msg},
		StepNumber: 2,
		Observer:   obsB,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, obsB.calls, "a message observed by one engine is not observed again by another")
}

func TestDefaultLeaseTTL(t *testing.T) {
	assert.Equal(t, 30*time.Second, memorycore.DefaultLeaseTTL)
}
