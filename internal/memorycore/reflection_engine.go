package memorycore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReflectionTimeoutError reports that a Reflector call exceeded its
// deadline. The caller clears is_reflecting and re-raises without
// mutating active_observations.
type ReflectionTimeoutError struct {
	ThreadID string
	Timeout  time.Duration
}

func (e *ReflectionTimeoutError) Error() string {
	return fmt.Sprintf("reflection timed out after %s for thread %s", e.Timeout, e.ThreadID)
}

// ReflectionOutput is the reflector's parsed bracketed-section output.
type ReflectionOutput struct {
	Observations     string
	CurrentTask      string
	SuggestedResponse string
	TokenCount       int
}

// Reflector condenses active_observations into a new generational
// snapshot, optionally guided by a compression-guidance hint. Grounded on
// reflector_agent.go's ReflectNow, generalized from its substring-matched
// pattern_type vocabulary to the bracketed <observations>/<current-task>/
// <suggested-response> contract.
type Reflector interface {
	Reflect(ctx context.Context, activeObservations, compressionGuidance string, timeout time.Duration) (*ReflectionOutput, error)
}

// compressionGuidance indexes the retry-count guidance table (§4.6): 0 =
// no guidance, 1 = "more condensation", 2 = "aggressive condensation".
func compressionGuidance(retry int) string {
	switch {
	case retry <= 0:
		return ""
	case retry == 1:
		return "more condensation"
	default:
		return "aggressive condensation"
	}
}

// defaultReflectionTimeout is the spec's literal 30-second reflector
// deadline.
const defaultReflectionTimeout = 30 * time.Second

// ReflectionEngine drives condensation of an ObservationalMemory record's
// active_observations into an immutable Reflection row, advancing
// generation_count. Grounded on reflector_agent.go's ReflectNow/Run.
type ReflectionEngine struct {
	store Store
	clock interface{ Now() time.Time }
	lease *leaseManager
	log   zerolog.Logger
}

// NewReflectionEngine constructs a ReflectionEngine sharing the lease
// owner identity with an ObservationEngine (both guard the same
// ObservationalMemory record).
func NewReflectionEngine(store Store, clk interface{ Now() time.Time }, ownerID string, log zerolog.Logger) *ReflectionEngine {
	return &ReflectionEngine{
		store: store,
		clock: clk,
		lease: newLeaseManager(store, clk, ownerID),
		log:   log.With().Str("component", "reflection_engine").Logger(),
	}
}

// Reflect condenses rec.ActiveObservations via reflector, retrying up to
// maxRetries times with escalating compression guidance when the output is
// not smaller than the input. On reflector error (including timeout),
// is_reflecting is cleared and the error is returned without mutating
// active_observations.
func (r *ReflectionEngine) Reflect(ctx context.Context, rec *ObservationalMemory, reflector Reflector, maxRetries int) (*Reflection, error) {
	opID, err := r.lease.acquire(ctx, rec.ID)
	if err != nil {
		if isConflict(err) {
			return nil, nil // another instance is reflecting; caller treats as no-op.
		}
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	defer r.lease.release(ctx, rec.ID, opID)

	rec.IsReflecting = true
	if err := r.store.SaveObservationalMemory(ctx, rec); err != nil {
		rec.IsReflecting = false
		return nil, fmt.Errorf("set is_reflecting: %w", err)
	}

	var out *ReflectionOutput
	for attempt := 0; attempt <= maxRetries; attempt++ {
		guidance := compressionGuidance(attempt)
		candidate, err := r.reflectOnce(ctx, rec, reflector, guidance)
		if err != nil {
			rec.IsReflecting = false
			if saveErr := r.store.SaveObservationalMemory(ctx, rec); saveErr != nil {
				r.log.Warn().Err(saveErr).Msg("clear is_reflecting after reflector failure")
			}
			return nil, err
		}
		out = candidate
		if len(out.Observations) < len(rec.ActiveObservations) || attempt == maxRetries {
			break
		}
	}

	now := r.clock.Now()
	reflection := &Reflection{
		ID:              uuid.New().String(),
		ThreadID:        rec.ThreadID,
		ResourceID:      rec.ResourceID,
		Content:         out.Observations,
		MergedFrom:      nil,
		OriginType:      "reflection",
		GenerationCount: rec.GenerationCount + 1,
		TokenCount:      out.TokenCount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stored, err := r.store.CreateReflection(ctx, reflection)
	if err != nil {
		rec.IsReflecting = false
		if saveErr := r.store.SaveObservationalMemory(ctx, rec); saveErr != nil {
			r.log.Warn().Err(saveErr).Msg("clear is_reflecting after reflection persist failure")
		}
		return nil, fmt.Errorf("create reflection: %w", err)
	}

	rec.ActiveObservations = out.Observations
	rec.GenerationCount++
	rec.IsReflecting = false
	if err := r.store.SaveObservationalMemory(ctx, rec); err != nil {
		return nil, fmt.Errorf("save after reflection: %w", err)
	}

	return stored, nil
}

func (r *ReflectionEngine) reflectOnce(ctx context.Context, rec *ObservationalMemory, reflector Reflector, guidance string) (*ReflectionOutput, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, defaultReflectionTimeout)
	defer cancel()

	out, err := reflector.Reflect(deadlineCtx, rec.ActiveObservations, guidance, defaultReflectionTimeout)
	if err != nil {
		if errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) {
			return nil, &ReflectionTimeoutError{ThreadID: rec.ThreadID, Timeout: defaultReflectionTimeout}
		}
		return nil, fmt.Errorf("reflect: %w", err)
	}
	return out, nil
}

// ParseReflectionOutput scans a reflector's raw text for the three
// bracketed sections. Each section is located on its own (the first open
// tag, then the first matching close tag after it), so reordered sections
// still parse; a nested tag of the same name is not matched. A missing
// section is left empty rather than failing the whole parse, except
// Observations, which falls back to the whole trimmed text.
func ParseReflectionOutput(raw string) *ReflectionOutput {
	out := &ReflectionOutput{}
	out.Observations = extractTag(raw, "observations")
	out.CurrentTask = extractTag(raw, "current-task")
	out.SuggestedResponse = extractTag(raw, "suggested-response")
	if out.Observations == "" {
		out.Observations = strings.TrimSpace(raw)
	}
	return out
}

func extractTag(raw, tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(raw, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(raw[start:], closeTag)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(raw[start : start+end])
}
