package memorycore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortex-memory/internal/cognitive"
	"github.com/normanking/cortex-memory/internal/logging"
)

// Observer is the LLM collaborator that turns active observations plus a
// batch of unobserved messages into new observation text. Any
// cognitive.SimpleChatProvider (Ollama, Claude HTTP adapter, a test stub)
// plugs in through NewChatObserver, the way observer_agent.go's Run wraps
// a provider behind ObserverSystemPrompt.
type Observer interface {
	Observe(ctx context.Context, activeObservations string, unobserved []*Message) (string, error)
}

// chatObserver adapts a cognitive.SimpleChatProvider into an Observer using
// a fixed system prompt, mirroring observer_agent.go's ObserverSystemPrompt
// constant.
type chatObserver struct {
	provider cognitive.SimpleChatProvider
}

// NewChatObserver wraps provider as an Observer.
func NewChatObserver(provider cognitive.SimpleChatProvider) Observer {
	return &chatObserver{provider: provider}
}

const observerSystemPrompt = `You maintain a running, condensed observation log of a conversation.
Given the current observation log and a batch of new messages, produce an
updated observation: note decisions made, facts established, and open
threads. Be terse. Do not repeat the existing log verbatim; extend it.`

func (o *chatObserver) Observe(ctx context.Context, activeObservations string, unobserved []*Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Current observations:\n")
	if activeObservations == "" {
		sb.WriteString("(none yet)\n\n")
	} else {
		sb.WriteString(activeObservations)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New messages:\n")
	for _, m := range unobserved {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.RawContent)
	}

	return o.provider.Chat(ctx, []cognitive.ChatMessage{
		{Role: "user", Content: sb.String()},
	}, observerSystemPrompt)
}

// StepInput is the input to ObservationEngine.Step.
type StepInput struct {
	ThreadID    string
	ResourceID  string
	Scope       MemoryScope
	Messages    []*Message
	StepNumber  int
	ReadOnly    bool
	Observer    Observer
	// OtherThreadTokens lets a caller supply resource-scope sibling-thread
	// token contribution; 0 in the initial wiring (the interface is
	// preserved for a future cross-thread accounting pass).
	OtherThreadTokens int
	// Reflector, when non-nil, is the configured reflector model (§4.5
	// step 7). Step runs reflection inline when active-observation tokens
	// reach ReflectionThreshold.
	Reflector Reflector
}

// StepResult is the outcome of one ObservationEngine.Step call.
type StepResult struct {
	Messages            []*Message
	Record              *ObservationalMemory
	ObservationsInjected bool
	DidObserve          bool
}

// ObservationEngine is the heart of the system: it maintains per-scope
// ObservationalMemory records and drives the three-mode observer pipeline
// (buffered-async, synchronous, and buffer-activation). Grounded on
// observer_agent.go's CompressNow/checkAndCompress, generalized from a
// single threshold check into the full state machine and DB-backed lease
// described for this subsystem (the teacher has no DB-backed lease of its
// own; see lease.go).
type ObservationEngine struct {
	store      Store
	tokens     TokenCounter
	clock      interface{ Now() time.Time }
	lease      *leaseManager
	reflection *ReflectionEngine
	log        zerolog.Logger
}

// NewObservationEngine constructs an ObservationEngine. ownerID should be a
// stable per-process identity (e.g. hostname+pid) used as the lease owner;
// it is shared with the ReflectionEngine instance driving step 7's
// reflection trigger, since both guard the same ObservationalMemory row.
func NewObservationEngine(store Store, tokens TokenCounter, clk interface{ Now() time.Time }, ownerID string, log zerolog.Logger) *ObservationEngine {
	return &ObservationEngine{
		store:      store,
		tokens:     tokens,
		clock:      clk,
		lease:      newLeaseManager(store, clk, ownerID),
		reflection: NewReflectionEngine(store, clk, ownerID, log),
		log:        log.With().Str("component", "observation_engine").Logger(),
	}
}

// Step runs one pass of the algorithm: stale-flag sweep, buffer activation,
// unobserved-set computation, async buffering, synchronous observation.
func (e *ObservationEngine) Step(ctx context.Context, in StepInput) (*StepResult, error) {
	rec, err := e.store.GetOrCreateObservationalMemory(ctx, in.Scope, in.ThreadID, in.ResourceID, DefaultObservationalMemoryConfig())
	if err != nil {
		return nil, fmt.Errorf("get or create observational memory: %w", err)
	}

	e.lease.sweepStaleFlags(ctx, rec)

	currentObservationTokens := e.tokens.CountString(rec.ActiveObservations)
	allMessageTokens := e.tokens.CountMessages(in.Messages)
	pendingTokens := 0
	if rec.LastBufferedAtTokens != nil {
		pendingTokens = *rec.LastBufferedAtTokens
	}
	pending := allMessageTokens + in.OtherThreadTokens + pendingTokens + currentObservationTokens
	effectiveThreshold := rec.Config.ObservationThreshold - currentObservationTokens

	// Step 3: buffer activation, step 0 only.
	if in.StepNumber == 0 && len(rec.BufferedObservationChunks) > 0 {
		activation := int(rec.Config.BufferActivation * float64(rec.Config.ObservationThreshold))
		if pending >= activation {
			var sb strings.Builder
			sb.WriteString(rec.ActiveObservations)
			for _, chunk := range rec.BufferedObservationChunks {
				if sb.Len() > 0 {
					sb.WriteString("\n\n")
				}
				sb.WriteString(chunk.Content)
			}
			rec.ActiveObservations = sb.String()
			rec.BufferedObservationChunks = nil
			rec.IsBufferingObservation = false
			if err := e.store.SaveObservationalMemory(ctx, rec); err != nil {
				return nil, fmt.Errorf("save after buffer activation: %w", err)
			}
			currentObservationTokens = e.tokens.CountString(rec.ActiveObservations)
			effectiveThreshold = rec.Config.ObservationThreshold - currentObservationTokens
		}
	}

	unobserved := unobservedMessages(rec, in.Messages)

	didObserve := false

	tokensSinceLastBuffer := pending
	if rec.LastBufferedAtTokens != nil {
		tokensSinceLastBuffer = pending - *rec.LastBufferedAtTokens
	}

	if !in.ReadOnly && pending < effectiveThreshold && len(unobserved) > 0 && tokensSinceLastBuffer >= rec.Config.BufferTokens {
		if err := e.startAsyncBuffer(ctx, rec, in.Observer, unobserved, pending); err != nil {
			e.log.Warn().Err(err).Str("record_id", rec.ID).Msg("start async buffer")
		}
	}

	if !in.ReadOnly && in.StepNumber > 0 && pending >= effectiveThreshold && len(unobserved) > 0 {
		observed, err := e.observeSync(ctx, rec, in.Observer, unobserved)
		if err != nil {
			e.log.Warn().Err(err).Str("record_id", rec.ID).Msg("synchronous observation")
		} else {
			didObserve = observed
		}
	}

	if !in.ReadOnly && in.Reflector != nil && e.tokens.CountString(rec.ActiveObservations) >= rec.Config.ReflectionThreshold {
		if _, err := e.reflection.Reflect(ctx, rec, in.Reflector, 2); err != nil {
			e.log.Warn().Err(err).Str("record_id", rec.ID).Msg("reflection")
		}
	}

	remaining := filterObserved(rec, in.Messages)
	return &StepResult{
		Messages:             remaining,
		Record:               rec,
		ObservationsInjected: rec.ActiveObservations != "",
		DidObserve:           didObserve,
	}, nil
}

// observeSync runs the synchronous observation path (§4.5): acquire lease,
// set is_observing, call Observer, append+extend+clear, release.
func (e *ObservationEngine) observeSync(ctx context.Context, rec *ObservationalMemory, obs Observer, unobserved []*Message) (bool, error) {
	opID, err := e.lease.acquire(ctx, rec.ID)
	if err != nil {
		if isConflict(err) {
			return false, nil // another instance is observing; skip silently.
		}
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	defer e.lease.release(ctx, rec.ID, opID)

	rec.IsObserving = true
	if err := e.store.SaveObservationalMemory(ctx, rec); err != nil {
		rec.IsObserving = false
		return false, fmt.Errorf("set is_observing: %w", err)
	}

	text, err := obs.Observe(ctx, rec.ActiveObservations, unobserved)
	if err != nil {
		rec.IsObserving = false
		if saveErr := e.store.SaveObservationalMemory(ctx, rec); saveErr != nil {
			e.log.Warn().Err(saveErr).Msg("clear is_observing after observer failure")
		}
		return false, fmt.Errorf("observe: %w", err)
	}

	if rec.ActiveObservations != "" {
		rec.ActiveObservations += "\n\n" + text
	} else {
		rec.ActiveObservations = text
	}
	if rec.ObservedMessageIDs == nil {
		rec.ObservedMessageIDs = make(map[string]struct{})
	}
	for _, m := range unobserved {
		rec.ObservedMessageIDs[m.ID] = struct{}{}
	}
	now := e.clock.Now()
	rec.LastObservedAt = &now
	rec.IsObserving = false

	if err := e.store.SaveObservationalMemory(ctx, rec); err != nil {
		return false, fmt.Errorf("save observation: %w", err)
	}
	return true, nil
}

// startAsyncBuffer runs the buffered observation path as a detached
// goroutine (§4.5): it sets is_buffering_observation/last_buffered_at_*
// synchronously, then runs the Observer call in the background and
// appends a BufferedObservationChunk on success.
func (e *ObservationEngine) startAsyncBuffer(ctx context.Context, rec *ObservationalMemory, obs Observer, unobserved []*Message, pending int) error {
	now := e.clock.Now()
	rec.IsBufferingObservation = true
	rec.LastBufferedAtTokens = &pending
	rec.LastBufferedAtTime = &now
	if err := e.store.SaveObservationalMemory(ctx, rec); err != nil {
		rec.IsBufferingObservation = false
		return fmt.Errorf("set is_buffering_observation: %w", err)
	}
	e.lease.markInFlight(rec.ID)

	recordID := rec.ID
	msgTokens := e.tokens.CountMessages(unobserved)
	ids := make([]string, len(unobserved))
	for i, m := range unobserved {
		ids[i] = m.ID
	}

	detached := logging.DetachContext(ctx)
	go func() {
		defer e.lease.clearInFlight(recordID)

		current, err := e.store.GetOrCreateObservationalMemory(detached, rec.Scope, rec.ThreadID, rec.ResourceID, rec.Config)
		if err != nil {
			e.log.Warn().Err(err).Str("record_id", recordID).Msg("reload record for async buffer")
			return
		}

		text, err := obs.Observe(detached, current.ActiveObservations, unobserved)
		if err != nil {
			current.IsBufferingObservation = false
			if saveErr := e.store.SaveObservationalMemory(detached, current); saveErr != nil {
				e.log.Warn().Err(saveErr).Msg("clear is_buffering_observation after failure")
			}
			return
		}

		current.BufferedObservationChunks = append(current.BufferedObservationChunks, BufferedObservationChunk{
			Content:       text,
			MessageIDs:    ids,
			MessageTokens: msgTokens,
			CreatedAt:     e.clock.Now(),
		})
		current.IsBufferingObservation = false
		if err := e.store.SaveObservationalMemory(detached, current); err != nil {
			e.log.Warn().Err(err).Str("record_id", recordID).Msg("save buffered chunk")
		}
	}()
	return nil
}

func unobservedMessages(rec *ObservationalMemory, messages []*Message) []*Message {
	var out []*Message
	for _, m := range messages {
		if rec.ObservedMessageIDs == nil {
			out = append(out, m)
			continue
		}
		if _, seen := rec.ObservedMessageIDs[m.ID]; !seen {
			out = append(out, m)
		}
	}
	return out
}

func filterObserved(rec *ObservationalMemory, messages []*Message) []*Message {
	if rec.ObservedMessageIDs == nil {
		return messages
	}
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if _, seen := rec.ObservedMessageIDs[m.ID]; !seen {
			out = append(out, m)
		}
	}
	return out
}

func isConflict(err error) bool {
	return err != nil && errors.Is(err, ErrConflict)
}
