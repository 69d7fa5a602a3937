package memorycore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/cortex-memory/internal/cognitive"
)

// chatReflector adapts a cognitive.SimpleChatProvider into a Reflector,
// mirroring chatObserver's wiring for the observation side. Grounded on
// reflector_agent.go's ReflectNow, which drives the same
// system-prompt-plus-guidance call against a provider.
type chatReflector struct {
	provider cognitive.SimpleChatProvider
}

// NewChatReflector wraps provider as a Reflector.
func NewChatReflector(provider cognitive.SimpleChatProvider) Reflector {
	return &chatReflector{provider: provider}
}

const reflectorSystemPrompt = `You condense an observation log into a smaller, equivalent one.
Respond with exactly three bracketed sections, in this order:
<observations>the condensed log</observations>
<current-task>the task the conversation is currently working on, or empty</current-task>
<suggested-response>a one-line suggestion for what to say next, or empty</suggested-response>`

func (r *chatReflector) Reflect(ctx context.Context, activeObservations, compressionGuidance string, timeout time.Duration) (*ReflectionOutput, error) {
	var sb strings.Builder
	sb.WriteString("Observation log to condense:\n")
	sb.WriteString(activeObservations)
	sb.WriteString("\n")
	if compressionGuidance != "" {
		fmt.Fprintf(&sb, "\nGuidance: %s.\n", compressionGuidance)
	}

	raw, err := r.provider.Chat(ctx, []cognitive.ChatMessage{{Role: "user", Content: sb.String()}}, reflectorSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("reflector chat: %w", err)
	}

	out := ParseReflectionOutput(raw)
	out.TokenCount = len(strings.Fields(out.Observations))
	return out, nil
}
