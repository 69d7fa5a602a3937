// Package cognitive adapts LLM chat providers (Ollama, Claude) into the
// minimal SimpleChatProvider shape the memorycore observation and
// reflection engines depend on.
package cognitive

import "context"

// ChatMessage represents a message for LLM chat completion.
// This is the canonical message type used across cognitive subpackages.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// SimpleChatProvider defines a minimal interface for chat completion.
// Use this for packages that need simple message-in, string-out semantics.
// For the request/response completion interface, use LLMProvider.
type SimpleChatProvider interface {
	Chat(ctx context.Context, messages []ChatMessage, systemPrompt string) (string, error)
}
