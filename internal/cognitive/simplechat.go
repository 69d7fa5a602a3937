package cognitive

import "context"

// LLMProviderChatAdapter adapts an LLMProvider (Ollama, Claude, ...) into a
// SimpleChatProvider, the message-in/string-out shape the observation and
// reflection engines use. Grounded on internal/llm/agent_adapter.go's
// AgentLLMAdapter, which does the same message-in/string-out wrapping for a
// different provider interface.
type LLMProviderChatAdapter struct {
	Provider    LLMProvider
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewLLMProviderChatAdapter wraps provider with sensible defaults for an
// observation/reflection workload: short, deterministic completions.
func NewLLMProviderChatAdapter(provider LLMProvider) *LLMProviderChatAdapter {
	return &LLMProviderChatAdapter{
		Provider:    provider,
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

func (a *LLMProviderChatAdapter) Chat(ctx context.Context, messages []ChatMessage, systemPrompt string) (string, error) {
	req := &CompletionRequest{
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
		Model:       a.Model,
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, Message{Role: m.Role, Content: m.Content})
	}
	resp, err := a.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
