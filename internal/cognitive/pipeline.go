package cognitive

import "context"

// LLMProvider is an interface for LLM completions, used by
// OllamaProvider/ClaudeProvider and adapted to SimpleChatProvider by
// LLMProviderChatAdapter for the observation/reflection engines.
type LLMProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is an LLM completion request.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Model       string // Optional model override
}

// Message represents a chat message in LLMProvider's wire shape.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionResponse is an LLM completion response.
type CompletionResponse struct {
	Content    string
	TokensUsed int
	Model      string
}
