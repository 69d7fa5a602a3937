package memorycore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ContextLevel names one block of the 4-level context stack (§4.7).
type ContextLevel int

const (
	LevelReflections ContextLevel = iota + 1
	LevelRecentObservations
	LevelRecentMessages
	LevelOnDemand
)

func (l ContextLevel) String() string {
	switch l {
	case LevelReflections:
		return "reflections"
	case LevelRecentObservations:
		return "recent-observations"
	case LevelRecentMessages:
		return "recent-messages"
	case LevelOnDemand:
		return "on-demand"
	default:
		return "unknown"
	}
}

// ContextBlock is one entry of the 4-level context stack.
type ContextBlock struct {
	Level      ContextLevel
	Name       string
	Content    string
	TokenCount int
}

// Format wraps Content in the stack's HTML-comment level marker.
func (b ContextBlock) Format() string {
	return fmt.Sprintf("\n<!-- LEVEL %d: %s -->\n%s\n", int(b.Level), b.Name, b.Content)
}

// maxSearchCandidates bounds the thread/resource message scan a recall
// query considers, the way context_builder.go caps its lane token budgets.
const maxSearchCandidates = 200

// ContextAssembler builds recall context and the 4-level context stack for
// LLM injection. Grounded on context_builder.go's ContextBuilder/
// BuildForLane string-builder-and-token-budget idiom, restructured from
// the teacher's fast/smart lane split into the spec's four numbered
// levels.
type ContextAssembler struct {
	store  Store
	tokens TokenCounter
	log    zerolog.Logger
}

// NewContextAssembler constructs a ContextAssembler.
func NewContextAssembler(store Store, tokens TokenCounter, log zerolog.Logger) *ContextAssembler {
	return &ContextAssembler{store: store, tokens: tokens, log: log.With().Str("component", "context_assembler").Logger()}
}

// RecallQuery parameterizes Recall.
type RecallQuery struct {
	Query        string
	ThreadID     string
	ResourceID   string
	TopK         int
	MessageRange int
	Scope        MemoryScope
}

// Recall runs a BM25 search anchored query and widens each hit into a
// symmetric message window (§4.7). On search failure or an empty result
// it falls back to the most recent 10 messages in scope.
func (a *ContextAssembler) Recall(ctx context.Context, q RecallQuery) ([]*Message, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	searchThread := ""
	if q.Scope == ScopeThread {
		searchThread = q.ThreadID
	}

	hits, err := a.store.SearchMessages(ctx, q.Query, topK, searchThread)
	if err != nil || len(hits) == 0 {
		if err != nil {
			a.log.Debug().Err(err).Msg("recall search failed, falling back to recent messages")
		}
		return a.recentFallback(ctx, q.ThreadID, q.ResourceID, 10)
	}

	resourceID := q.ResourceID
	if q.Scope == ScopeThread {
		resourceID = ""
	}
	candidates, err := a.store.ListMessages(ctx, q.ThreadID, resourceID, maxSearchCandidates)
	if err != nil {
		return nil, fmt.Errorf("list candidates for recall: %w", err)
	}

	messageRange := q.MessageRange
	if messageRange < 0 {
		messageRange = 0
	}

	selected := make(map[string]*Message)
	for _, hit := range hits {
		for _, c := range candidates {
			if c.ThreadID != hit.Message.ThreadID {
				continue
			}
			if abs(c.MessageIndex-hit.Message.MessageIndex) <= messageRange {
				selected[c.ID] = c
			}
		}
	}

	out := make([]*Message, 0, len(selected))
	for _, m := range selected {
		out = append(out, m)
	}
	sortMessages(out)
	return out, nil
}

func (a *ContextAssembler) recentFallback(ctx context.Context, threadID, resourceID string, limit int) ([]*Message, error) {
	msgs, err := a.store.ListMessages(ctx, threadID, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("recall fallback: %w", err)
	}
	return msgs, nil
}

func sortMessages(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].ThreadID != msgs[j].ThreadID {
			return msgs[i].ThreadID < msgs[j].ThreadID
		}
		if msgs[i].MessageIndex != msgs[j].MessageIndex {
			return msgs[i].MessageIndex < msgs[j].MessageIndex
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// BuildStack assembles the ordered 4-level context stack for threadID
// (§4.7). The on-demand level is returned empty; callers populate it once
// a tool-driven search has run.
func (a *ContextAssembler) BuildStack(ctx context.Context, threadID, resourceID string, rec *ObservationalMemory, cfg ObservationalMemoryConfig) ([]ContextBlock, error) {
	var blocks []ContextBlock

	reflections, err := a.store.ListReflections(ctx, threadID, resourceID, 5)
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	if len(reflections) > 0 {
		parts := make([]string, len(reflections))
		for i, r := range reflections {
			parts[i] = r.Content
		}
		content := strings.Join(parts, "\n\n---\n\n")
		blocks = append(blocks, ContextBlock{
			Level:      LevelReflections,
			Name:       "reflections",
			Content:    content,
			TokenCount: a.tokens.CountString(content),
		})
	}

	if rec != nil && rec.ActiveObservations != "" {
		content := lastNonBlankLines(rec.ActiveObservations, cfg.MaxRecentObservations)
		blocks = append(blocks, ContextBlock{
			Level:      LevelRecentObservations,
			Name:       "recent-observations",
			Content:    content,
			TokenCount: a.tokens.CountString(content),
		})
	}

	recent, err := a.store.ListMessages(ctx, threadID, resourceID, cfg.LastMessages)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	if len(recent) > 0 {
		var sb strings.Builder
		for _, m := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.RawContent)
		}
		content := strings.TrimRight(sb.String(), "\n")
		blocks = append(blocks, ContextBlock{
			Level:      LevelRecentMessages,
			Name:       "recent-messages",
			Content:    content,
			TokenCount: a.tokens.CountString(content),
		})
	}

	blocks = append(blocks, ContextBlock{Level: LevelOnDemand, Name: "on-demand", Content: ""})

	return blocks, nil
}

func lastNonBlankLines(text string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	var nonBlank []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonBlank = append(nonBlank, l)
		}
	}
	if len(nonBlank) > n {
		nonBlank = nonBlank[len(nonBlank)-n:]
	}
	return strings.Join(nonBlank, "\n")
}

// FormatForAgentInput emits, in order: the system prompt, a
// <working-memory> system block when non-empty, up to the last five
// non-tool recent messages in their original roles, and finally the
// user's original message.
func FormatForAgentInput(blocks []ContextBlock, workingMemory, systemPrompt, userMessage string, recent []*Message) []Message {
	var out []Message
	out = append(out, Message{Role: RoleSystem, RawContent: systemPrompt})

	if workingMemory != "" {
		out = append(out, Message{Role: RoleSystem, RawContent: fmt.Sprintf("<working-memory>\n%s\n</working-memory>", workingMemory)})
	}

	var nonTool []*Message
	for _, m := range recent {
		if m.Role != RoleTool {
			nonTool = append(nonTool, m)
		}
	}
	if len(nonTool) > 5 {
		nonTool = nonTool[len(nonTool)-5:]
	}
	for _, m := range nonTool {
		out = append(out, Message{Role: m.Role, RawContent: m.RawContent})
	}

	out = append(out, Message{Role: RoleUser, RawContent: userMessage})
	return out
}
