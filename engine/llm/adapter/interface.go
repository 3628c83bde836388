package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// LLMRequest is a provider independent model request.
type LLMRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Options      CallOptions
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
	// ToolCalls is only valid on assistant messages.
	ToolCalls []ToolCall
	// ToolResults is only valid on tool messages.
	ToolResults []ToolResult
}

// ToolDefinition describes a tool the model may call. Parameters is a JSON schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolResult struct {
	ID      string
	Name    string
	Content string
}

type CallOptions struct {
	Temperature float64
	MaxTokens   int32
	UseJSONMode bool
	// ToolChoice is "auto", "none", "required" or a tool name.
	ToolChoice string
}

type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage is token accounting for one or more model calls.
type Usage struct {
	PromptTokens     int `json:"input_tokens"`
	CompletionTokens int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u. A nil other is ignored.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// LLMClient is the model call boundary.
type LLMClient interface {
	GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
	Close() error
}

// ValidateConversation asserts role specific constraints on messages.
func ValidateConversation(messages []Message) error {
	for i, m := range messages {
		if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
			return fmt.Errorf("message[%d] role %q cannot contain ToolCalls", i, m.Role)
		}
		if len(m.ToolResults) > 0 && m.Role != RoleTool {
			return fmt.Errorf("message[%d] role %q cannot contain ToolResults", i, m.Role)
		}
	}
	return nil
}
