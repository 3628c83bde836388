package llmadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestLangChainAdapter_ConvertMessages(t *testing.T) {
	adapter := &LangChainAdapter{}

	t.Run("Should convert a tool round trip", func(t *testing.T) {
		req := &LLMRequest{
			SystemPrompt: "You search documents",
			Messages: []Message{
				{Role: RoleUser, Content: "What frustrates users?"},
				{Role: RoleAssistant, ToolCalls: []ToolCall{
					{ID: "call_1", Name: "search_documents", Arguments: json.RawMessage(`{"query":"frustration"}`)},
				}},
				{Role: RoleTool, ToolResults: []ToolResult{{ID: "call_1", Name: "search_documents", Content: "[]"}}},
			},
		}
		msgs := adapter.convertMessages(req)
		require.Len(t, msgs, 4)
		assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
		assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
		call, ok := msgs[2].Parts[0].(llms.ToolCall)
		require.True(t, ok)
		assert.Equal(t, "call_1", call.ID)
		assert.JSONEq(t, `{"query":"frustration"}`, call.FunctionCall.Arguments)
		assert.Equal(t, llms.ChatMessageTypeTool, msgs[3].Role)
		resp, ok := msgs[3].Parts[0].(llms.ToolCallResponse)
		require.True(t, ok)
		assert.Equal(t, "call_1", resp.ToolCallID)
	})
}

func TestLangChainAdapter_GenerateContent(t *testing.T) {
	t.Run("Should map tool calls and usage", func(t *testing.T) {
		model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			Content: "",
			ToolCalls: []llms.ToolCall{{
				ID:           "c1",
				FunctionCall: &llms.FunctionCall{Name: "call_graph_agent", Arguments: ""},
			}},
			GenerationInfo: map[string]any{"PromptTokens": 120, "CompletionTokens": 30, "TotalTokens": 150},
		}}}}
		adapter := NewLangChainAdapter(model)
		resp, err := adapter.GenerateContent(t.Context(), &LLMRequest{
			Messages: []Message{{Role: RoleUser, Content: "q"}},
			Tools:    []ToolDefinition{{Name: "call_graph_agent", Parameters: map[string]any{"type": "object"}}},
			Options:  CallOptions{ToolChoice: "required", MaxTokens: 256},
		})
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "call_graph_agent", resp.ToolCalls[0].Name)
		assert.JSONEq(t, `{}`, string(resp.ToolCalls[0].Arguments))
		assert.Equal(t, Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}, *resp.Usage)
		require.Len(t, model.opts.Tools, 1)
		assert.Equal(t, "required", model.opts.ToolChoice)
		assert.Equal(t, 256, model.opts.MaxTokens)
	})

	t.Run("Should reject invalid conversations", func(t *testing.T) {
		_, err := NewLangChainAdapter(&fakeModel{}).GenerateContent(t.Context(), &LLMRequest{
			Messages: []Message{{Role: RoleUser, ToolCalls: []ToolCall{{ID: "x"}}}},
		})
		require.Error(t, err)
	})

	t.Run("Should wrap provider failures", func(t *testing.T) {
		_, err := NewLangChainAdapter(&fakeModel{err: errors.New("503")}).GenerateContent(t.Context(), &LLMRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("Should fail on empty choices", func(t *testing.T) {
		_, err := NewLangChainAdapter(&fakeModel{resp: &llms.ContentResponse{}}).
			GenerateContent(t.Context(), &LLMRequest{})
		require.Error(t, err)
	})
}

func TestExtractUsage(t *testing.T) {
	t.Run("Should default to zero when info is missing or malformed", func(t *testing.T) {
		assert.Equal(t, Usage{}, *ExtractUsage(nil))
		assert.Equal(t, Usage{}, *ExtractUsage(map[string]any{"PromptTokens": "lots"}))
	})
	t.Run("Should read alternate provider keys and derive the total", func(t *testing.T) {
		u := ExtractUsage(map[string]any{"InputTokens": int64(10), "OutputTokens": float64(5)})
		assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, *u)
	})
	t.Run("Should accumulate with Add", func(t *testing.T) {
		total := &Usage{}
		total.Add(&Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
		total.Add(nil)
		total.Add(&Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
		assert.Equal(t, Usage{PromptTokens: 2, CompletionTokens: 4, TotalTokens: 6}, *total)
	})
}

func TestNewModel(t *testing.T) {
	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := NewModel(ProviderConfig{Provider: "carrier-pigeon"})
		require.Error(t, err)
	})
	t.Run("Should refuse embeddings for anthropic", func(t *testing.T) {
		_, err := NewEmbedder(ProviderConfig{Provider: ProviderAnthropic, APIKey: "k"}, "m")
		require.Error(t, err)
	})
}
