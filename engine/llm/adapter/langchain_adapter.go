package llmadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LangChainAdapter adapts a langchaingo model to LLMClient.
type LangChainAdapter struct {
	model llms.Model
}

func NewLangChainAdapter(model llms.Model) *LangChainAdapter {
	return &LangChainAdapter{model: model}
}

func (a *LangChainAdapter) GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if req == nil {
		return nil, errors.New("nil LLM request")
	}
	if err := ValidateConversation(req.Messages); err != nil {
		return nil, err
	}
	response, err := a.model.GenerateContent(ctx, a.convertMessages(req), a.buildCallOptions(req)...)
	if err != nil {
		return nil, fmt.Errorf("langchain GenerateContent failed: %w", err)
	}
	return a.convertResponse(response)
}

func (a *LangChainAdapter) Close() error {
	return nil
}

func (a *LangChainAdapter) convertMessages(req *LLMRequest) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			parts := make([]llms.ContentPart, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, llms.TextContent{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case RoleTool:
			parts := make([]llms.ContentPart, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				parts = append(parts, llms.ToolCallResponse{
					ToolCallID: tr.ID,
					Name:       tr.Name,
					Content:    tr.Content,
				})
			}
			messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeTool, Parts: parts})
		case RoleSystem:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		default:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		}
	}
	return messages
}

func (a *LangChainAdapter) buildCallOptions(req *LLMRequest) []llms.CallOption {
	var options []llms.CallOption
	if req.Options.Temperature > 0 {
		options = append(options, llms.WithTemperature(req.Options.Temperature))
	}
	if req.Options.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(int(req.Options.MaxTokens)))
	}
	if len(req.Tools) > 0 {
		options = append(options, llms.WithTools(a.convertTools(req.Tools)))
		if req.Options.ToolChoice != "" {
			options = append(options, llms.WithToolChoice(req.Options.ToolChoice))
		}
	}
	if req.Options.UseJSONMode && len(req.Tools) == 0 {
		options = append(options, llms.WithJSONMode())
	}
	return options
}

func (a *LangChainAdapter) convertTools(tools []ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

func (a *LangChainAdapter) convertResponse(resp *llms.ContentResponse) (*LLMResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty response from LLM")
	}
	choice := resp.Choices[0]
	out := &LLMResponse{Content: choice.Content, Usage: ExtractUsage(choice.GenerationInfo)}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := json.RawMessage(tc.FunctionCall.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: args})
	}
	return out, nil
}

// ExtractUsage reads token counts from provider generation info. Providers
// use different keys; anything missing or malformed counts as zero.
func ExtractUsage(info map[string]any) *Usage {
	u := &Usage{
		PromptTokens:     firstInt(info, "PromptTokens", "InputTokens", "input_tokens", "prompt_eval_count"),
		CompletionTokens: firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens", "eval_count"),
		TotalTokens:      firstInt(info, "TotalTokens", "total_tokens"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		v, ok := info[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return 0
}
