package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/compozy/ragrouter/engine/agent/prompts"
	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/governor"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/tools"
	"github.com/compozy/ragrouter/pkg/logger"
)

const (
	ErrCodeModelCall     = "MODEL_CALL_FAILED"
	ErrCodeInvalidConfig = "INVALID_AGENT_CONFIG"
	ErrCodeToolFailure   = "TOOL_FAILURE"

	// extra model turns beyond the extended limit: one to synthesize, one slack
	synthesisTurns = 2
)

// SchemaSource supplies graph schema text for the system prompt.
type SchemaSource interface {
	Schema(ctx context.Context) string
}

// Definition describes one sub-agent.
type Definition struct {
	Tag      Tag
	Name     string
	Template string
	Tool     tools.Tool
	Limits   governor.Limits
	// SourcePattern, when set, filters sources_used after the loop.
	SourcePattern *regexp.Regexp
	Schema        SchemaSource
	Options       llmadapter.CallOptions
}

// Result is the envelope returned for one query.
type Result struct {
	Answer       Answer                  `json:"answer"`
	ToolCalls    []tools.Record          `json:"tool_calls"`
	Guardrails   []tools.GuardrailEvent  `json:"guardrails,omitempty"`
	Usage        llmadapter.Usage        `json:"token_usage"`
	Budget       governor.CallBudget     `json:"budget"`
	LimitReached bool                    `json:"limit_reached"`
	Turns        int                     `json:"turns"`
	Duration     time.Duration           `json:"duration"`
	Prompt       string                  `json:"-"`
	Raw          *llmadapter.LLMResponse `json:"-"`
}

// Adapter drives the model loop for one sub-agent. It holds no per-query
// state: every Query builds its own governor and call log.
type Adapter struct {
	def      Definition
	client   llmadapter.LLMClient
	observer governor.Observer

	mu     sync.RWMutex
	limits governor.Limits
}

type Option func(*Adapter)

// WithGovernorObserver attaches metrics to every per-query governor.
func WithGovernorObserver(o governor.Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

func New(client llmadapter.LLMClient, def Definition, opts ...Option) (*Adapter, error) {
	if client == nil {
		return nil, core.NewError(errors.New("nil LLM client"), ErrCodeInvalidConfig, nil)
	}
	if def.Tool == nil {
		return nil, core.NewError(errors.New("agent needs a tool"), ErrCodeInvalidConfig, map[string]any{"agent": def.Name})
	}
	if err := def.Limits.Validate(); err != nil {
		return nil, core.NewError(err, governor.ErrCodeInvalidLimits, map[string]any{"agent": def.Name})
	}
	a := &Adapter{def: def, client: client, limits: def.Limits}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Tag() Tag { return a.def.Tag }

func (a *Adapter) Name() string { return a.def.Name }

// Limits returns the limits the next query will start with.
func (a *Adapter) Limits() governor.Limits {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.limits
}

// Configure replaces the limits for subsequent queries, for embedders that
// retune an agent at runtime. Queries already running keep the budget they
// started with.
func (a *Adapter) Configure(limits governor.Limits) error {
	if err := limits.Validate(); err != nil {
		return core.NewError(err, governor.ErrCodeInvalidLimits, map[string]any{"agent": a.def.Name})
	}
	a.mu.Lock()
	a.limits = limits
	a.mu.Unlock()
	return nil
}

type loopContext struct {
	question       string
	scope          *tools.Scope
	request        *llmadapter.LLMRequest
	response       *llmadapter.LLMResponse
	usage          llmadapter.Usage
	denied         *governor.BudgetExceededError
	answer         *Answer
	turn           int
	maxTurns       int
	offeredTools   bool
	err            error
	eventStartedAt time.Time
}

// Query answers question with a fresh budget. Model failures and counter
// faults are returned as errors; everything else ends in an Answer.
func (a *Adapter) Query(ctx context.Context, question string) (*Result, error) {
	started := time.Now()
	limits := a.Limits()
	log := logger.FromContext(ctx).With("agent", a.def.Name)
	ctx = logger.ContextWithLogger(ctx, log)

	gov, err := governor.New(limits, governor.WithAgent(a.def.Name), governor.WithObserver(a.observer))
	if err != nil {
		return nil, err
	}
	if err := gov.Reset(ctx); err != nil {
		return nil, err
	}
	system, err := a.systemPrompt(ctx, limits)
	if err != nil {
		return nil, core.NewError(err, ErrCodeInvalidConfig, map[string]any{"agent": a.def.Name})
	}
	lc := &loopContext{
		question: question,
		scope:    tools.NewScope(gov),
		request: &llmadapter.LLMRequest{
			SystemPrompt: system,
			Messages:     []llmadapter.Message{{Role: llmadapter.RoleUser, Content: question}},
			Options:      a.def.Options,
		},
		maxTurns: limits.Extended + synthesisTurns,
	}
	log.Info("Running agent query", "question", truncate(question, 100), "limit", limits.Initial)
	if err := a.run(ctx, lc); err != nil {
		return nil, err
	}
	budget := gov.Snapshot()
	res := &Result{
		Answer:       *lc.answer,
		ToolCalls:    lc.scope.Accepted(),
		Guardrails:   lc.scope.Guardrails(),
		Usage:        lc.usage,
		Budget:       budget,
		LimitReached: lc.denied != nil,
		Turns:        lc.turn,
		Duration:     time.Since(started),
		Prompt:       system,
		Raw:          lc.response,
	}
	log.Info("Agent completed query",
		"tool_calls", len(res.ToolCalls), "limit_reached", res.LimitReached,
		"total_tokens", res.Usage.TotalTokens, "confidence", res.Answer.Confidence)
	return res, nil
}

func (a *Adapter) systemPrompt(ctx context.Context, limits governor.Limits) (string, error) {
	data := struct {
		Initial  int
		Extended int
		Adaptive bool
		Schema   string
	}{Initial: limits.Initial, Extended: limits.Extended, Adaptive: limits.Adaptive && limits.Extended > limits.Initial}
	if a.def.Schema != nil {
		data.Schema = a.def.Schema.Schema(ctx)
	}
	return prompts.Render(a.def.Template, data)
}

func (a *Adapter) run(ctx context.Context, lc *loopContext) error {
	machine := newLoopFSM(ctx)
	event := EventStartLoop
	for {
		if err := machine.Event(ctx, event, lc); err != nil {
			if lc.err != nil {
				return lc.err
			}
			return fmt.Errorf("agent %s: transition %s: %w", a.def.Name, event, err)
		}
		switch machine.Current() {
		case StateFinalize:
			return nil
		case StateTerminateError:
			return lc.err
		case StateAwaitLLM:
			event = a.awaitLLM(ctx, lc)
		case StateEvaluateResponse:
			event = a.evaluateResponse(ctx, lc)
		case StateProcessTools:
			event = a.processTools(ctx, lc)
		}
	}
}

// toolsAllowed is false once the budget has denied a call or the turn cap is
// near, which leaves the model no option but to answer.
func (lc *loopContext) toolsAllowed() bool {
	return lc.denied == nil && lc.turn < lc.maxTurns-1
}

func (a *Adapter) awaitLLM(ctx context.Context, lc *loopContext) string {
	req := *lc.request
	lc.offeredTools = lc.toolsAllowed()
	if lc.offeredTools {
		req.Tools = []llmadapter.ToolDefinition{a.def.Tool.Definition()}
		if req.Options.ToolChoice == "" {
			req.Options.ToolChoice = "auto"
		}
	} else {
		req.Tools = nil
		req.Options.ToolChoice = ""
		req.Options.UseJSONMode = true
	}
	resp, err := a.client.GenerateContent(ctx, &req)
	lc.turn++
	if err != nil {
		lc.err = core.NewError(err, ErrCodeModelCall, map[string]any{"agent": a.def.Name, "turn": lc.turn})
		return EventFailure
	}
	lc.usage.Add(resp.Usage)
	lc.response = resp
	return EventLLMResponse
}

func (a *Adapter) evaluateResponse(ctx context.Context, lc *loopContext) string {
	resp := lc.response
	if len(resp.ToolCalls) > 0 && lc.offeredTools {
		lc.request.Messages = append(lc.request.Messages, llmadapter.Message{
			Role:      llmadapter.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		return EventResponseWithTools
	}
	answer := a.complete(ctx, lc)
	lc.answer = &answer
	return EventResponseNoTool
}

func (a *Adapter) complete(ctx context.Context, lc *loopContext) Answer {
	sources := lc.scope.Sources()
	answer, ok := parseAnswer(lc.response.Content)
	switch {
	case ok:
		if len(answer.Sources) == 0 {
			answer.Sources = sources
		}
	case lc.denied != nil:
		logger.FromContext(ctx).Info("Agent completed with limit",
			"calls_made", lc.denied.CallsMade, "limit", lc.denied.Limit)
		answer = limitFallback(lc.denied.CallsMade, lc.denied.Limit, sources)
	default:
		logger.FromContext(ctx).Warn("Model answer was not valid JSON", "content", truncate(lc.response.Content, 200))
		answer = unstructured(lc.response.Content, sources)
	}
	if a.def.SourcePattern != nil {
		answer.Sources = filterSources(ctx, a.def.SourcePattern, answer.Sources)
	}
	if answer.Sources == nil {
		answer.Sources = []string{}
	}
	answer.Agent = a.def.Tag
	return answer
}

// processTools runs the calls of one turn in order.
func (a *Adapter) processTools(ctx context.Context, lc *loopContext) string {
	toolName := a.def.Tool.Definition().Name
	results := make([]llmadapter.ToolResult, 0, len(lc.response.ToolCalls))
	for _, call := range lc.response.ToolCalls {
		if call.Name != toolName {
			logger.FromContext(ctx).Warn("Model called an unknown tool", "tool", call.Name)
			results = append(results, llmadapter.ToolResult{
				ID:      call.ID,
				Name:    call.Name,
				Content: unknownToolPayload(call.Name, toolName),
			})
			continue
		}
		outcome, err := a.def.Tool.Call(ctx, lc.scope, call.Arguments)
		if err != nil {
			lc.err = core.NewError(err, ErrCodeToolFailure, map[string]any{"agent": a.def.Name, "tool": call.Name})
			return EventFailure
		}
		if outcome.Denied != nil && lc.denied == nil {
			lc.denied = outcome.Denied
		}
		results = append(results, llmadapter.ToolResult{ID: call.ID, Name: call.Name, Content: outcome.Payload})
	}
	lc.request.Messages = append(lc.request.Messages, llmadapter.Message{
		Role:        llmadapter.RoleTool,
		ToolResults: results,
	})
	return EventToolsExecuted
}

func unknownToolPayload(called, available string) string {
	data, _ := json.Marshal(map[string]string{
		"error": fmt.Sprintf("unknown tool %s, use %s", called, available),
	})
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
