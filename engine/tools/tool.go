package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/compozy/ragrouter/engine/governor"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/engine/quality"
	"github.com/compozy/ragrouter/engine/retrieval"
	"github.com/compozy/ragrouter/pkg/logger"
)

// Outcome is what a governed tool hands back to the model loop. Payload is
// always set; Denied is non-nil only when the governor refused the call.
type Outcome struct {
	Payload string
	Denied  *governor.BudgetExceededError
	Verdict *quality.Verdict
}

// Tool is a governed retrieval tool. Recoverable failures are encoded in the
// payload; a returned error aborts the query.
type Tool interface {
	Definition() llmadapter.ToolDefinition
	Call(ctx context.Context, scope *Scope, args json.RawMessage) (Outcome, error)
}

type deniedPayload struct {
	Error     string `json:"error"`
	CallsMade int    `json:"calls_made"`
	Limit     int    `json:"limit"`
}

type argsErrorPayload struct {
	Error string `json:"error"`
}

// acquire claims a slot for the record at idx and converts a denial into an Outcome.
func acquire(ctx context.Context, scope *Scope, tool string, idx int) (int, *Outcome, error) {
	slot, err := scope.Governor.Acquire(ctx)
	if err == nil {
		scope.settle(idx, slot, false)
		return slot, nil, nil
	}
	var denied *governor.BudgetExceededError
	if !errors.As(err, &denied) {
		return 0, nil, err
	}
	scope.settle(idx, 0, true)
	scope.guardrail(GuardrailBudgetExceeded, tool, governor.ErrCodeBudgetExceeded,
		fmt.Sprintf("%d/%d", denied.CallsMade, denied.Limit))
	payload := encode(ctx, deniedPayload{Error: denied.Instruction(), CallsMade: denied.CallsMade, Limit: denied.Limit})
	return 0, &Outcome{Payload: payload, Denied: denied}, nil
}

// judge feeds a batch to the evaluator and lets the governor react.
func judge(ctx context.Context, scope *Scope, results []retrieval.Result) *quality.Verdict {
	verdict := quality.Evaluate(results)
	scope.Governor.ExtendIfWarranted(ctx, verdict)
	return &verdict
}

func encode(ctx context.Context, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to encode tool payload", "error", err)
		return `{"error":"internal encoding failure"}`
	}
	return string(data)
}

func badArguments(ctx context.Context, err error) Outcome {
	return Outcome{Payload: encode(ctx, argsErrorPayload{Error: "Invalid tool arguments: " + err.Error()})}
}
