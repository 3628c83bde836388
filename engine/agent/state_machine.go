package agent

import (
	"context"
	"time"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/looplab/fsm"
)

const (
	StateInit             = "init"
	StateAwaitLLM         = "await_llm"
	StateEvaluateResponse = "evaluate_response"
	StateProcessTools     = "process_tools"
	StateFinalize         = "finalize"
	StateTerminateError   = "terminate_error"
)

const (
	EventStartLoop         = "start_loop"
	EventLLMResponse       = "llm_response"
	EventResponseNoTool    = "response_no_tool"
	EventResponseWithTools = "response_with_tools"
	EventToolsExecuted     = "tools_executed"
	EventFailure           = "failure"
)

func newLoopFSM(ctx context.Context) *fsm.FSM {
	observer := newTransitionObserver(ctx)
	return fsm.NewFSM(
		StateInit,
		loopFSMEvents(),
		fsm.Callbacks{
			"before_event": func(cbCtx context.Context, e *fsm.Event) { observer.BeforeEvent(cbCtx, e) },
			"after_event":  func(cbCtx context.Context, e *fsm.Event) { observer.AfterEvent(cbCtx, e) },
		},
	)
}

func loopFSMEvents() fsm.Events {
	return fsm.Events{
		{Name: EventStartLoop, Src: []string{StateInit}, Dst: StateAwaitLLM},
		{Name: EventLLMResponse, Src: []string{StateAwaitLLM}, Dst: StateEvaluateResponse},
		{Name: EventResponseNoTool, Src: []string{StateEvaluateResponse}, Dst: StateFinalize},
		{Name: EventResponseWithTools, Src: []string{StateEvaluateResponse}, Dst: StateProcessTools},
		{Name: EventToolsExecuted, Src: []string{StateProcessTools}, Dst: StateAwaitLLM},
		{
			Name: EventFailure,
			Src:  []string{StateAwaitLLM, StateEvaluateResponse, StateProcessTools},
			Dst:  StateTerminateError,
		},
	}
}

func loopContextFromEvent(ctx context.Context, e *fsm.Event) *loopContext {
	if e != nil && len(e.Args) > 0 {
		if lc, ok := e.Args[0].(*loopContext); ok && lc != nil {
			return lc
		}
	}
	logger.FromContext(ctx).Error("FSM loop context missing from event args")
	return &loopContext{}
}

type transitionObserver struct {
	now     func() time.Time
	baseCtx context.Context
}

func newTransitionObserver(ctx context.Context) *transitionObserver {
	return &transitionObserver{now: time.Now, baseCtx: ctx}
}

func (o *transitionObserver) resolveContext(cbCtx context.Context) context.Context {
	if cbCtx != nil {
		return cbCtx
	}
	if o.baseCtx != nil {
		return o.baseCtx
	}
	return context.TODO()
}

func (o *transitionObserver) BeforeEvent(cbCtx context.Context, e *fsm.Event) {
	ctx := o.resolveContext(cbCtx)
	lc := loopContextFromEvent(ctx, e)
	lc.eventStartedAt = o.now()
	logger.FromContext(ctx).Debug("FSM transition start",
		"event", e.Event, "from_state", e.Src, "to_state", e.Dst, "turn", lc.turn)
}

func (o *transitionObserver) AfterEvent(cbCtx context.Context, e *fsm.Event) {
	ctx := o.resolveContext(cbCtx)
	lc := loopContextFromEvent(ctx, e)
	keyvals := []any{"event", e.Event, "from_state", e.Src, "to_state", e.Dst, "turn", lc.turn}
	if !lc.eventStartedAt.IsZero() {
		keyvals = append(keyvals, "duration_ms", o.now().Sub(lc.eventStartedAt).Milliseconds())
	}
	if lc.err != nil {
		keyvals = append(keyvals, "error", core.RedactError(lc.err))
	}
	logger.FromContext(ctx).Debug("FSM transition complete", keyvals...)
}
