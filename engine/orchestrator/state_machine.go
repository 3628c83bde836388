package orchestrator

import (
	"context"
	"time"

	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/looplab/fsm"
)

const (
	StateRouting      = "routing"
	StateDocument     = "document"
	StateGraph        = "graph"
	StateBoth         = "both"
	StateSynthesizing = "synthesizing"
	StateDone         = "done"
	StateFailed       = "failed"
)

const (
	EventRouteDocument = "route_document"
	EventRouteGraph    = "route_graph"
	EventRouteBoth     = "route_both"
	EventAgentsDone    = "agents_done"
	EventSynthesized   = "synthesized"
	EventFailure       = "failure"
)

func routeEvent(r Route) string {
	switch r {
	case RouteGraph:
		return EventRouteGraph
	case RouteBoth:
		return EventRouteBoth
	default:
		return EventRouteDocument
	}
}

func newRoutingFSM(ctx context.Context) *fsm.FSM {
	var startedAt time.Time
	return fsm.NewFSM(
		StateRouting,
		fsm.Events{
			{Name: EventRouteDocument, Src: []string{StateRouting}, Dst: StateDocument},
			{Name: EventRouteGraph, Src: []string{StateRouting}, Dst: StateGraph},
			{Name: EventRouteBoth, Src: []string{StateRouting}, Dst: StateBoth},
			{Name: EventAgentsDone, Src: []string{StateDocument, StateGraph, StateBoth}, Dst: StateSynthesizing},
			{Name: EventSynthesized, Src: []string{StateSynthesizing}, Dst: StateDone},
			{
				Name: EventFailure,
				Src:  []string{StateRouting, StateDocument, StateGraph, StateBoth, StateSynthesizing},
				Dst:  StateFailed,
			},
		},
		fsm.Callbacks{
			"before_event": func(_ context.Context, e *fsm.Event) {
				startedAt = time.Now()
				logger.FromContext(ctx).Debug("FSM transition start",
					"event", e.Event, "from_state", e.Src, "to_state", e.Dst)
			},
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.FromContext(ctx).Debug("FSM transition complete",
					"event", e.Event, "from_state", e.Src, "to_state", e.Dst,
					"duration_ms", time.Since(startedAt).Milliseconds())
			},
		},
	)
}
