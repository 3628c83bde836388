package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/compozy/ragrouter/engine/agent"
	"github.com/compozy/ragrouter/engine/agent/prompts"
	"github.com/compozy/ragrouter/engine/core"
	llmadapter "github.com/compozy/ragrouter/engine/llm/adapter"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	ErrCodeModelCall    = "MODEL_CALL_FAILED"
	ErrCodeInvalidRoute = "INVALID_ROUTE"
	ErrCodeAgentsFailed = "ALL_AGENTS_FAILED"
	ErrCodeEmptyInput   = "EMPTY_QUESTION"

	tracerName       = "ragrouter.orchestrator"
	recordTimeout    = 10 * time.Second
	defaultQueryTime = 3 * time.Minute
)

// SubAgent is one retrieval agent the router can dispatch to.
type SubAgent interface {
	Tag() agent.Tag
	Name() string
	Query(ctx context.Context, question string) (*agent.Result, error)
}

// Observer receives routing metrics.
type Observer interface {
	RouteChosen(ctx context.Context, route string)
	QueryCompleted(ctx context.Context, route string, d time.Duration, err error)
}

// Recorder persists finished runs. It is called off the request path.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// SynthesizedAnswer is the result of one orchestrated question.
type SynthesizedAnswer struct {
	RunID      string                      `json:"run_id"`
	Answer     string                      `json:"answer"`
	Confidence float64                     `json:"confidence"`
	AgentsUsed []agent.Tag                 `json:"agents_used"`
	Sources    []string                    `json:"sources_used"`
	Reasoning  string                      `json:"reasoning"`
	Routing    RoutingDecision             `json:"routing"`
	Usage      llmadapter.Usage            `json:"token_usage"`
	Agents     map[agent.Tag]*agent.Result `json:"agents"`
	Duration   time.Duration               `json:"duration"`
}

// Run is what the recorder receives.
type Run struct {
	ID        string
	Question  string
	StartedAt time.Time
	Answer    *SynthesizedAnswer
	Err       error
}

type Config struct {
	Router   llmadapter.LLMClient
	Document SubAgent
	Graph    SubAgent
	Timeout  time.Duration
	Options  llmadapter.CallOptions
	Observer Observer
	Recorder Recorder
}

type Orchestrator struct {
	cfg    Config
	tracer trace.Tracer
	system string
	wg     sync.WaitGroup
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Router == nil || cfg.Document == nil || cfg.Graph == nil {
		return nil, errors.New("orchestrator requires a router client and both sub-agents")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultQueryTime
	}
	system, err := prompts.Render(prompts.Router, nil)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{cfg: cfg, tracer: otel.Tracer(tracerName), system: system}, nil
}

type runState struct {
	question string
	decision RoutingDecision
	usage    llmadapter.Usage
	results  map[agent.Tag]*agent.Result
	answers  map[agent.Tag]agent.Answer
	failures map[agent.Tag]error
	out      *SynthesizedAnswer
}

// Query routes question, runs the chosen sub-agents and merges their answers.
func (o *Orchestrator) Query(ctx context.Context, question string) (answer *SynthesizedAnswer, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, core.NewError(errors.New("question is empty"), ErrCodeEmptyInput, nil)
	}
	runID := uuid.NewString()
	started := time.Now()
	log := logger.FromContext(ctx).With("run_id", runID)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "ragrouter.orchestrator.query", trace.WithAttributes(
		attribute.String("run_id", runID),
	))
	st := &runState{
		question: question,
		results:  map[agent.Tag]*agent.Result{},
		answers:  map[agent.Tag]agent.Answer{},
		failures: map[agent.Tag]error{},
	}
	defer func() {
		route := string(st.decision.Route)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, core.RedactError(err))
		}
		span.SetAttributes(attribute.String("route", route))
		span.End()
		if o.cfg.Observer != nil {
			o.cfg.Observer.QueryCompleted(ctx, route, time.Since(started), err)
		}
		o.record(ctx, &Run{ID: runID, Question: question, StartedAt: started, Answer: answer, Err: err})
	}()

	log.Info("Orchestrator query started", "question", truncate(question, 100))
	if err := o.run(ctx, st); err != nil {
		log.Error("Orchestrator query failed", "route", st.decision.Route, "error", core.RedactError(err))
		return nil, err
	}
	st.out.RunID = runID
	st.out.Duration = time.Since(started)
	log.Info("Orchestrator completed query",
		"route", st.decision.Route, "agents_used", st.out.AgentsUsed,
		"total_tokens", st.out.Usage.TotalTokens, "duration_ms", st.out.Duration.Milliseconds())
	return st.out, nil
}

func (o *Orchestrator) run(ctx context.Context, st *runState) error {
	machine := newRoutingFSM(ctx)
	fire := func(event string) error {
		if err := machine.Event(ctx, event); err != nil {
			return fmt.Errorf("routing transition %s: %w", event, err)
		}
		return nil
	}
	if err := o.route(ctx, st); err != nil {
		_ = fire(EventFailure)
		return err
	}
	if err := fire(routeEvent(st.decision.Route)); err != nil {
		return err
	}
	if err := o.dispatch(ctx, st); err != nil {
		_ = fire(EventFailure)
		return err
	}
	if err := fire(EventAgentsDone); err != nil {
		return err
	}
	st.out = o.synthesize(st)
	return fire(EventSynthesized)
}

func (o *Orchestrator) route(ctx context.Context, st *runState) error {
	ctx, span := o.tracer.Start(ctx, "ragrouter.orchestrator.route")
	defer span.End()
	opts := o.cfg.Options
	opts.ToolChoice = "auto"
	resp, err := o.cfg.Router.GenerateContent(ctx, &llmadapter.LLMRequest{
		SystemPrompt: o.system,
		Messages:     []llmadapter.Message{{Role: llmadapter.RoleUser, Content: st.question}},
		Tools:        routingTools(),
		Options:      opts,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing model call failed")
		return core.NewError(err, ErrCodeModelCall, map[string]any{"stage": "routing"})
	}
	st.usage.Add(resp.Usage)
	st.decision = decide(st.question, resp)
	if err := st.decision.Validate(); err != nil {
		return core.NewError(err, ErrCodeInvalidRoute, nil)
	}
	span.SetAttributes(attribute.String("route", string(st.decision.Route)))
	logger.FromContext(ctx).Info("Route chosen",
		"route", st.decision.Route, "tool", st.decision.ToolCalled, "reason", st.decision.Rationale)
	if o.cfg.Observer != nil {
		o.cfg.Observer.RouteChosen(ctx, string(st.decision.Route))
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, st *runState) error {
	switch st.decision.Route {
	case RouteGraph:
		return o.runSingle(ctx, st, o.cfg.Graph, st.decision.Queries["graph"])
	case RouteBoth:
		return o.runBoth(ctx, st)
	default:
		return o.runSingle(ctx, st, o.cfg.Document, st.decision.Queries["document"])
	}
}

func (o *Orchestrator) runSingle(ctx context.Context, st *runState, sub SubAgent, q string) error {
	res, err := o.invoke(ctx, sub, q)
	if err != nil {
		return err
	}
	st.results[sub.Tag()] = res
	st.answers[sub.Tag()] = res.Answer
	return nil
}

// runBoth runs the two agents concurrently. Each agent builds its own
// budget, so neither can throttle the other. One failure is tolerated.
func (o *Orchestrator) runBoth(ctx context.Context, st *runState) error {
	subs := []SubAgent{o.cfg.Document, o.cfg.Graph}
	queries := []string{st.decision.Queries["document"], st.decision.Queries["graph"]}
	results := make([]*agent.Result, len(subs))
	errs := make([]error, len(subs))
	var g errgroup.Group
	for i, sub := range subs {
		g.Go(func() error {
			results[i], errs[i] = o.invoke(ctx, sub, queries[i])
			return nil
		})
	}
	_ = g.Wait()
	var failed []string
	for i, sub := range subs {
		tag := sub.Tag()
		if errs[i] != nil {
			st.failures[tag] = errs[i]
			st.answers[tag] = errorAnswer(tag, sub.Name(), errs[i])
			failed = append(failed, core.RedactError(errs[i]))
			continue
		}
		st.results[tag] = results[i]
		st.answers[tag] = results[i].Answer
	}
	if len(st.failures) == len(subs) {
		return core.NewError(errors.Join(errs...), ErrCodeAgentsFailed, nil)
	}
	if len(failed) > 0 {
		logger.FromContext(ctx).Warn("Parallel agent run partially failed", "failures", failed)
		st.decision.Notes = strings.TrimSpace(st.decision.Notes + " " + strings.Join(failed, "; "))
	}
	return nil
}

func (o *Orchestrator) invoke(ctx context.Context, sub SubAgent, q string) (*agent.Result, error) {
	ctx, span := o.tracer.Start(ctx, "ragrouter.orchestrator.agent", trace.WithAttributes(
		attribute.String("agent", sub.Name()),
	))
	defer span.End()
	res, err := sub.Query(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, core.RedactError(err))
		return nil, fmt.Errorf("%s failed: %w", sub.Name(), err)
	}
	span.SetAttributes(
		attribute.Int("tool_calls", len(res.ToolCalls)),
		attribute.Bool("limit_reached", res.LimitReached),
	)
	return res, nil
}

func (o *Orchestrator) synthesize(st *runState) *SynthesizedAnswer {
	usage := st.usage
	for _, res := range st.results {
		usage.Add(&res.Usage)
	}
	out := &SynthesizedAnswer{Routing: st.decision, Usage: usage, Agents: st.results}
	if st.decision.Route == RouteBoth {
		doc, graph := st.answers[agent.TagDocument], st.answers[agent.TagGraph]
		out.Answer, out.Reasoning = mergeAnswers(doc, graph)
		out.Confidence = combinedConfidence(doc.Confidence, graph.Confidence)
		out.Sources = mergeSources(doc.Sources, graph.Sources)
		out.AgentsUsed = []agent.Tag{agent.TagDocument, agent.TagGraph}
		return out
	}
	tag := agent.TagDocument
	if st.decision.Route == RouteGraph {
		tag = agent.TagGraph
	}
	ans := st.answers[tag]
	out.Answer, out.Reasoning = single(ans, st.decision)
	out.Confidence = ans.Confidence
	out.Sources = mergeSources(ans.Sources, nil)
	out.AgentsUsed = []agent.Tag{tag}
	return out
}

func (o *Orchestrator) record(ctx context.Context, run *Run) {
	if o.cfg.Recorder == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := o.cfg.Recorder.Record(rctx, run); err != nil {
			logger.FromContext(rctx).Warn("Failed to record run", "run_id", run.ID, "error", core.RedactError(err))
		}
	}()
}

// Close waits for pending run records.
func (o *Orchestrator) Close() error {
	o.wg.Wait()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
