package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/quality"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/sethvargo/go-retry"
)

const (
	ErrCodeBudgetExceeded   = "BUDGET_EXCEEDED"
	ErrCodeBudgetBusy       = "BUDGET_BUSY"
	ErrCodeInvalidLimits    = "INVALID_LIMITS"
	ErrCodeConsistencyFault = "COUNTER_CONSISTENCY_FAULT"

	resetVerifyAttempts = 3
	resetVerifyBackoff  = 5 * time.Millisecond
)

// ErrConsistencyFault is returned when a reset cannot be verified.
var ErrConsistencyFault = &core.Error{Code: ErrCodeConsistencyFault, Message: "tool call counter did not reset"}

// Limits configures a governor.
type Limits struct {
	Initial  int  `json:"initial_max_tool_calls"`
	Extended int  `json:"extended_max_tool_calls"`
	Adaptive bool `json:"enable_adaptive_limit"`
}

func (l Limits) Validate() error {
	if l.Initial < 1 {
		return fmt.Errorf("initial limit must be >= 1, got %d", l.Initial)
	}
	if l.Extended < l.Initial {
		return fmt.Errorf("extended limit %d must be >= initial limit %d", l.Extended, l.Initial)
	}
	return nil
}

// CallBudget is a point-in-time view of the governor state.
type CallBudget struct {
	InitialLimit    int  `json:"initial_limit"`
	ExtendedLimit   int  `json:"extended_limit"`
	AdaptiveEnabled bool `json:"adaptive_enabled"`
	CurrentLimit    int  `json:"current_limit"`
	CallsMade       int  `json:"calls_made"`
}

func (b CallBudget) Remaining() int {
	return max(0, b.CurrentLimit-b.CallsMade)
}

// BudgetExceededError is the typed denial returned by Acquire.
type BudgetExceededError struct {
	CallsMade int
	Limit     int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("tool call limit reached: %d >= %d", e.CallsMade, e.Limit)
}

// Is lets callers match any denial with errors.Is(err, &BudgetExceededError{}).
func (e *BudgetExceededError) Is(target error) bool {
	_, ok := target.(*BudgetExceededError)
	return ok
}

// Instruction is the message handed back to the model on denial.
func (e *BudgetExceededError) Instruction() string {
	return fmt.Sprintf(
		"Tool call limit reached (%d of %d calls used). STOP calling tools now. "+
			"Synthesize your final answer from the results you already have and return it in the required JSON format.",
		e.CallsMade, e.Limit,
	)
}

// Observer receives governor events, typically for metrics.
type Observer interface {
	SlotAcquired(ctx context.Context, agent string, slot, limit int)
	BudgetDenied(ctx context.Context, agent string, calls, limit int)
	LimitExtended(ctx context.Context, agent string, from, to int)
}

type Option func(*Governor)

func WithObserver(o Observer) Option {
	return func(g *Governor) { g.observer = o }
}

// WithAgent names the agent in logs and metrics.
func WithAgent(name string) Option {
	return func(g *Governor) { g.agent = name }
}

// Governor enforces the per-query tool call budget. All read-modify-write
// sequences on the budget happen under mu.
type Governor struct {
	mu       sync.Mutex
	budget   CallBudget
	agent    string
	observer Observer
	// afterReset runs inside Reset before verification; tests use it to simulate corruption.
	afterReset func(*CallBudget)
}

// New builds a governor with a fresh budget.
func New(limits Limits, opts ...Option) (*Governor, error) {
	if err := limits.Validate(); err != nil {
		return nil, core.NewError(err, ErrCodeInvalidLimits, nil)
	}
	g := &Governor{budget: budgetFor(limits)}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func budgetFor(l Limits) CallBudget {
	return CallBudget{
		InitialLimit:    l.Initial,
		ExtendedLimit:   l.Extended,
		AdaptiveEnabled: l.Adaptive,
		CurrentLimit:    l.Initial,
	}
}

// Acquire claims the next slot. It must run before the retrieval side effect.
// A denial never increments the counter.
func (g *Governor) Acquire(ctx context.Context) (int, error) {
	g.mu.Lock()
	if g.budget.CallsMade >= g.budget.CurrentLimit {
		denied := &BudgetExceededError{CallsMade: g.budget.CallsMade, Limit: g.budget.CurrentLimit}
		g.mu.Unlock()
		logger.FromContext(ctx).Warn("Tool call denied",
			"agent", g.agent, "calls_made", denied.CallsMade, "limit", denied.Limit)
		if g.observer != nil {
			g.observer.BudgetDenied(ctx, g.agent, denied.CallsMade, denied.Limit)
		}
		return 0, denied
	}
	g.budget.CallsMade++
	slot, limit := g.budget.CallsMade, g.budget.CurrentLimit
	g.mu.Unlock()
	logger.FromContext(ctx).Debug("Tool call allowed", "agent", g.agent, "slot", slot, "limit", limit)
	if g.observer != nil {
		g.observer.SlotAcquired(ctx, g.agent, slot, limit)
	}
	return slot, nil
}

// Configure replaces the limits at runtime, for embedders that tune agents
// after construction. It is rejected while a query is in flight.
func (g *Governor) Configure(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return core.NewError(err, ErrCodeInvalidLimits, nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.budget.CallsMade > 0 {
		return core.NewError(
			errors.New("cannot reconfigure a governor with calls in flight"),
			ErrCodeBudgetBusy,
			map[string]any{"calls_made": g.budget.CallsMade},
		)
	}
	g.budget = budgetFor(limits)
	return nil
}

// Reset clears the counter and restores the initial limit, then reads the
// state back. An unverifiable reset is retried a bounded number of times and
// then reported as ErrConsistencyFault. A done context is returned as is.
func (g *Governor) Reset(ctx context.Context) error {
	log := logger.FromContext(ctx)
	attempt := 1
	err := g.resetOnce()
	if err == nil {
		return nil
	}
	log.Warn("Tool call counter reset not verified", "agent", g.agent, "attempt", attempt, "error", err)
	backoff := retry.WithMaxRetries(resetVerifyAttempts-2, retry.NewConstant(resetVerifyBackoff))
	err = retry.Do(ctx, backoff, func(_ context.Context) error {
		attempt++
		if err := g.resetOnce(); err != nil {
			log.Warn("Tool call counter reset not verified", "agent", g.agent, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ctx.Err()
	}
	log.Error("Tool call counter consistency fault", "agent", g.agent, "error", err)
	return core.NewError(err, ErrCodeConsistencyFault, map[string]any{"agent": g.agent, "attempts": attempt})
}

func (g *Governor) resetOnce() error {
	g.mu.Lock()
	g.budget.CallsMade = 0
	g.budget.CurrentLimit = g.budget.InitialLimit
	if g.afterReset != nil {
		g.afterReset(&g.budget)
	}
	g.mu.Unlock()
	snap := g.Snapshot()
	if snap.CallsMade != 0 || snap.CurrentLimit != snap.InitialLimit {
		return fmt.Errorf("calls_made=%d current_limit=%d after reset", snap.CallsMade, snap.CurrentLimit)
	}
	return nil
}

// ExtendIfWarranted raises the limit once from initial to extended when
// adaptive mode is on and the verdict is poor. It reports whether it extended.
func (g *Governor) ExtendIfWarranted(ctx context.Context, verdict quality.Verdict) bool {
	g.mu.Lock()
	if !g.budget.AdaptiveEnabled || !verdict.IsPoor || g.budget.CurrentLimit != g.budget.InitialLimit ||
		g.budget.ExtendedLimit <= g.budget.InitialLimit {
		g.mu.Unlock()
		return false
	}
	from := g.budget.CurrentLimit
	g.budget.CurrentLimit = g.budget.ExtendedLimit
	to := g.budget.CurrentLimit
	g.mu.Unlock()
	logger.FromContext(ctx).Info("Extending tool call limit after poor results",
		"agent", g.agent, "from", from, "to", to, "quality_score", verdict.QualityScore)
	if g.observer != nil {
		g.observer.LimitExtended(ctx, g.agent, from, to)
	}
	return true
}

// Snapshot returns a copy of the budget. Values may be stale by the time the caller reads them.
func (g *Governor) Snapshot() CallBudget {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budget
}
