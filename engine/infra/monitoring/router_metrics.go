package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/compozy/ragrouter/engine/cypher"
	"github.com/compozy/ragrouter/engine/governor"
	"github.com/compozy/ragrouter/engine/infra/monitoring/metrics"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/compozy/ragrouter/engine/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	labelAgent    = "agent"
	labelRoute    = "route"
	labelOutcome  = "outcome"
	labelAccepted = "accepted"
	labelReason   = "reason"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
	labelUnknown   = "unknown"
)

var (
	_ governor.Observer        = (*RouterMetrics)(nil)
	_ tools.ValidationObserver = (*RouterMetrics)(nil)
	_ orchestrator.Observer    = (*RouterMetrics)(nil)
)

// RouterMetrics records governor, validator and routing events. A nil
// *RouterMetrics is a valid no-op observer.
type RouterMetrics struct {
	slots       metric.Int64Counter
	denials     metric.Int64Counter
	extensions  metric.Int64Counter
	utilization metric.Float64Histogram
	validations metric.Int64Counter
	routes      metric.Int64Counter
	queries     metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewRouterMetrics(meter metric.Meter) (*RouterMetrics, error) {
	m := &RouterMetrics{}
	var err error
	if m.slots, err = counter(meter, "governor", "slots_total", "Tool call slots granted"); err != nil {
		return nil, err
	}
	if m.denials, err = counter(meter, "governor", "denials_total", "Tool calls denied by the budget"); err != nil {
		return nil, err
	}
	if m.extensions, err = counter(meter, "governor", "extensions_total", "Adaptive budget extensions"); err != nil {
		return nil, err
	}
	m.utilization, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("governor", "slot_utilization"),
		metric.WithDescription("Granted slot divided by the current limit"),
		metric.WithExplicitBucketBoundaries(0.2, 0.4, 0.6, 0.8, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create slot utilization histogram: %w", err)
	}
	if m.validations, err = counter(meter, "cypher", "validations_total", "Cypher validator verdicts"); err != nil {
		return nil, err
	}
	if m.routes, err = counter(meter, "router", "routes_total", "Routing decisions by route"); err != nil {
		return nil, err
	}
	if m.queries, err = counter(meter, "router", "queries_total", "Completed questions by route and outcome"); err != nil {
		return nil, err
	}
	m.duration, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("router", "query_duration_seconds"),
		metric.WithDescription("End to end question latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create query duration histogram: %w", err)
	}
	return m, nil
}

func counter(meter metric.Meter, subsystem, name, description string) (metric.Int64Counter, error) {
	full := metrics.MetricNameWithSubsystem(subsystem, name)
	c, err := meter.Int64Counter(full, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("create counter %q: %w", full, err)
	}
	return c, nil
}

func (m *RouterMetrics) SlotAcquired(ctx context.Context, agent string, slot, limit int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(labelAgent, normalize(agent)))
	m.slots.Add(ctx, 1, attrs)
	if limit > 0 {
		m.utilization.Record(ctx, float64(slot)/float64(limit), attrs)
	}
}

func (m *RouterMetrics) BudgetDenied(ctx context.Context, agent string, _, _ int) {
	if m == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String(labelAgent, normalize(agent))))
}

func (m *RouterMetrics) LimitExtended(ctx context.Context, agent string, _, _ int) {
	if m == nil {
		return
	}
	m.extensions.Add(ctx, 1, metric.WithAttributes(attribute.String(labelAgent, normalize(agent))))
}

func (m *RouterMetrics) QueryValidated(ctx context.Context, verdict cypher.Verdict) {
	if m == nil {
		return
	}
	reason := string(verdict.Reason)
	if verdict.Accepted {
		reason = "none"
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelAccepted, strconv.FormatBool(verdict.Accepted)),
		attribute.String(labelReason, normalize(reason)),
	))
}

func (m *RouterMetrics) RouteChosen(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.routes.Add(ctx, 1, metric.WithAttributes(attribute.String(labelRoute, normalize(route))))
}

func (m *RouterMetrics) QueryCompleted(ctx context.Context, route string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	attrs := metric.WithAttributes(
		attribute.String(labelRoute, normalize(route)),
		attribute.String(labelOutcome, outcome),
	)
	m.queries.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

func normalize(v string) string {
	if v == "" {
		return labelUnknown
	}
	return v
}
