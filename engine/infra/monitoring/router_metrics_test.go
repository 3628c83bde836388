package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/compozy/ragrouter/engine/cypher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRouterMetrics_Governor(t *testing.T) {
	t.Run("Should count slots, denials and extensions per agent", func(t *testing.T) {
		meter, reader := newTestMeter(t)
		m, err := NewRouterMetrics(meter)
		require.NoError(t, err)
		ctx := t.Context()
		m.SlotAcquired(ctx, "document", 1, 3)
		m.SlotAcquired(ctx, "document", 2, 3)
		m.SlotAcquired(ctx, "graph", 1, 5)
		m.LimitExtended(ctx, "document", 3, 6)
		m.BudgetDenied(ctx, "graph", 5, 5)

		got := collect(t, reader)
		slots := int64Sum(t, got["ragrouter_governor_slots_total"])
		perAgent := map[string]int64{}
		for _, dp := range slots {
			perAgent[attrString(t, dp.Attributes, labelAgent)] = dp.Value
		}
		assert.Equal(t, map[string]int64{"document": 2, "graph": 1}, perAgent)

		denials := int64Sum(t, got["ragrouter_governor_denials_total"])
		require.Len(t, denials, 1)
		assert.Equal(t, "graph", attrString(t, denials[0].Attributes, labelAgent))

		ext := int64Sum(t, got["ragrouter_governor_extensions_total"])
		require.Len(t, ext, 1)
		assert.Equal(t, int64(1), ext[0].Value)

		hist, ok := got["ragrouter_governor_slot_utilization"].Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		var count uint64
		for _, dp := range hist.DataPoints {
			count += dp.Count
		}
		assert.Equal(t, uint64(3), count)
	})

	t.Run("Should label empty agent names as unknown", func(t *testing.T) {
		meter, reader := newTestMeter(t)
		m, err := NewRouterMetrics(meter)
		require.NoError(t, err)
		m.BudgetDenied(t.Context(), "", 1, 1)
		dps := int64Sum(t, collect(t, reader)["ragrouter_governor_denials_total"])
		require.Len(t, dps, 1)
		assert.Equal(t, labelUnknown, attrString(t, dps[0].Attributes, labelAgent))
	})
}

func TestRouterMetrics_Validator(t *testing.T) {
	t.Run("Should split verdicts by acceptance and reason", func(t *testing.T) {
		meter, reader := newTestMeter(t)
		m, err := NewRouterMetrics(meter)
		require.NoError(t, err)
		m.QueryValidated(t.Context(), cypher.Validate("MATCH (n) RETURN n LIMIT 1"))
		m.QueryValidated(t.Context(), cypher.Validate("CREATE (n:Question) RETURN n"))
		m.QueryValidated(t.Context(), cypher.Validate("MATCH (a)-[:X]->(b) DELETE b"))

		byReason := map[string]int64{}
		for _, dp := range int64Sum(t, collect(t, reader)["ragrouter_cypher_validations_total"]) {
			byReason[attrString(t, dp.Attributes, labelReason)] += dp.Value
		}
		assert.Equal(t, int64(1), byReason["none"])
		assert.Equal(t, int64(2), byReason[string(cypher.ReasonForbiddenWriteOp)])
	})
}

func TestRouterMetrics_Routing(t *testing.T) {
	t.Run("Should record routes, outcomes and latency", func(t *testing.T) {
		meter, reader := newTestMeter(t)
		m, err := NewRouterMetrics(meter)
		require.NoError(t, err)
		ctx := t.Context()
		m.RouteChosen(ctx, "BOTH")
		m.QueryCompleted(ctx, "BOTH", 1500*time.Millisecond, nil)
		m.QueryCompleted(ctx, "DOCUMENT", time.Second, errors.New("boom"))

		got := collect(t, reader)
		routes := int64Sum(t, got["ragrouter_router_routes_total"])
		require.Len(t, routes, 1)
		assert.Equal(t, "BOTH", attrString(t, routes[0].Attributes, labelRoute))

		outcomes := map[string]int64{}
		for _, dp := range int64Sum(t, got["ragrouter_router_queries_total"]) {
			outcomes[attrString(t, dp.Attributes, labelOutcome)] += dp.Value
		}
		assert.Equal(t, map[string]int64{outcomeSuccess: 1, outcomeFailure: 1}, outcomes)

		hist, ok := got["ragrouter_router_query_duration_seconds"].Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		var sum float64
		for _, dp := range hist.DataPoints {
			sum += dp.Sum
		}
		assert.InDelta(t, 2.5, sum, 1e-9)
	})

	t.Run("Should ignore events on a nil receiver", func(t *testing.T) {
		var m *RouterMetrics
		assert.NotPanics(t, func() {
			m.SlotAcquired(t.Context(), "document", 1, 3)
			m.QueryValidated(t.Context(), cypher.Verdict{Accepted: true})
			m.QueryCompleted(t.Context(), "GRAPH", time.Second, nil)
		})
	})
}
