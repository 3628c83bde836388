package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricName(t *testing.T) {
	t.Run("Should add the prefix once", func(t *testing.T) {
		assert.Equal(t, "ragrouter_queries_total", MetricName("queries_total"))
		assert.Equal(t, "ragrouter_queries_total", MetricName("ragrouter_queries_total"))
		assert.Equal(t, "ragrouter_", MetricName(""))
	})
}

func TestMetricNameWithSubsystem(t *testing.T) {
	tests := []struct {
		name      string
		subsystem string
		metric    string
		expected  string
	}{
		{name: "Should join subsystem and name", subsystem: "governor", metric: "denials_total", expected: "ragrouter_governor_denials_total"},
		{name: "Should trim underscores", subsystem: "_cypher_", metric: "validations_total", expected: "ragrouter_cypher_validations_total"},
		{name: "Should allow an empty name", subsystem: "router", metric: "", expected: "ragrouter_router"},
		{name: "Should keep prefixed names", subsystem: "", metric: "ragrouter_existing", expected: "ragrouter_existing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MetricNameWithSubsystem(tt.subsystem, tt.metric))
		})
	}
}
