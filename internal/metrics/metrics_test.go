package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWithRegistryRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	require.NotNil(t, m.RelaysActive)

	m.RelaysTotal.Inc()
	m.RouteRuleHits.WithLabelValues("main", "lan").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found bool
	for _, f := range families {
		if f.GetName() == "rog_relays_total" {
			found = true
			require.Equal(t, float64(1), f.Metric[0].GetCounter().GetValue())
		}
	}
	require.True(t, found, "rog_relays_total should be registered and incremented")
}

func TestHandlerServesMetrics(t *testing.T) {
	h := Handler()
	require.NotNil(t, h)
}
