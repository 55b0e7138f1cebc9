package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.WebhooksReceived.WithLabelValues("github", "pull_request").Inc()
	m.WebhooksRejected.WithLabelValues("gitlab", "bad-signature").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "mr_agent_webhooks_received_total" {
			found = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(1), f.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "webhooks_received_total must be registered and collectible")
}

func TestActiveAICallsGaugeTracksSetValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)
	m.ActiveAICalls.Set(3)

	var out dto.Metric
	require.NoError(t, m.ActiveAICalls.Write(&out))
	assert.Equal(t, float64(3), out.GetGauge().GetValue())
}
