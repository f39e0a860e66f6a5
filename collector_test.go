package eventbus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorGathersBusState(t *testing.T) {
	bus := TestBus()
	var calls []string
	require.NoError(t, bus.Register(&defaultPrioritySub{calls: &calls}))
	require.NoError(t, bus.PostSticky(sessionStarted{User: "m"}))

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, RegisterCollector(registry, bus))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			values[mf.GetName()] += m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, values["eventbus_event_types"])
	assert.Equal(t, 1.0, values["eventbus_subscriptions"])
	assert.Equal(t, 1.0, values["eventbus_subscribers"])
	assert.Equal(t, 1.0, values["eventbus_sticky_events"])
	// Background and async queues are empty and reported as zero.
	assert.Contains(t, values, "eventbus_dispatcher_queue_depth")
}

func TestRegisterCollectorDuplicate(t *testing.T) {
	bus := TestBus()
	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, RegisterCollector(registry, bus))
	// Same bus again: the registry rejects the duplicate collector and
	// the aggregated error reports it.
	err := RegisterCollector(registry, bus)
	assert.Error(t, err)
}
