package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	Register(r)
	// 重复注册不会 panic。
	Register(r)

	RelaySessions.WithLabelValues("editor").Inc()
	RelayDeliveries.WithLabelValues("pipeline", SuccessLabel).Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(RelaySessions.WithLabelValues("editor")))
	assert.Equal(t, float64(2), testutil.ToFloat64(RelayDeliveries.WithLabelValues("pipeline", SuccessLabel)))

	families, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "pixelbridge_relay_sessions")
	assert.Contains(t, names, "pixelbridge_relay_deliveries_total")
}
