package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)

	m.RecordReceived("tell", 128)
	m.RecordReceived("tell", 256)
	m.RecordSent("who-reply", 512)
	m.RecordDropped("ttl_expired")
	m.RecordHandler("tell", "ok", 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsReceived.WithLabelValues("tell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("who-reply")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues("ttl_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerInvocations.WithLabelValues("tell", "ok")))
}

func TestSeparateRegistries(t *testing.T) {
	a := NewWith(prometheus.NewRegistry())
	b := NewWith(prometheus.NewRegistry())
	a.RoutedLocal.Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(a.RoutedLocal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RoutedLocal))
}
