package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

func Test_Counter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClient(reg)

	c.Counter(metrickeys.FlowRetry, metrics.Tags{metrickeys.EventType: "Wakeup"}, 1)
	c.Counter(metrickeys.FlowRetry, metrics.Tags{metrickeys.EventType: "Wakeup"}, 2)
	c.Counter(metrickeys.FlowRetry, metrics.Tags{metrickeys.EventType: "StartFlow"}, 1)

	v := c.c.counters["flow_retry_total"]
	require.NotNil(t, v)
	require.Equal(t, 3.0, testutil.ToFloat64(v.c.WithLabelValues("Wakeup")))
	require.Equal(t, 1.0, testutil.ToFloat64(v.c.WithLabelValues("StartFlow")))
}

func Test_WithTagsMergesLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClient(reg).WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})

	c.Gauge(metrickeys.FiberCacheSize, metrics.Tags{}, 4)

	count, err := testutil.GatherAndCount(reg, "corda_flow_fiber_cache_size")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	v := c.(*client).c.gauges["flow_fiber_cache_size"]
	require.Equal(t, []string{"backend"}, v.labels)
	require.Equal(t, 4.0, testutil.ToFloat64(v.c.WithLabelValues("sqlite")))
}

func Test_MismatchedLabelsDoNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClient(reg)

	c.Counter("x", metrics.Tags{"a": "1"}, 1)
	require.NotPanics(t, func() {
		c.Counter("x", metrics.Tags{"b": "2"}, 1)
		c.Counter("x", nil, 1)
	})

	v := c.c.counters["x_total"]
	require.Equal(t, 2.0, testutil.ToFloat64(v.c.WithLabelValues("")))
}

func Test_TimingAndDistribution(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClient(reg)

	c.Timing(metrickeys.PipelineExecution, nil, 20*time.Millisecond)
	c.Distribution("flow.batch.size", nil, 3)

	count, err := testutil.GatherAndCount(reg, "corda_flow_pipeline_execution_time_seconds", "corda_flow_batch_size")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func Test_SharedRegistryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	NewClient(reg).Counter("shared", nil, 1)
	c2 := NewClient(reg)
	c2.Counter("shared", nil, 1)

	require.Equal(t, 2.0, testutil.ToFloat64(c2.c.counters["shared_total"].c.WithLabelValues()))
}
