package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestExporter(t *testing.T) (*MetricExporter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mc, err := NewMetricExporter(WithServiceName("test-service"), WithEnvironment("test"), WithReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mc.Close(context.Background()) })
	return mc, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// sumOf returns the counter value for the data point carrying key=value.
func sumOf(t *testing.T, m metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("%s has no data point for %s=%s", m.Name, key, value)
	return 0
}

func TestNewMetricExporter(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name: "valid config with HTTP",
			opts: []Option{
				WithServiceName("test-service"),
				WithServiceNamespace("test"),
				WithServiceVersion("1.0.0"),
				WithOTLPEndpoint("localhost:4318"),
				WithEnvironment("test"),
			},
		},
		{
			name: "valid config with gRPC",
			opts: []Option{
				WithServiceName("test-service"),
				WithOTLPEndpoint(""),
				WithOTLPGRPCEndpoint("localhost:4317"),
			},
		},
		{
			name: "empty OTLP endpoint",
			opts: []Option{
				WithServiceName("test-service"),
				WithOTLPEndpoint(""),
			},
			wantErr: true,
		},
		{
			name: "manual reader needs no endpoint",
			opts: []Option{
				WithOTLPEndpoint(""),
				WithReader(sdkmetric.NewManualReader()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc, err := NewMetricExporter(tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, mc.meterProvider)
			assert.NotNil(t, mc.meter)
			assert.NotNil(t, mc.resource)
			// no collector is listening; only the shutdown path matters here
			_ = mc.Close(context.Background())
		})
	}
}

func TestRecordCounter(t *testing.T) {
	mc, reader := newTestExporter(t)
	ctx := context.Background()

	require.NoError(t, mc.RecordCounter(ctx, "test.counter", "A test counter", "1", 2, map[string]string{"component": "api"}))
	require.NoError(t, mc.RecordCounter(ctx, "test.counter", "A test counter", "1", 3, map[string]string{"component": "api"}))
	assert.Error(t, mc.RecordCounter(ctx, "", "A test counter", "1", 1, nil))

	got := collect(t, reader)
	require.Contains(t, got, "test.counter")
	assert.Equal(t, int64(5), sumOf(t, got["test.counter"], "component", "api"))
	assert.Len(t, mc.counters, 1, "instruments are reused")
}

func TestRecordHistogram(t *testing.T) {
	mc, reader := newTestExporter(t)
	ctx := context.Background()

	require.NoError(t, mc.RecordHistogram(ctx, "test.histogram", "A test histogram", "ms", 150, nil))
	require.NoError(t, mc.RecordHistogram(ctx, "test.histogram", "A test histogram", "ms", 50, nil))
	assert.Error(t, mc.RecordHistogram(ctx, "", "A test histogram", "ms", 1, nil))

	got := collect(t, reader)
	require.Contains(t, got, "test.histogram")
	hist, ok := got["test.histogram"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, 200.0, hist.DataPoints[0].Sum)
}

func TestPubsubHooks(t *testing.T) {
	mc, reader := newTestExporter(t)
	ctx := context.Background()
	hooks := mc.PubsubHooks()

	hooks.OnPublish(ctx, "orders", nil)
	hooks.OnPublish(ctx, "orders", nil)
	hooks.OnPublishFail(ctx, "orders", nil, errors.New("boom"))
	hooks.OnPull(ctx, "orders-sub", 7)
	hooks.OnPullTimeout(ctx, "orders-sub")
	hooks.OnAck(ctx, "orders-sub", 7)
	hooks.OnAckFail(ctx, "orders-sub", 3, errors.New("boom"))

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got[PublishSuccess], "topic", "orders"))
	assert.Equal(t, int64(1), sumOf(t, got[PublishFailure], "topic", "orders"))
	assert.Equal(t, int64(7), sumOf(t, got[PullMessages], "subscription", "orders-sub"))
	assert.Equal(t, int64(1), sumOf(t, got[PullTimeout], "subscription", "orders-sub"))
	assert.Equal(t, int64(7), sumOf(t, got[AckMessages], "subscription", "orders-sub"))
	assert.Equal(t, int64(3), sumOf(t, got[AckFailure], "subscription", "orders-sub"))
}
