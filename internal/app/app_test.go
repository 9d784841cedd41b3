package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/infigaming-com/pubsub-gateway/config"
	"github.com/infigaming-com/pubsub-gateway/gateway"
	"github.com/infigaming-com/pubsub-gateway/observability/metrics"
	"github.com/infigaming-com/pubsub-gateway/web"
	"github.com/infigaming-com/pubsub-gateway/web/middleware"
)

func newTestGateway(t *testing.T, env map[string]string, opts ...Option) *httptest.Server {
	t.Helper()
	base := map[string]string{"BROKER_DRIVER": config.DriverInmem}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	srv := httptest.NewServer(web.NewServer(zap.NewNop(), a.ServerOptions()...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayPublishThenPull(t *testing.T) {
	srv := newTestGateway(t, map[string]string{"PUBLISH_STRATEGY": config.StrategyCollect})

	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(`[{"_id":"a","v":1},{"_id":"b","v":2}]`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gateway.BatchComplete, resp.Trailer.Get(gateway.BatchStatusTrailer))
	_, err = uuid.Parse(resp.Header.Get(middleware.CorrelationIdKey))
	assert.NoError(t, err)

	var outcomes []gateway.Outcome
	require.NoError(t, json.Unmarshal(body, &outcomes))
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a", outcomes[0].ID)
	assert.Equal(t, "b", outcomes[1].ID)

	resp, err = http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	var pulled []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pulled))
	require.NoError(t, resp.Body.Close())
	require.Len(t, pulled, 2)
	assert.Equal(t, outcomes[0].Result, pulled[0][gateway.IDField])
	assert.Equal(t, outcomes[1].Result, pulled[1][gateway.IDField])

	resp, err = http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "[]", string(body), "acknowledged messages are gone")
}

func TestGatewayHealthAndBadRequest(t *testing.T) {
	srv := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/orders", "application/json", strings.NewReader(`{"_id":"a"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	srv := newTestGateway(t, nil, WithMetricOptions(metrics.WithReader(reader)))

	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(`[{"_id":"a"}]`))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{metrics.PublishSuccess, metrics.PullMessages, metrics.AckMessages, middleware.RequestDurationMetric} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.Config{BrokerDriver: "kafka"}, zap.NewNop())
	assert.Error(t, err)
}
