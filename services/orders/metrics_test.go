package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func TestCheckoutMetricsRecord(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewCheckoutMetrics(mp.Meter("test"))
	require.NoError(t, err)

	m.Record(ctx, OutcomeSuccess, 12*time.Millisecond)
	m.Record(ctx, OutcomeSuccess, 8*time.Millisecond)
	m.Record(ctx, OutcomeConflict, 3*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "checkout_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[outcome.AsString()] = dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{OutcomeSuccess: 2, OutcomeConflict: 1}, counts)
}

func TestCheckoutMetricsNilIsNoop(t *testing.T) {
	var m *CheckoutMetrics
	assert.NotPanics(t, func() { m.Record(context.Background(), OutcomeError, time.Millisecond) })
}

func TestCheckoutRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewCheckoutMetrics(mp.Meter("test"))
	require.NoError(t, err)

	store := NewMemoryStore()
	uc := NewOrderUseCase(NewMemoryRepositories(store), nil, m, noop.NewTracerProvider().Tracer("test"), zap.NewNop())
	_, err = uc.Checkout(ctx, "nobody")
	require.ErrorIs(t, err, ErrCartNotFound)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	found := false
	for _, md := range rm.ScopeMetrics[0].Metrics {
		if md.Name != "checkout_total" {
			continue
		}
		sum := md.Data.(metricdata.Sum[int64])
		require.Len(t, sum.DataPoints, 1)
		outcome, _ := sum.DataPoints[0].Attributes.Value("outcome")
		assert.Equal(t, OutcomeCartNotFound, outcome.AsString())
		found = true
	}
	assert.True(t, found)
}

func TestServerMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := NewServerMetrics(registry, "orders")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/orders/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/api/orders/1", "/api/orders/2", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	// rota parametrizada agrega os IDs
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/orders/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmatched", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Requests))
}
