package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nexusid/eventstore/pkg/observability"
)

func newTestMetrics(t *testing.T) (*observability.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observability.NewMetrics(mp.Meter("eventstore-test"))
	require.NoError(t, err)
	return m, reader
}

func TestNewMetricsRegistersEveryInstrumentWithoutError(t *testing.T) {
	m, reader := newTestMetrics(t)
	require.NotNil(t, m)
	require.NotNil(t, reader)
}

func TestRecordPushOnNilMetricsIsANoOp(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordPush(context.Background(), "cart", time.Millisecond, 0, "ok")
	})
}

func TestRecordProjectionTickOnNilMetricsIsANoOp(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordProjectionTick(context.Background(), "cart_view", 3, time.Second, errors.New("boom"))
	})
}

func TestRecordFanoutOnNilMetricsIsANoOp(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() { m.RecordFanout(context.Background(), 2) })
}

func TestRecordPushProducesCollectibleDataPoints(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordPush(context.Background(), "cart", 10*time.Millisecond, 1, "ok")

	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ScopeMetrics)
}

