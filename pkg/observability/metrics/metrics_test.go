package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sambigeara/dgram/pkg/bufpool"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstrumentsRecord(t *testing.T) {
	r := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(r))

	in, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	in.Sent(ctx, 10)
	in.Sent(ctx, 20)
	in.Retry(ctx)
	in.Rejected(ctx)
	in.Failed(ctx, ReasonClosed)
	in.Failed(ctx, ReasonTransport)
	in.Failed(ctx, ReasonTransport)

	got := collect(t, r)
	require.Equal(t, int64(2), sum(t, got["dgram.sent"]))
	require.Equal(t, int64(1), sum(t, got["dgram.send.retries"]))
	require.Equal(t, int64(1), sum(t, got["dgram.offer.rejected"]))

	failures, ok := got["dgram.send.failures"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byReason := make(map[string]int64)
	for _, dp := range failures.DataPoints {
		v, _ := dp.Attributes.Value(reasonKey)
		byReason[v.AsString()] = dp.Value
	}
	require.Equal(t, map[string]int64{ReasonClosed: 1, ReasonTransport: 2}, byReason)

	hist, ok := got["dgram.payload.size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	require.Equal(t, uint64(2), hist.DataPoints[0].Count)
	require.Equal(t, int64(30), hist.DataPoints[0].Sum)
}

func TestObservePool(t *testing.T) {
	r := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(r))

	bp := bufpool.New(64)
	reg, err := ObservePool(mp, "test", bp)
	require.NoError(t, err)
	defer reg.Unregister() //nolint:errcheck

	b := bp.Acquire()
	got := collect(t, r)

	gauge, ok := got["dgram.pool.in_use"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	require.Equal(t, int64(1), gauge.DataPoints[0].Value)
	name, _ := gauge.DataPoints[0].Attributes.Value(attribute.Key("pool"))
	require.Equal(t, "test", name.AsString())

	bp.Release(b)
	got = collect(t, r)
	gauge, ok = got["dgram.pool.in_use"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Zero(t, gauge.DataPoints[0].Value)
}

func TestTracerUsesProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	_, span := Tracer(tp).Start(context.Background(), "probe")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "probe", spans[0].Name())
	require.Equal(t, ScopeName, spans[0].InstrumentationScope().Name)
}

func TestNilProvidersFallBackToGlobal(t *testing.T) {
	in, err := New(nil)
	require.NoError(t, err)
	in.Sent(context.Background(), 1)

	require.NotNil(t, Tracer(nil))
}
