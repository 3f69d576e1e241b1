// Package metrics holds the OpenTelemetry instruments recorded on the
// datagram send path.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sambigeara/dgram/pkg/bufpool"
)

const ScopeName = "github.com/sambigeara/dgram"

// Failure reasons attached to the failures counter.
const (
	ReasonClosed    = "closed"
	ReasonTransport = "transport"
	ReasonCancelled = "cancelled"
	ReasonTooLarge  = "too_large"
)

var reasonKey = attribute.Key("reason")

type Instruments struct {
	sent     metric.Int64Counter
	rejected metric.Int64Counter
	retries  metric.Int64Counter
	failures metric.Int64Counter
	size     metric.Int64Histogram
}

// New creates the send path instruments. A nil provider uses the global one.
func New(mp metric.MeterProvider) (*Instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(ScopeName)

	var (
		in  Instruments
		err error
	)
	if in.sent, err = m.Int64Counter("dgram.sent",
		metric.WithDescription("Datagrams accepted by the kernel")); err != nil {
		return nil, fmt.Errorf("dgram.sent: %w", err)
	}
	if in.rejected, err = m.Int64Counter("dgram.offer.rejected",
		metric.WithDescription("Offers that were not accepted")); err != nil {
		return nil, fmt.Errorf("dgram.offer.rejected: %w", err)
	}
	if in.retries, err = m.Int64Counter("dgram.send.retries",
		metric.WithDescription("Readiness waits after a would-block attempt")); err != nil {
		return nil, fmt.Errorf("dgram.send.retries: %w", err)
	}
	if in.failures, err = m.Int64Counter("dgram.send.failures",
		metric.WithDescription("Sends that returned an error")); err != nil {
		return nil, fmt.Errorf("dgram.send.failures: %w", err)
	}
	if in.size, err = m.Int64Histogram("dgram.payload.size",
		metric.WithUnit("By"),
		metric.WithDescription("Payload size of accepted datagrams")); err != nil {
		return nil, fmt.Errorf("dgram.payload.size: %w", err)
	}
	return &in, nil
}

func (in *Instruments) Sent(ctx context.Context, n int) {
	in.sent.Add(ctx, 1)
	in.size.Record(ctx, int64(n))
}

func (in *Instruments) Rejected(ctx context.Context) {
	in.rejected.Add(ctx, 1)
}

func (in *Instruments) Retry(ctx context.Context) {
	in.retries.Add(ctx, 1)
}

func (in *Instruments) Failed(ctx context.Context, reason string) {
	in.failures.Add(ctx, 1, metric.WithAttributes(reasonKey.String(reason)))
}

// ObservePool reports the pool's in-use and allocated buffer counts as
// gauges until the returned registration is unregistered.
func ObservePool(mp metric.MeterProvider, name string, bp *bufpool.Pool) (metric.Registration, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(ScopeName)

	inUse, err := m.Int64ObservableGauge("dgram.pool.in_use",
		metric.WithDescription("Buffers currently acquired from the pool"))
	if err != nil {
		return nil, fmt.Errorf("dgram.pool.in_use: %w", err)
	}
	allocated, err := m.Int64ObservableGauge("dgram.pool.allocated",
		metric.WithDescription("Buffers allocated by the pool"))
	if err != nil {
		return nil, fmt.Errorf("dgram.pool.allocated: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("pool", name))
	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := bp.Stats()
		o.ObserveInt64(inUse, st.InUse, attrs)
		o.ObserveInt64(allocated, st.Allocated, attrs)
		return nil
	}, inUse, allocated)
}

// Tracer returns the send path tracer. A nil provider uses the global one.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(ScopeName)
}
