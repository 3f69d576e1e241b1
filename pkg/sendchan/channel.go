// Package sendchan implements the outbound side of a datagram socket: a
// channel that admits one send at a time, retries would-block attempts on
// selector readiness, and closes exactly once.
package sendchan

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sambigeara/dgram/pkg/bufpool"
	"github.com/sambigeara/dgram/pkg/observability/metrics"
	"github.com/sambigeara/dgram/pkg/selector"
	"github.com/sambigeara/dgram/pkg/socket"
)

// handlerSlot holds the registered close handler. A nil slot pointer means
// nothing is registered; the invoked sentinel means close already ran.
type handlerSlot struct {
	fn func(error)
}

var invoked = &handlerSlot{}

type closeCause struct {
	err error
}

// Channel is the send side of one datagram socket.
type Channel struct {
	log       *zap.SugaredLogger
	sock      socket.Handle
	sel       selector.Selector
	pool      *bufpool.Pool
	metrics   *metrics.Instruments
	tracer    trace.Tracer
	admission *semaphore.Weighted
	closeCtx  context.Context
	closeFn   context.CancelCauseFunc
	handler   atomic.Pointer[handlerSlot]
	cause     atomic.Pointer[closeCause]
	id        string
	admitted  atomic.Bool
	closed    atomic.Bool
}

type Option func(*options)

type options struct {
	pool *bufpool.Pool
	log  *zap.SugaredLogger
	mp   metric.MeterProvider
	tp   trace.TracerProvider
}

// WithPool sets the buffer pool sends copy payloads into. Defaults to
// bufpool.Default().
func WithPool(bp *bufpool.Pool) Option {
	return func(o *options) { o.pool = bp }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.log = l }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// New returns an open channel writing to sock. The channel drives sel for
// write readiness but owns neither; Close does close sock.
func New(sock socket.Handle, sel selector.Selector, opts ...Option) (*Channel, error) {
	o := options{
		pool: bufpool.Default(),
		log:  zap.S(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	in, err := metrics.New(o.mp)
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	id := uuid.NewString()
	closeCtx, closeFn := context.WithCancelCause(context.Background())

	return &Channel{
		log:       o.log.Named("sendchan").With("chan", id[:8]),
		sock:      sock,
		sel:       sel,
		pool:      o.pool,
		metrics:   in,
		tracer:    metrics.Tracer(o.tp),
		admission: semaphore.NewWeighted(1),
		closeCtx:  closeCtx,
		closeFn:   closeFn,
		id:        id,
	}, nil
}

// ID is a random identifier tagging the channel's log lines.
func (c *Channel) ID() string {
	return c.id
}

// Close closes the channel and the underlying socket. Only the first call
// does anything and returns true; it runs the registered close handler with
// cause. Sends parked on admission or readiness fail with ErrChannelClosed.
func (c *Channel) Close(cause error) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}

	// Late registrants read the cause once they observe the sentinel.
	c.cause.Store(&closeCause{err: cause})
	c.closeFn(ErrChannelClosed)

	if h := c.handler.Swap(invoked); h != nil && h != invoked {
		h.fn(cause)
	}

	if !c.sock.IsClosed() {
		if err := c.sock.Close(); err != nil {
			c.log.Debugw("socket close failed", "err", err)
		}
	}

	c.log.Debugw("channel closed", "cause", cause)
	return true
}

// InvokeOnClose registers fn to run once when the channel closes. If the
// channel has already closed, fn runs immediately with the recorded cause.
// Only one handler may be registered.
func (c *Channel) InvokeOnClose(fn func(error)) error {
	if fn == nil {
		return ErrNilHandler
	}

	if c.handler.CompareAndSwap(nil, &handlerSlot{fn: fn}) {
		return nil
	}

	if c.handler.Load() == invoked {
		fn(c.closeCause())
		return nil
	}

	return ErrHandlerAlreadyRegistered
}

func (c *Channel) closeCause() error {
	if cc := c.cause.Load(); cc != nil {
		return cc.err
	}
	return nil
}

// IsClosedForSend reports whether sends will fail with ErrChannelClosed.
func (c *Channel) IsClosedForSend() bool {
	return c.closed.Load() || c.sock.IsClosed()
}

// IsFull reports whether a send currently holds the admission slot on an
// open channel.
func (c *Channel) IsFull() bool {
	if c.IsClosedForSend() {
		return false
	}
	return c.admitted.Load()
}
