package sendchan

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sambigeara/dgram/pkg/bufpool"
	"github.com/sambigeara/dgram/pkg/dgram"
	"github.com/sambigeara/dgram/pkg/observability/metrics"
	"github.com/sambigeara/dgram/pkg/selector"
	"github.com/sambigeara/dgram/pkg/socket"
)

type sendState int

const (
	stateIdle sendState = iota
	stateCopying
	stateAttempting
	stateAwaitingReadiness
	stateDone
	stateFailed
)

func (s sendState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCopying:
		return "copying"
	case stateAttempting:
		return "attempting"
	case stateAwaitingReadiness:
		return "awaiting_readiness"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// sendOp is one admitted send. The payload is copied into buf once; every
// retry hands the kernel the same bytes.
type sendOp struct {
	err     error
	buf     *bufpool.Buffer
	d       dgram.Datagram
	state   sendState
	retries int
}

func (op *sendOp) fail(err error) {
	op.err = err
	op.state = stateFailed
}

// Send transmits d, waiting for the admission slot and, while the kernel
// would block, for write readiness. The payload is copied once, before the
// first attempt, and is spent when Send returns whatever the outcome.
//
// Send returns ErrChannelClosed if the channel is or becomes closed, a
// *TransportError if the kernel rejects the datagram, or ctx's error if the
// caller gives up first.
func (c *Channel) Send(ctx context.Context, d dgram.Datagram) (err error) {
	defer d.Payload.Release()

	if c.IsClosedForSend() {
		c.metrics.Failed(ctx, metrics.ReasonClosed)
		return ErrChannelClosed
	}

	ctx, span := c.tracer.Start(ctx, "dgram.send", trace.WithAttributes(
		attribute.String("dgram.destination", d.Addr.String()),
		attribute.Int("dgram.size", d.Payload.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, stop := c.bindClose(ctx)
	defer stop()

	if err := c.admission.Acquire(ctx, 1); err != nil {
		err = c.interrupted(ctx, err)
		c.metrics.Failed(ctx, failureReason(err))
		return err
	}
	c.admitted.Store(true)
	defer func() {
		c.admitted.Store(false)
		c.admission.Release(1)
	}()

	buf := c.pool.Acquire()
	defer c.pool.Release(buf)

	return c.run(ctx, &sendOp{d: d, buf: buf})
}

func (c *Channel) run(ctx context.Context, op *sendOp) error {
	span := trace.SpanFromContext(ctx)
	for {
		switch op.state {
		case stateIdle:
			op.state = stateCopying

		case stateCopying:
			n, err := op.d.Payload.ReadTo(op.buf.Space())
			if err != nil {
				op.fail(err)
				continue
			}
			op.buf.Commit(n)
			op.state = stateAttempting

		case stateAttempting:
			c.attempt(op)

		case stateAwaitingReadiness:
			op.retries++
			c.metrics.Retry(ctx)
			if err := c.awaitWritable(ctx); err != nil {
				op.fail(err)
				continue
			}
			op.state = stateAttempting

		case stateDone:
			span.SetAttributes(attribute.Int("dgram.retries", op.retries))
			c.metrics.Sent(ctx, op.buf.Len())
			return nil

		case stateFailed:
			span.SetAttributes(attribute.Int("dgram.retries", op.retries))
			c.metrics.Failed(ctx, failureReason(op.err))
			c.log.Debugw("send failed", "dst", op.d.Addr, "retries", op.retries, "err", op.err)
			return op.err

		default:
			op.fail(fmt.Errorf("invalid send state %d", op.state))
		}
	}
}

func (c *Channel) attempt(op *sendOp) {
	if c.IsClosedForSend() {
		op.fail(ErrChannelClosed)
		return
	}

	res, err := c.sock.AttemptSend(op.buf.Bytes(), op.d.Addr)
	switch {
	case err != nil:
		// A socket torn down mid-attempt is a close, not a transport fault.
		if c.IsClosedForSend() {
			op.fail(ErrChannelClosed)
			return
		}
		op.fail(&TransportError{Addr: op.d.Addr, Err: err})
	case res == socket.Accepted:
		op.state = stateDone
	case res == socket.NotReady:
		op.state = stateAwaitingReadiness
	default:
		op.fail(&TransportError{Addr: op.d.Addr, Err: fmt.Errorf("unexpected send result %s", res)})
	}
}

// awaitWritable arms write interest, parks until it fires and disarms it on
// every path out.
func (c *Channel) awaitWritable(ctx context.Context) error {
	if err := c.sel.SetInterest(c.sock, selector.InterestWrite, true); err != nil {
		return c.waitFailed(ctx, err)
	}
	defer func() {
		if err := c.sel.SetInterest(c.sock, selector.InterestWrite, false); err != nil {
			c.log.Debugw("disarm write interest failed", "err", err)
		}
	}()

	if err := c.sel.Select(ctx, c.sock, selector.InterestWrite); err != nil {
		return c.waitFailed(ctx, err)
	}
	if c.IsClosedForSend() {
		return ErrChannelClosed
	}
	return nil
}

func (c *Channel) waitFailed(ctx context.Context, err error) error {
	if errors.Is(err, selector.ErrClosed) && !c.closed.Load() {
		// Losing the reactor is a channel failure; it still goes through Close
		// so the handler runs once.
		c.Close(fmt.Errorf("selector: %w", err))
		return ErrChannelClosed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return c.interrupted(ctx, err)
	}
	if c.IsClosedForSend() {
		return ErrChannelClosed
	}
	return fmt.Errorf("await writable: %w", err)
}

// interrupted maps a wait cut short by ctx to what the caller sees: closure
// wins over the caller's own cancellation.
func (c *Channel) interrupted(ctx context.Context, err error) error {
	if c.closed.Load() || errors.Is(context.Cause(ctx), ErrChannelClosed) {
		return ErrChannelClosed
	}
	return err
}

// bindClose derives a context that is also cancelled when the channel closes.
func (c *Channel) bindClose(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.closeCtx, func() { cancel(ErrChannelClosed) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// Offer makes a single send attempt without waiting. It returns false if the
// channel is closed, another send holds the admission slot, or the kernel
// does not take the datagram; in those cases the payload is left untouched
// for the caller to retry or drop.
func (c *Channel) Offer(d dgram.Datagram) bool {
	ctx := context.Background()

	if c.IsClosedForSend() || !c.admission.TryAcquire(1) {
		c.metrics.Rejected(ctx)
		return false
	}
	c.admitted.Store(true)
	defer func() {
		c.admitted.Store(false)
		c.admission.Release(1)
	}()

	if c.IsClosedForSend() {
		c.metrics.Rejected(ctx)
		return false
	}

	buf := c.pool.Acquire()
	defer c.pool.Release(buf)

	n, err := d.Payload.CopyTo(buf.Space())
	if err != nil {
		c.log.Debugw("offer rejected", "dst", d.Addr, "err", err)
		c.metrics.Rejected(ctx)
		return false
	}
	buf.Commit(n)

	res, err := c.sock.AttemptSend(buf.Bytes(), d.Addr)
	if err != nil || res != socket.Accepted {
		if err != nil {
			c.log.Debugw("offer attempt failed", "dst", d.Addr, "err", err)
		}
		c.metrics.Rejected(ctx)
		return false
	}

	d.Payload.Release()
	c.metrics.Sent(ctx, n)
	return true
}

func failureReason(err error) string {
	var te *TransportError
	switch {
	case errors.Is(err, ErrChannelClosed):
		return metrics.ReasonClosed
	case errors.As(err, &te):
		return metrics.ReasonTransport
	case errors.Is(err, dgram.ErrPayloadTooLarge):
		return metrics.ReasonTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ReasonCancelled
	default:
		return "other"
	}
}
