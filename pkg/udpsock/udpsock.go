// Package udpsock binds a UDP socket and exposes its outgoing send channel.
package udpsock

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/sambigeara/dgram/pkg/dgram"
	"github.com/sambigeara/dgram/pkg/selector"
	"github.com/sambigeara/dgram/pkg/sendchan"
	"github.com/sambigeara/dgram/pkg/socket"
)

type Socket struct {
	log *zap.SugaredLogger
	udp *socket.UDP
	out *sendchan.Channel
}

// Listen binds addr and wires the socket's sends through sel. The caller runs
// sel's event loop.
func Listen(addr string, sel selector.Selector, opts socket.Options, chOpts ...sendchan.Option) (*Socket, error) {
	udp, err := socket.ListenUDP(addr, opts)
	if err != nil {
		return nil, err
	}

	out, err := sendchan.New(udp, sel, chOpts...)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("outgoing channel: %w", err)
	}

	s := &Socket{
		log: zap.S().Named("udpsock").With("local", udp.LocalAddr().String()),
		udp: udp,
		out: out,
	}
	s.log.Debugw("bound", "chan", out.ID())
	return s, nil
}

// Outgoing is the channel that owns the socket's write side.
func (s *Socket) Outgoing() *sendchan.Channel {
	return s.out
}

func (s *Socket) Send(ctx context.Context, d dgram.Datagram) error {
	return s.out.Send(ctx, d)
}

func (s *Socket) LocalAddr() net.Addr {
	return s.udp.LocalAddr()
}

func (s *Socket) IsClosed() bool {
	return s.out.IsClosedForSend()
}

// Close closes the outgoing channel, which runs its close handler and closes
// the descriptor. Repeated calls are no-ops.
func (s *Socket) Close() error {
	if s.out.Close(nil) {
		s.log.Debugw("closed")
	}
	return nil
}
