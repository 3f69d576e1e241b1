package sendchan

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrChannelClosed            = errors.New("send channel closed")
	ErrHandlerAlreadyRegistered = errors.New("close handler already registered")
	ErrNilHandler               = errors.New("nil close handler")
)

// TransportError is a send the kernel refused. It is not retried and does
// not close the channel; callers usually should.
type TransportError struct {
	Err  error
	Addr netip.AddrPort
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
