package socket

import (
	"errors"
	"net/netip"

	"github.com/sambigeara/dgram/pkg/selector"
)

var (
	ErrAddressFamily = errors.New("destination address family not supported by socket")
	ErrUnsupported   = errors.New("non-blocking UDP handle not supported on this platform")
)

// Result is the outcome of a single non-blocking send attempt.
type Result int

const (
	ResultUnspecified Result = iota
	Accepted
	NotReady
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case NotReady:
		return "not_ready"
	default:
		return "unspecified"
	}
}

// Handle is a connectionless transport endpoint. AttemptSend never blocks
// and never transmits part of a datagram: the kernel takes all of b, or
// reports NotReady, or fails.
type Handle interface {
	selector.Selectable
	IsClosed() bool
	AttemptSend(b []byte, to netip.AddrPort) (Result, error)
	Close() error
}

// Options tune a UDP handle. Zero values leave the kernel defaults.
type Options struct {
	TTL         int
	TOS         int
	WriteBuffer int
	// Broadcast permits sends to broadcast addresses. Off by default, so
	// such sends fail with EACCES.
	Broadcast bool
}
