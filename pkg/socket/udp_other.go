//go:build !linux

package socket

import (
	"net"
	"net/netip"
)

// UDP is only available on Linux.
type UDP struct{}

func ListenUDP(string, Options) (*UDP, error) {
	return nil, ErrUnsupported
}

func (*UDP) FD() uintptr { return 0 }

func (*UDP) LocalAddr() net.Addr { return nil }

func (*UDP) AttemptSend([]byte, netip.AddrPort) (Result, error) {
	return ResultUnspecified, ErrUnsupported
}

func (*UDP) Close() error { return nil }

func (*UDP) IsClosed() bool { return true }
