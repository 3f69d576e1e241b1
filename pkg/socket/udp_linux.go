//go:build linux

package socket

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

var _ Handle = (*UDP)(nil)

// UDP is a bound UDP socket driven through non-blocking sendto(2). The
// descriptor stays owned by the net package; attempts run inside
// RawConn.Write and return without waiting on the runtime poller.
type UDP struct {
	log       *zap.SugaredLogger
	conn      *net.UDPConn
	raw       syscall.RawConn
	closeErr  error
	fd        uintptr
	closeOnce sync.Once
	closed    atomic.Bool
	v6        bool
}

func ListenUDP(addr string, opts Options) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen UDP: %w", err)
	}

	u, err := newUDP(conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return u, nil
}

func newUDP(conn *net.UDPConn, opts Options) (*UDP, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}

	var fd uintptr
	if err := raw.Control(func(f uintptr) { fd = f }); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}

	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	_, v6 := sa.(*unix.SockaddrInet6)

	if err := setBroadcast(raw, opts.Broadcast); err != nil {
		return nil, err
	}
	if err := applyOptions(conn, v6, opts); err != nil {
		return nil, err
	}

	return &UDP{
		log:  zap.S().Named("socket").With("local", conn.LocalAddr().String()),
		conn: conn,
		raw:  raw,
		fd:   fd,
		v6:   v6,
	}, nil
}

// setBroadcast sets SO_BROADCAST explicitly; the net package enables it on
// every UDP socket.
func setBroadcast(raw syscall.RawConn, on bool) error {
	v := 0
	if on {
		v = 1
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, v)
	}); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if sockErr != nil {
		return os.NewSyscallError("setsockopt SO_BROADCAST", sockErr)
	}
	return nil
}

func applyOptions(conn *net.UDPConn, v6 bool, opts Options) error {
	if opts.WriteBuffer > 0 {
		if err := conn.SetWriteBuffer(opts.WriteBuffer); err != nil {
			return fmt.Errorf("set write buffer: %w", err)
		}
	}

	if v6 {
		pc := ipv6.NewConn(conn)
		if opts.TTL > 0 {
			if err := pc.SetHopLimit(opts.TTL); err != nil {
				return fmt.Errorf("set hop limit: %w", err)
			}
		}
		if opts.TOS > 0 {
			if err := pc.SetTrafficClass(opts.TOS); err != nil {
				return fmt.Errorf("set traffic class: %w", err)
			}
		}
		return nil
	}

	pc := ipv4.NewConn(conn)
	if opts.TTL > 0 {
		if err := pc.SetTTL(opts.TTL); err != nil {
			return fmt.Errorf("set ttl: %w", err)
		}
	}
	if opts.TOS > 0 {
		if err := pc.SetTOS(opts.TOS); err != nil {
			return fmt.Errorf("set tos: %w", err)
		}
	}
	return nil
}

func (u *UDP) FD() uintptr {
	return u.fd
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) AttemptSend(b []byte, to netip.AddrPort) (Result, error) {
	if u.closed.Load() {
		return ResultUnspecified, net.ErrClosed
	}

	sa, err := u.sockaddr(to)
	if err != nil {
		return ResultUnspecified, err
	}

	var sendErr error
	if err := u.raw.Write(func(fd uintptr) bool {
		sendErr = unix.Sendto(int(fd), b, unix.MSG_DONTWAIT, sa)
		return true
	}); err != nil {
		return ResultUnspecified, err
	}

	switch {
	case sendErr == nil:
		return Accepted, nil
	case errors.Is(sendErr, unix.EAGAIN), errors.Is(sendErr, unix.ENOBUFS), errors.Is(sendErr, unix.EINTR):
		return NotReady, nil
	default:
		return ResultUnspecified, os.NewSyscallError("sendto", sendErr)
	}
}

func (u *UDP) sockaddr(to netip.AddrPort) (unix.Sockaddr, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("invalid destination %q", to)
	}
	ip := to.Addr().Unmap()
	port := int(to.Port())

	if u.v6 {
		sa := &unix.SockaddrInet6{Port: port, Addr: ip.As16()}
		if zone := ip.Zone(); zone != "" {
			ifi, err := net.InterfaceByName(zone)
			if err != nil {
				return nil, fmt.Errorf("zone %q: %w", zone, err)
			}
			sa.ZoneId = uint32(ifi.Index) //nolint:gosec
		}
		return sa, nil
	}

	if !ip.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrAddressFamily, to)
	}
	return &unix.SockaddrInet4{Port: port, Addr: ip.As4()}, nil
}

func (u *UDP) Close() error {
	u.closeOnce.Do(func() {
		u.closed.Store(true)
		u.closeErr = u.conn.Close()
		u.log.Debugw("socket closed", "err", u.closeErr)
	})
	return u.closeErr
}

func (u *UDP) IsClosed() bool {
	return u.closed.Load()
}
