//go:build linux

package socket

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

func listenReceiver(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func TestAttemptSendDelivers(t *testing.T) {
	recv, dst := listenReceiver(t)

	u, err := ListenUDP("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer u.Close()

	res, err := u.AttemptSend([]byte("0123456789"), dst)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	require.NoError(t, recv.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, src, err := recv.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(buf[:n]))
	require.Equal(t, u.LocalAddr().String(), src.String())
}

func TestAttemptSendAfterClose(t *testing.T) {
	_, dst := listenReceiver(t)

	u, err := ListenUDP("127.0.0.1:0", Options{})
	require.NoError(t, err)

	require.False(t, u.IsClosed())
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	require.True(t, u.IsClosed())

	_, err = u.AttemptSend([]byte("x"), dst)
	require.ErrorIs(t, err, net.ErrClosed)
}

func TestAttemptSendRejectsInvalidDestination(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer u.Close()

	_, err = u.AttemptSend([]byte("x"), netip.AddrPort{})
	require.Error(t, err)
}

func TestOptionsApplied(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", Options{TTL: 7, WriteBuffer: 64 * 1024})
	require.NoError(t, err)
	defer u.Close()

	ttl, err := ipv4.NewConn(u.conn).TTL()
	require.NoError(t, err)
	require.Equal(t, 7, ttl)
}

func TestSockaddrFamilies(t *testing.T) {
	v4 := netip.MustParseAddrPort("127.0.0.1:9000")
	v6 := netip.MustParseAddrPort("[2001:db8::1]:9000")

	t.Run("v4 socket v4 destination", func(t *testing.T) {
		sa, err := (&UDP{}).sockaddr(v4)
		require.NoError(t, err)
		in4, ok := sa.(*unix.SockaddrInet4)
		require.True(t, ok)
		require.Equal(t, [4]byte{127, 0, 0, 1}, in4.Addr)
		require.Equal(t, 9000, in4.Port)
	})

	t.Run("v4 socket v6 destination", func(t *testing.T) {
		_, err := (&UDP{}).sockaddr(v6)
		require.ErrorIs(t, err, ErrAddressFamily)
	})

	t.Run("v4 socket mapped destination", func(t *testing.T) {
		mapped := netip.AddrPortFrom(netip.AddrFrom16(v4.Addr().As16()), 9000)
		sa, err := (&UDP{}).sockaddr(mapped)
		require.NoError(t, err)
		require.IsType(t, &unix.SockaddrInet4{}, sa)
	})

	t.Run("v6 socket v4 destination is mapped", func(t *testing.T) {
		sa, err := (&UDP{v6: true}).sockaddr(v4)
		require.NoError(t, err)
		in6, ok := sa.(*unix.SockaddrInet6)
		require.True(t, ok)
		require.Equal(t, netip.MustParseAddr("::ffff:127.0.0.1").As16(), in6.Addr)
	})
}

func TestResultString(t *testing.T) {
	require.Equal(t, "accepted", Accepted.String())
	require.Equal(t, "not_ready", NotReady.String())
	require.Equal(t, "unspecified", ResultUnspecified.String())
}

func broadcastOpt(t *testing.T, u *UDP) int {
	t.Helper()

	var (
		v      int
		optErr error
	)
	require.NoError(t, u.raw.Control(func(fd uintptr) {
		v, optErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST)
	}))
	require.NoError(t, optErr)
	return v
}

func TestBroadcastOffByDefault(t *testing.T) {
	u, err := ListenUDP("0.0.0.0:0", Options{})
	require.NoError(t, err)
	defer u.Close()

	require.Zero(t, broadcastOpt(t, u))

	_, err = u.AttemptSend([]byte("hello"), netip.MustParseAddrPort("255.255.255.255:56700"))
	require.ErrorIs(t, err, unix.EACCES)
	require.False(t, u.IsClosed())
}

func TestBroadcastOptIn(t *testing.T) {
	u, err := ListenUDP("0.0.0.0:0", Options{Broadcast: true})
	require.NoError(t, err)
	defer u.Close()

	require.Equal(t, 1, broadcastOpt(t, u))
}
