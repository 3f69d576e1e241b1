package dgram

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadReadToConsumesOnce(t *testing.T) {
	p := NewPayload([]byte("0123456789"))

	dst := make([]byte, 16)
	n, err := p.ReadTo(dst)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(dst[:n]))
	require.True(t, p.Consumed())
	require.Zero(t, p.Len())

	_, err = p.ReadTo(dst)
	require.ErrorIs(t, err, ErrPayloadConsumed)
	_, err = p.CopyTo(dst)
	require.ErrorIs(t, err, ErrPayloadConsumed)
}

func TestPayloadCopyToLeavesPayloadIntact(t *testing.T) {
	p := NewPayload([]byte("ping"))

	dst := make([]byte, 4)
	for range 3 {
		n, err := p.CopyTo(dst)
		require.NoError(t, err)
		require.Equal(t, "ping", string(dst[:n]))
	}
	require.False(t, p.Consumed())
	require.Equal(t, 4, p.Len())
}

func TestPayloadTooLargeDoesNotConsume(t *testing.T) {
	p := NewPayload(make([]byte, 32))

	_, err := p.ReadTo(make([]byte, 8))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.False(t, p.Consumed())

	_, err = p.CopyTo(make([]byte, 8))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPayloadRelease(t *testing.T) {
	p := NewPayload([]byte("x"))
	p.Release()
	p.Release()
	require.True(t, p.Consumed())

	_, err := p.ReadTo(make([]byte, 1))
	require.ErrorIs(t, err, ErrPayloadConsumed)
}

func TestPayloadConcurrentReadersOnlyOneWins(t *testing.T) {
	p := NewPayload([]byte("race"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.ReadTo(make([]byte, 4)); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}

func TestNewDatagram(t *testing.T) {
	addr := netip.MustParseAddrPort("127.0.0.1:56700")
	d := New([]byte("hello"), addr)

	require.Equal(t, addr, d.Addr)
	require.Equal(t, 5, d.Payload.Len())
}

func TestNilPayloadIsEmpty(t *testing.T) {
	var p *Payload

	require.Zero(t, p.Len())
	require.False(t, p.Consumed())

	n, err := p.CopyTo(make([]byte, 4))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = p.ReadTo(nil)
	require.NoError(t, err)
	require.Zero(t, n)

	p.Release()
}
