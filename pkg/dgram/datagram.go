package dgram

import (
	"errors"
	"net/netip"
	"sync/atomic"
)

var (
	ErrPayloadConsumed = errors.New("payload already consumed")
	ErrPayloadTooLarge = errors.New("payload exceeds buffer capacity")
)

// Datagram is a single connectionless message and its destination.
type Datagram struct {
	Payload *Payload
	Addr    netip.AddrPort
}

func New(b []byte, addr netip.AddrPort) Datagram {
	return Datagram{Payload: NewPayload(b), Addr: addr}
}

// Payload holds message bytes that may be read out exactly once. Reading
// copies into a caller buffer; after that the payload is spent, whether or
// not the bytes ever reach the wire. A nil *Payload reads as empty.
type Payload struct {
	b        []byte
	consumed atomic.Bool
}

func NewPayload(b []byte) *Payload {
	return &Payload{b: b}
}

func (p *Payload) Len() int {
	if p == nil || p.consumed.Load() {
		return 0
	}
	return len(p.b)
}

// ReadTo copies the payload into dst and consumes it.
func (p *Payload) ReadTo(dst []byte) (int, error) {
	if p == nil {
		return 0, nil
	}
	if len(dst) < len(p.b) {
		if p.consumed.Load() {
			return 0, ErrPayloadConsumed
		}
		return 0, ErrPayloadTooLarge
	}
	if !p.consumed.CompareAndSwap(false, true) {
		return 0, ErrPayloadConsumed
	}
	return copy(dst, p.b), nil
}

// CopyTo copies the payload into dst without consuming it.
func (p *Payload) CopyTo(dst []byte) (int, error) {
	if p == nil {
		return 0, nil
	}
	if p.consumed.Load() {
		return 0, ErrPayloadConsumed
	}
	if len(dst) < len(p.b) {
		return 0, ErrPayloadTooLarge
	}
	return copy(dst, p.b), nil
}

// Release marks the payload consumed without reading it.
func (p *Payload) Release() {
	if p == nil {
		return
	}
	p.consumed.Store(true)
}

func (p *Payload) Consumed() bool {
	if p == nil {
		return false
	}
	return p.consumed.Load()
}
