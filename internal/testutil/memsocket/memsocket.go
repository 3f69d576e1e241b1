// Package memsocket provides in-memory socket handles, a loopback network and
// a manually driven selector for exercising the send path without the kernel.
package memsocket

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/sambigeara/dgram/pkg/selector"
	"github.com/sambigeara/dgram/pkg/socket"
)

const defaultQueueSize = 256

var (
	ErrUnknownDestination = errors.New("destination not bound")
	ErrTransportClosed    = errors.New("transport closed")
	ErrAddressInUse       = errors.New("address already bound")
)

var fdSeq atomic.Uintptr

type Network struct {
	endpoints map[netip.AddrPort]*endpoint
	selectors []*Selector
	mu        sync.RWMutex
}

type packet struct {
	src     netip.AddrPort
	payload []byte
}

type endpoint struct {
	recvCh    chan packet
	addr      netip.AddrPort
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[netip.AddrPort]*endpoint)}
}

// Attach makes the network fire write interest on sel whenever a receiver
// drains its queue.
func (n *Network) Attach(sel *Selector) {
	n.mu.Lock()
	n.selectors = append(n.selectors, sel)
	n.mu.Unlock()
}

func (n *Network) Bind(addr string) (*Socket, error) {
	return n.BindWithQueue(addr, defaultQueueSize)
}

// BindWithQueue binds addr with a receive queue of the given depth. Sends to
// a full queue report socket.NotReady.
func (n *Network) BindWithQueue(addr string, queueSize int) (*Socket, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", addr, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if ep, ok := n.endpoints[ap]; ok && !ep.closed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}

	ep := &endpoint{
		addr:   ap,
		recvCh: make(chan packet, queueSize),
	}
	n.endpoints[ap] = ep

	s := NewSocket()
	s.net = n
	s.ep = ep
	return s, nil
}

func (n *Network) lookup(addr netip.AddrPort) (*endpoint, bool) {
	n.mu.RLock()
	ep, ok := n.endpoints[addr]
	n.mu.RUnlock()
	if !ok || ep.closed.Load() {
		return nil, false
	}
	return ep, true
}

func (n *Network) unbind(ep *endpoint) {
	n.mu.Lock()
	if curr, ok := n.endpoints[ep.addr]; ok && curr == ep {
		delete(n.endpoints, ep.addr)
	}
	n.mu.Unlock()
}

func (n *Network) send(src, dst netip.AddrPort, b []byte) (socket.Result, error) {
	dest, ok := n.lookup(dst)
	if !ok {
		return socket.ResultUnspecified, fmt.Errorf("%w: %s", ErrUnknownDestination, dst)
	}

	dest.mu.RLock()
	defer dest.mu.RUnlock()
	if dest.closed.Load() {
		return socket.ResultUnspecified, fmt.Errorf("%w: %s", ErrUnknownDestination, dst)
	}

	select {
	case dest.recvCh <- packet{src: src, payload: bytes.Clone(b)}:
		return socket.Accepted, nil
	default:
		return socket.NotReady, nil
	}
}

func (n *Network) drained() {
	n.mu.RLock()
	sels := append([]*Selector(nil), n.selectors...)
	n.mu.RUnlock()
	for _, sel := range sels {
		sel.FireAll(selector.InterestWrite)
	}
}

func (e *endpoint) close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed.Store(true)
		close(e.recvCh)
		e.mu.Unlock()
	})
}

// Step is a scripted outcome for one AttemptSend call.
type Step struct {
	Err    error
	Result socket.Result
}

var (
	StepAccepted = Step{Result: socket.Accepted}
	StepNotReady = Step{Result: socket.NotReady}
)

func StepError(err error) Step {
	return Step{Err: err}
}

var _ socket.Handle = (*Socket)(nil)

// Socket is an in-memory socket.Handle. Scripted steps are consumed first;
// once the script is exhausted a networked socket delivers through its
// Network and a standalone socket accepts everything.
type Socket struct {
	net       *Network
	ep        *endpoint
	onAttempt atomic.Pointer[func()]
	script    []Step
	attempts  []Attempt
	fd        uintptr
	mu        sync.Mutex
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	closes    atomic.Int32
	closed    atomic.Bool
}

// Attempt records the bytes and destination of one AttemptSend call.
type Attempt struct {
	Payload []byte
	To      netip.AddrPort
	// Base is the address of the first byte of the caller's slice.
	Base *byte
}

func NewSocket() *Socket {
	return &Socket{fd: 1000 + fdSeq.Add(1)}
}

func (s *Socket) FD() uintptr {
	return s.fd
}

func (s *Socket) Addr() netip.AddrPort {
	if s.ep == nil {
		return netip.AddrPort{}
	}
	return s.ep.addr
}

// Script appends outcomes for upcoming attempts.
func (s *Socket) Script(steps ...Step) {
	s.mu.Lock()
	s.script = append(s.script, steps...)
	s.mu.Unlock()
}

// OnAttempt installs a hook run inside every attempt, while the attempt is
// counted as in flight.
func (s *Socket) OnAttempt(fn func()) {
	if fn == nil {
		s.onAttempt.Store(nil)
		return
	}
	s.onAttempt.Store(&fn)
}

func (s *Socket) AttemptSend(b []byte, to netip.AddrPort) (socket.Result, error) {
	if s.closed.Load() {
		return socket.ResultUnspecified, ErrTransportClosed
	}

	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxFlight.Load()
		if cur <= prev || s.maxFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if fn := s.onAttempt.Load(); fn != nil {
		(*fn)()
	}

	att := Attempt{Payload: bytes.Clone(b), To: to}
	if len(b) > 0 {
		att.Base = &b[0]
	}

	s.mu.Lock()
	s.attempts = append(s.attempts, att)
	var (
		step     Step
		scripted bool
	)
	if len(s.script) > 0 {
		step, s.script = s.script[0], s.script[1:]
		scripted = true
	}
	s.mu.Unlock()

	if scripted {
		return step.Result, step.Err
	}
	if s.net == nil {
		return socket.Accepted, nil
	}
	return s.net.send(s.ep.addr, to, b)
}

// Attempts returns every attempt made so far.
func (s *Socket) Attempts() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.attempts...)
}

// MaxInFlight is the highest number of overlapping attempts observed.
func (s *Socket) MaxInFlight() int {
	return int(s.maxFlight.Load())
}

// Recv blocks until a datagram arrives or the socket closes.
func (s *Socket) Recv() (netip.AddrPort, []byte, error) {
	if s.ep == nil {
		return netip.AddrPort{}, nil, ErrTransportClosed
	}
	pkt, ok := <-s.ep.recvCh
	if !ok {
		return netip.AddrPort{}, nil, ErrTransportClosed
	}
	s.net.drained()
	return pkt.src, pkt.payload, nil
}

func (s *Socket) Close() error {
	s.closes.Add(1)
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ep != nil {
		s.ep.close()
		s.net.unbind(s.ep)
	}
	return nil
}

// CloseCalls counts Close invocations, including no-op repeats.
func (s *Socket) CloseCalls() int {
	return int(s.closes.Load())
}

func (s *Socket) IsClosed() bool {
	return s.closed.Load()
}
