package memsocket

import (
	"context"
	"sync"

	"github.com/sambigeara/dgram/pkg/selector"
)

var _ selector.Selector = (*Selector)(nil)

type watchKey struct {
	fd uintptr
	in selector.Interest
}

// Toggle records one SetInterest call.
type Toggle struct {
	FD      uintptr
	In      selector.Interest
	Enabled bool
}

// Selector is a selector.Selector whose readiness is driven by the test:
// Fire wakes an armed interest, or AutoReady fires every arm immediately.
type Selector struct {
	armed     map[watchKey]chan struct{}
	done      chan struct{}
	toggles   []Toggle
	mu        sync.Mutex
	waiters   int
	autoReady bool
	closed    bool
}

func NewSelector() *Selector {
	return &Selector{
		armed: make(map[watchKey]chan struct{}),
		done:  make(chan struct{}),
	}
}

// AutoReady makes every subsequent arm fire at once.
func (s *Selector) AutoReady(on bool) {
	s.mu.Lock()
	s.autoReady = on
	s.mu.Unlock()
}

func (s *Selector) SetInterest(h selector.Selectable, in selector.Interest, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && enabled {
		return selector.ErrClosed
	}

	k := watchKey{fd: h.FD(), in: in}
	s.toggles = append(s.toggles, Toggle{FD: k.fd, In: in, Enabled: enabled})
	if !enabled {
		delete(s.armed, k)
		return nil
	}

	ready := make(chan struct{})
	if s.autoReady {
		close(ready)
	}
	s.armed[k] = ready
	return nil
}

func (s *Selector) Select(ctx context.Context, h selector.Selectable, in selector.Interest) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return selector.ErrClosed
	}
	ready, ok := s.armed[watchKey{fd: h.FD(), in: in}]
	if !ok {
		s.mu.Unlock()
		return selector.ErrNotArmed
	}
	s.waiters++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.waiters--
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return selector.ErrClosed
	}
}

// Fire wakes the armed interest for h and reports whether one was armed.
func (s *Selector) Fire(h selector.Selectable, in selector.Interest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fireLocked(watchKey{fd: h.FD(), in: in})
}

// FireAll wakes every armed interest of kind in.
func (s *Selector) FireAll(in selector.Interest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.armed {
		if k.in == in {
			s.fireLocked(k)
		}
	}
}

func (s *Selector) fireLocked(k watchKey) bool {
	ready, ok := s.armed[k]
	if !ok {
		return false
	}
	select {
	case <-ready:
	default:
		close(ready)
	}
	return true
}

func (s *Selector) Armed(h selector.Selectable, in selector.Interest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[watchKey{fd: h.FD(), in: in}]
	return ok
}

// Waiters is the number of goroutines parked in Select.
func (s *Selector) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// Toggles returns the SetInterest history for h.
func (s *Selector) Toggles(h selector.Selectable) []Toggle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Toggle
	for _, t := range s.toggles {
		if t.FD == h.FD() {
			out = append(out, t)
		}
	}
	return out
}

func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}
